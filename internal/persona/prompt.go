package persona

import (
	"fmt"

	"consilium.app/panel/internal/model"
)

// Prompt contracts carried from the original advisor system. The leader
// suffix pins the shape of the final consensus; the member suffix keeps
// specialist advice concrete. Both start with a space so they append
// cleanly to a goal sentence.
const (
	goalSuffixLead = " Produce a final consensus under the headings: Assumptions; Options (pros/cons); Recommendation; " +
		"Risks & Mitigations; Next Steps. The Recommendation MUST be a short numbered action plan (3-7 items). " +
		"For EACH action, include these fields explicitly: Action (strong verb), Owner, Deadline (date or timeframe), " +
		"Steps (how to execute), Tools/Resources (links if mentioned), Success Metric (target), Risk & Mitigation. " +
		"Avoid vague language (no 'leverage', 'optimize' without details). Be concrete and succinct."

	goalSuffixMember = " Provide concrete, verifiable details; quantify where possible; explicitly state uncertainty; " +
		"cite sources when literature/search is enabled. Focus on advising, not just critiquing: " +
		"propose specific actions with rationale, offer alternatives and tradeoffs, and suggest next steps."

	// ActionabilityRule is appended to every agenda and repeated in the
	// synthesis prompt.
	ActionabilityRule = "Recommendation must be a numbered action plan (3-7 items). For each action, specify: Action, Owner, " +
		"Deadline, Steps, Tools/Resources, Success Metric, Risk & Mitigation. Avoid vague language."

	// AdviceRule keeps specialists advising rather than only critiquing.
	AdviceRule = "Advisors must provide actionable advice (specific actions and why), not just critique. " +
		"Include at least one concrete recommended action and an alternative with tradeoffs, when applicable."
)

// RenderSystemPrompt builds the system prompt for one persona. Leaders
// and specialists share the template and differ only in the goal suffix
// and appended rules.
func RenderSystemPrompt(p model.AgentPersona) string {
	base := fmt.Sprintf("You are %s. Expertise: %s. Goal: %s.", p.Title, p.Expertise, p.Goal)
	if p.Role == model.RoleLeader {
		return base + goalSuffixLead + " " + ActionabilityRule
	}
	return base + goalSuffixMember + " " + AdviceRule + " " + ActionabilityRule
}

// AgendaRules returns the case rules with the actionability and advice
// rules always appended.
func AgendaRules(rules []string) []string {
	out := make([]string, 0, len(rules)+2)
	out = append(out, rules...)
	out = append(out, ActionabilityRule, AdviceRule)
	return out
}
