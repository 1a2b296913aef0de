package meeting

import (
	"fmt"
	"strings"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
)

// buildTurnMessages assembles the conversation for one turn: the persona's
// system prompt, a briefing with the agenda and evidence, the discussion so
// far as per-speaker messages, and the round instruction. The persona's own
// prior contributions come back as assistant turns; every other panelist
// speaks as a named user. Skipped turns never appear.
func (o *Orchestrator) buildTurnMessages(in Input, ev []model.EvidenceSnippet, prior []model.Message, p model.AgentPersona, round, rounds int, interim bool) []llm.Message {
	msgs := make([]llm.Message, 0, len(prior)+3)
	msgs = append(msgs,
		llm.Message{Role: "system", Content: persona.RenderSystemPrompt(p)},
		llm.Message{Role: "user", Content: buildBriefing(in.Case, ev)},
	)

	for _, m := range visible(prior) {
		if m.PersonaID == p.ID {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Content})
			continue
		}
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Name:    llm.SanitizeName(speakerTitle(in.Team, m.PersonaID)),
			Content: m.Content,
		})
	}

	return append(msgs, llm.Message{Role: "user", Content: o.roundInstruction(round, rounds, interim)})
}

// buildBriefing lays out the case context every turn sees: agenda, agenda
// questions and rules, and the evidence snippets.
func buildBriefing(c model.Case, ev []model.EvidenceSnippet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agenda:\n%s\n", strings.TrimSpace(c.Agenda))

	if len(c.Questions) > 0 {
		b.WriteString("\nAgenda questions:\n")
		for i, q := range c.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}

	if len(c.Rules) > 0 {
		b.WriteString("\nAgenda rules:\n")
		for _, r := range c.Rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if len(ev) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, s := range ev {
			fmt.Fprintf(&b, "- [%s] %s: %s (%s)\n", s.Kind, s.Title, s.Summary, s.Locator)
		}
	}

	return b.String()
}

func (o *Orchestrator) roundInstruction(round, rounds int, interim bool) string {
	if !interim {
		return fmt.Sprintf("Round %d of %d. Provide your actionable advice now. Be concise.", round+1, rounds)
	}

	instruction := fmt.Sprintf(
		"Round %d of %d is complete. As the leader, summarize the team's emerging consensus, "+
			"note disagreements that still need resolution, and direct what each specialist should address next round.",
		round+1, rounds)
	if o.cfg.TerminationMarker != "" {
		instruction += fmt.Sprintf(
			" If the team has fully converged and further rounds are unnecessary, include the exact phrase %q.",
			o.cfg.TerminationMarker)
	}
	return instruction
}

func speakerTitle(team model.TeamConfiguration, personaID string) string {
	if p, ok := team.Find(personaID); ok {
		return p.Title
	}
	return personaID
}

// visible filters skip annotations out of the conversation.
func visible(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Skipped {
			continue
		}
		out = append(out, m)
	}
	return out
}
