// Package transcript renders finished runs into session artifacts: a
// human-readable markdown transcript and a machine-readable JSON dump,
// both derived from the same RunRecord.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"consilium.app/panel/internal/model"
)

// RenderMarkdown lays out the run as a readable transcript: the case,
// clarifications, evidence, the discussion round by round, and the
// consensus plan.
func RenderMarkdown(rec *model.RunRecord) string {
	var b strings.Builder

	b.WriteString("# Consilium Panel Transcript\n\n")

	fmt.Fprintf(&b, "## Agenda\n\n%s\n", strings.TrimSpace(rec.Case.Agenda))

	if len(rec.Case.Questions) > 0 {
		b.WriteString("\n### Agenda questions\n\n")
		for i, q := range rec.Case.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if len(rec.Case.Rules) > 0 {
		b.WriteString("\n### Agenda rules\n\n")
		for _, r := range rec.Case.Rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if answered := rec.Exchange.Answered(); len(answered) > 0 {
		b.WriteString("\n## Clarifications\n\n")
		for _, qa := range answered {
			fmt.Fprintf(&b, "- %s\n  Answer: %s\n", qa.Question, qa.Answer)
		}
	}

	if len(rec.Evidence) > 0 {
		b.WriteString("\n## Evidence\n\n")
		for _, ev := range rec.Evidence {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n  %s\n", ev.Kind, ev.Title, ev.Locator, ev.Summary)
		}
	}

	if len(rec.Messages) > 0 {
		b.WriteString("\n## Discussion\n")
		round := -1
		for _, m := range rec.Messages {
			if m.Round != round {
				round = m.Round
				fmt.Fprintf(&b, "\n### Round %d\n", round+1)
			}
			fmt.Fprintf(&b, "\n#### %s\n\n", speakerTitle(rec.Team, m.PersonaID))
			if m.Skipped {
				b.WriteString("_Turn skipped after a failed retry._\n")
				continue
			}
			b.WriteString(strings.TrimSpace(m.Content))
			b.WriteString("\n")
		}
	}

	if rec.Plan != nil {
		b.WriteString("\n## Consensus Summary\n\n")
		b.WriteString(strings.TrimSpace(rec.Plan.Summary))
		b.WriteString("\n")

		if len(rec.Plan.Items) > 0 {
			b.WriteString("\n## Action Items\n\n")
			for i, item := range rec.Plan.Items {
				fmt.Fprintf(&b, "%d. %s\n", i+1, item.Step)
				fmt.Fprintf(&b, "   - Owner: %s\n", item.Owner)
				fmt.Fprintf(&b, "   - Deadline: %s\n", item.Deadline)
				fmt.Fprintf(&b, "   - Tools/Resources: %s\n", item.Tools)
				fmt.Fprintf(&b, "   - Success Metric: %s\n", item.Metric)
				fmt.Fprintf(&b, "   - Risk & Mitigation: %s\n", item.Risk)
			}
		}
	}

	if rec.Status == model.RunStatusFailed && rec.FailureReason != "" {
		fmt.Fprintf(&b, "\n## Failure\n\n%s\n", rec.FailureReason)
	}

	return b.String()
}

// RenderJSON dumps the full record, indented for humans who open it.
func RenderJSON(rec *model.RunRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run record: %w", err)
	}
	return data, nil
}

func speakerTitle(team model.TeamConfiguration, personaID string) string {
	if p, ok := team.Find(personaID); ok {
		return p.Title
	}
	return personaID
}
