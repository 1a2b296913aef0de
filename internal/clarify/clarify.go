// Package clarify elicits clarifying questions for a case before a run
// starts. It is a two-phase protocol: Suggest proposes questions, the
// caller gathers answers out of band, and Apply folds the answered pairs
// back into the case. No state is held between the phases, and a failed
// Suggest never blocks a run.
package clarify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/internal/model"
)

const intakeSystemPrompt = "You are a domain intake assistant for a multi-agent advisor. " +
	"Read the user's case description and draft concise clarifying questions to remove ambiguity " +
	"and capture missing critical details for the specified domain. Do not answer the questions. " +
	"Return exactly the requested number of questions with no preamble or commentary."

// questionList is the structured-output schema for a Suggest call.
type questionList struct {
	Questions []string `json:"questions" jsonschema_description:"Clarifying questions for the case, most important first"`
}

// Assistant generates clarifying questions with a single structured
// completion per case.
type Assistant struct {
	client       llm.Client
	domain       string
	maxQuestions int
}

// NewAssistant builds a clarity assistant. A nil client disables
// suggestion entirely; Suggest then returns no questions.
func NewAssistant(client llm.Client, domain string, maxQuestions int) *Assistant {
	if maxQuestions < 0 {
		maxQuestions = 0
	}
	return &Assistant{
		client:       client,
		domain:       domain,
		maxQuestions: maxQuestions,
	}
}

// Suggest returns at most the configured number of clarifying questions
// for the case. Any completion failure degrades to an empty result with a
// warning log; callers never wait on a retry.
func (a *Assistant) Suggest(ctx context.Context, c model.Case) []string {
	if a.client == nil || a.maxQuestions == 0 {
		return nil
	}

	req := llm.Request{
		SystemPrompt: intakeSystemPrompt,
		UserPrompt: fmt.Sprintf(
			"Domain/category: %s\n\nCase description:\n\n%s\n\nReturn exactly %d clarifying questions, numbered 1..%d.",
			a.domain, c.Agenda, a.maxQuestions, a.maxQuestions),
		SchemaName:  "clarifying_questions",
		Schema:      llm.GenerateSchema[questionList](),
		Temperature: llm.Temp(0.3), // Low temp for focused questions
	}

	var result questionList
	if _, err := a.client.Chat(ctx, req, &result); err != nil {
		slog.WarnContext(ctx, "clarifying question generation failed", "error", err)
		return nil
	}

	return ParseQuestions(strings.Join(result.Questions, "\n"), a.maxQuestions)
}

// ParseQuestions extracts clean questions from completion output. Leading
// numbering ("1.", "- ", "• ") is stripped, blanks and duplicates are
// dropped, and the result is capped at max.
func ParseQuestions(content string, max int) []string {
	if max <= 0 {
		return nil
	}

	var questions []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] >= '0' && line[0] <= '9' {
			if _, rest, ok := strings.Cut(line, "."); ok {
				line = strings.TrimSpace(rest)
			}
		}
		for _, prefix := range []string{"- ", "• "} {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(line[len(prefix):])
			}
		}
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		questions = append(questions, line)
		if len(questions) == max {
			break
		}
	}

	return questions
}

// Apply returns a copy of the case whose agenda carries the answered
// clarification pairs verbatim. Unanswered questions are discarded; an
// exchange with no answers leaves the case untouched.
func Apply(c model.Case, ex model.ClarifyingExchange) model.Case {
	answered := ex.Answered()
	if len(answered) == 0 {
		return c
	}

	var b strings.Builder
	b.WriteString(c.Agenda)
	b.WriteString("\n\nClarifications provided by user:\n")
	for i, qa := range answered {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s\n  Answer: %s", qa.Question, qa.Answer)
	}

	out := c
	out.Agenda = b.String()
	return out
}
