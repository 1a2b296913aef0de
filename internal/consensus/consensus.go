// Package consensus reduces a finished deliberation into the structured
// action plan. The leader persona produces one final completion; a strict
// line-pattern parser lifts numbered items out of it, with one corrective
// re-request before missing fields degrade to "unspecified".
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/common/logger"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
)

// ErrSynthesisFailed is returned when the leader completion fails twice.
// The run is fatal and produces no plan.
var ErrSynthesisFailed = errors.New("consensus synthesis failed")

// DialFunc returns a chat client for the given model name.
type DialFunc func(model string) (llm.AgentClient, error)

// Input is everything the synthesizer needs from a finished deliberation.
type Input struct {
	Case      model.Case
	Team      model.TeamConfiguration
	Messages  []model.Message
	Config    model.RunConfig
	LastRound int
}

type Synthesizer struct {
	dial DialFunc
	cfg  config.DeliberationConfig
}

func NewSynthesizer(dial DialFunc, cfg config.DeliberationConfig) *Synthesizer {
	return &Synthesizer{dial: dial, cfg: cfg}
}

// Synthesize produces the consensus plan and the leader's final message.
// The message closes the final round of the transcript; its content is
// the synthesis text the plan was parsed from.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*model.ConsensusPlan, model.Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		PersonaID: &in.Team.Leader.ID,
		Component: "consensus",
	})

	conversation := buildConversation(in)

	text, err := s.complete(ctx, in, conversation)
	if err != nil {
		return nil, model.Message{}, err
	}

	items, defects := ParsePlan(text, in.Team)
	corrected := len(defects) > 0
	if corrected {
		slog.InfoContext(ctx, "action plan incomplete, issuing corrective request",
			"defects", strings.Join(defects, "; "))

		conversation = append(conversation,
			llm.Message{Role: "assistant", Content: text},
			llm.Message{Role: "user", Content: correctivePrompt(defects)},
		)
		reissued, err := s.complete(ctx, in, conversation)
		if err != nil {
			slog.WarnContext(ctx, "corrective synthesis failed, keeping first attempt", "error", err)
		} else {
			if newItems, newDefects := ParsePlan(reissued, in.Team); len(newItems) > 0 && len(newDefects) <= len(defects) {
				text, items = reissued, newItems
			}
		}
	}

	plan := finalizePlan(text, items, in.Team)

	msg := model.Message{
		Round:     in.LastRound,
		PersonaID: in.Team.Leader.ID,
		Position:  nextPosition(in.Messages, in.LastRound),
		Content:   text,
	}

	slog.InfoContext(ctx, "consensus synthesized",
		"action_items", len(plan.Items),
		"corrected", corrected)

	return plan, msg, nil
}

// complete runs the leader completion with one retry. Two failures make
// the synthesis fatal.
func (s *Synthesizer) complete(ctx context.Context, in Input, conversation []llm.Message) (string, error) {
	client, err := s.dial(in.Team.Leader.Model.Name)
	if err != nil {
		return "", fmt.Errorf("%w: dialing model %q: %v", ErrSynthesisFailed, in.Team.Leader.Model.Name, err)
	}

	req := llm.AgentRequest{
		Messages:  conversation,
		MaxTokens: in.Config.MaxTokens,
	}
	if in.Config.Temperature > 0 {
		req.Temperature = &in.Config.Temperature
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx := ctx
		if s.cfg.TurnTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
			defer cancel()
		}

		resp, err := client.ChatWithTools(callCtx, req)
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return resp.Content, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		slog.WarnContext(ctx, "synthesis completion failed", "attempt", attempt+1, "error", err)

		if ctx.Err() != nil || !llm.IsRetryable(ctx, err) {
			break
		}
	}

	return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, lastErr)
}

const synthesisDemand = "The deliberation is complete. Produce the final consensus in markdown. " +
	"The Recommendation section must be a numbered action plan (3-7 items), and every item must carry " +
	"these labeled lines: Owner:, Deadline:, Tools/Resources:, Success Metric:, Risk & Mitigation:."

// buildConversation lays out the leader's final completion: the case and
// roster briefing, the visible discussion as per-speaker messages with the
// leader's own interims as assistant turns, then the synthesis demand.
func buildConversation(in Input) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.Messages)+3)
	msgs = append(msgs,
		llm.Message{Role: "system", Content: persona.RenderSystemPrompt(in.Team.Leader)},
		llm.Message{Role: "user", Content: buildBriefing(in)},
	)

	for _, m := range in.Messages {
		if m.Skipped {
			continue
		}
		if m.PersonaID == in.Team.Leader.ID {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Content})
			continue
		}
		name := m.PersonaID
		if p, ok := in.Team.Find(m.PersonaID); ok {
			name = p.Title
		}
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Name:    llm.SanitizeName(name),
			Content: m.Content,
		})
	}

	return append(msgs, llm.Message{Role: "user", Content: synthesisDemand})
}

func buildBriefing(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agenda:\n%s\n", strings.TrimSpace(in.Case.Agenda))

	if len(in.Case.Questions) > 0 {
		b.WriteString("\nAgenda questions:\n")
		for i, q := range in.Case.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if len(in.Case.Rules) > 0 {
		b.WriteString("\nAgenda rules:\n")
		for _, r := range in.Case.Rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	b.WriteString("\nTeam:\n")
	fmt.Fprintf(&b, "- %s (%s), leader\n", in.Team.Leader.Title, in.Team.Leader.ID)
	for _, sp := range in.Team.Specialists {
		fmt.Fprintf(&b, "- %s (%s)\n", sp.Title, sp.ID)
	}

	return b.String()
}

func correctivePrompt(defects []string) string {
	return fmt.Sprintf(
		"Your action plan is incomplete: %s. Re-issue the COMPLETE final consensus with a numbered action plan "+
			"(3-7 items) where EVERY item explicitly includes Owner:, Deadline:, Tools/Resources:, "+
			"Success Metric:, and Risk & Mitigation: lines.",
		strings.Join(defects, "; "))
}

// finalizePlan fills remaining gaps with "unspecified" and guarantees at
// least one item so completed runs always carry a plan.
func finalizePlan(text string, items []model.ActionItem, team model.TeamConfiguration) *model.ConsensusPlan {
	if len(items) == 0 {
		items = []model.ActionItem{{
			Step:     fallbackStep(text),
			Owner:    model.OwnerLeader,
			Deadline: model.Unspecified,
			Tools:    model.Unspecified,
			Metric:   model.Unspecified,
			Risk:     model.Unspecified,
		}}
	}

	for i := range items {
		items[i].Owner = ResolveOwner(items[i].Owner, team)
		fillUnspecified(&items[i])
	}

	return &model.ConsensusPlan{Items: items, Summary: text}
}

func fillUnspecified(item *model.ActionItem) {
	for _, f := range []*string{&item.Step, &item.Deadline, &item.Tools, &item.Metric, &item.Risk} {
		if strings.TrimSpace(*f) == "" {
			*f = model.Unspecified
		}
	}
}

// fallbackStep picks the first substantive line of the synthesis text.
func fallbackStep(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*- "))
		if line != "" {
			return logger.Truncate(line, 200)
		}
	}
	return "review the panel summary"
}

func nextPosition(msgs []model.Message, round int) int {
	n := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Round != round {
			break
		}
		n++
	}
	return n
}
