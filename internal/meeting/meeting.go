// Package meeting drives the multi-round deliberation: specialists speak
// in team order within each round, the leader interjects interim
// syntheses between rounds, and an explicit marker in an interim lets the
// panel stop early. The final consensus completion is not produced here;
// the orchestrator hands its ordered message log to the synthesizer.
package meeting

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
)

// ErrRoundFailed is returned when two consecutive rounds pass with no
// specialist responding. The run is fatal at that point.
var ErrRoundFailed = errors.New("deliberation round failed")

// TurnError wraps a single persona turn failure with its position.
// Turn failures are non-fatal; the turn is retried once with a shortened
// context and then skipped.
type TurnError struct {
	PersonaID string
	Round     int
	Retryable bool
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed for %s in round %d: %v", e.PersonaID, e.Round, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// DialFunc returns a chat client for the given model name. The
// orchestrator dials per persona so model overrides take effect.
type DialFunc func(model string) (llm.AgentClient, error)

// Input carries everything one deliberation needs. The case is expected
// to already include clarifications and augmented agenda rules.
type Input struct {
	Case     model.Case
	Team     model.TeamConfiguration
	Evidence []model.EvidenceSnippet
	Config   model.RunConfig
}

// Outcome is the ordered message log plus where deliberation stopped.
type Outcome struct {
	Messages   []model.Message
	LastRound  int
	Terminated bool // the leader's interim contained the termination marker
}

type Orchestrator struct {
	dial DialFunc
	cfg  config.DeliberationConfig
}

func NewOrchestrator(dial DialFunc, cfg config.DeliberationConfig) *Orchestrator {
	return &Orchestrator{dial: dial, cfg: cfg}
}

// Deliberate runs the configured rounds and returns the message log.
// Cancellation is honored at round boundaries only; a cancelled run
// returns an error and its partial log is discarded by the caller.
func (o *Orchestrator) Deliberate(ctx context.Context, in Input) (*Outcome, error) {
	rounds := in.Config.Rounds
	if rounds < 1 {
		rounds = 1
	}

	out := &Outcome{}
	failedRounds := 0

	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("deliberation cancelled before round %d: %w", round, err)
		}

		span := logger.StartSpan(ctx, "meeting.round")
		roundCtx := logger.WithLogFields(span.Context(), logger.LogFields{
			Round:     logger.Ptr(round),
			Component: "meeting",
		})

		succeeded := o.runRound(roundCtx, in, out, round, rounds)
		span.End()

		out.LastRound = round

		if succeeded == 0 {
			failedRounds++
			slog.WarnContext(roundCtx, "round completed with no specialist responses",
				"consecutive_failed_rounds", failedRounds)
			if failedRounds >= 2 {
				return nil, fmt.Errorf("%w: rounds %d and %d had no specialist responses", ErrRoundFailed, round-1, round)
			}
			continue
		}
		failedRounds = 0

		// Interim synthesis between rounds. The final round's leader
		// message is the consensus synthesis, produced downstream.
		if round == rounds-1 || !o.interimEnabled(in.Config) {
			continue
		}
		interim, ok := o.runTurn(roundCtx, in, out.Messages, in.Team.Leader, round, rounds, true)
		out.Messages = append(out.Messages, interim)
		if ok && o.containsMarker(interim.Content) {
			slog.InfoContext(roundCtx, "termination marker found, ending deliberation early",
				"round", round)
			out.Terminated = true
			return out, nil
		}
	}

	return out, nil
}

func (o *Orchestrator) interimEnabled(cfg model.RunConfig) bool {
	return !cfg.Fast && cfg.InterimSynthesis
}

func (o *Orchestrator) containsMarker(content string) bool {
	marker := o.cfg.TerminationMarker
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(marker))
}

// runRound executes every specialist turn in team order and returns how
// many succeeded. Skipped turns are recorded as annotations in the log.
func (o *Orchestrator) runRound(ctx context.Context, in Input, out *Outcome, round, rounds int) int {
	succeeded := 0
	for _, sp := range in.Team.Specialists {
		msg, ok := o.runTurn(ctx, in, out.Messages, sp, round, rounds, false)
		out.Messages = append(out.Messages, msg)
		if ok {
			succeeded++
		}
	}
	return succeeded
}

// runTurn invokes one persona. On failure the turn is retried once with a
// shortened context; a second failure yields a skip annotation.
func (o *Orchestrator) runTurn(ctx context.Context, in Input, prior []model.Message, p model.AgentPersona, round, rounds int, interim bool) (model.Message, bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{PersonaID: &p.ID})

	msg := model.Message{
		Round:     round,
		PersonaID: p.ID,
		Position:  positionInRound(prior, round),
		Evidence:  locators(in.Evidence),
	}

	content, err := o.complete(ctx, in, in.Evidence, prior, p, round, rounds, interim)
	if err == nil {
		msg.Content = content
		return msg, true
	}

	turnErr := &TurnError{PersonaID: p.ID, Round: round, Retryable: ctx.Err() == nil, Err: err}
	slog.WarnContext(ctx, "specialist turn failed", "error", turnErr, "interim", interim)

	if turnErr.Retryable {
		shortEv, shortPrior := shortenContext(in.Evidence, prior)
		content, err = o.complete(ctx, in, shortEv, shortPrior, p, round, rounds, interim)
		if err == nil {
			msg.Content = content
			msg.Retried = true
			msg.Evidence = locators(shortEv)
			return msg, true
		}
		slog.WarnContext(ctx, "retry with shortened context failed, skipping turn", "error", err)
	}

	msg.Skipped = true
	msg.Evidence = nil
	return msg, false
}

func (o *Orchestrator) complete(ctx context.Context, in Input, ev []model.EvidenceSnippet, prior []model.Message, p model.AgentPersona, round, rounds int, interim bool) (string, error) {
	client, err := o.dial(p.Model.Name)
	if err != nil {
		return "", fmt.Errorf("dialing model %q: %w", p.Model.Name, err)
	}

	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	req := llm.AgentRequest{
		Messages:  o.buildTurnMessages(in, ev, prior, p, round, rounds, interim),
		MaxTokens: in.Config.MaxTokens,
	}
	if in.Config.Temperature > 0 {
		req.Temperature = &in.Config.Temperature
	}

	resp, err := client.ChatWithTools(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty completion from %s", p.Model.Name)
	}
	return resp.Content, nil
}

// positionInRound counts prior messages already recorded for the round.
func positionInRound(prior []model.Message, round int) int {
	n := 0
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Round != round {
			break
		}
		n++
	}
	return n
}

// shortenContext drops the oldest half of the evidence; when no evidence
// remains to drop, it drops the oldest half of the prior messages.
func shortenContext(ev []model.EvidenceSnippet, prior []model.Message) ([]model.EvidenceSnippet, []model.Message) {
	if len(ev) > 0 {
		return ev[(len(ev)+1)/2:], prior
	}
	return ev, prior[len(prior)/2:]
}

func locators(ev []model.EvidenceSnippet) []string {
	if len(ev) == 0 {
		return nil
	}
	out := make([]string, len(ev))
	for i, s := range ev {
		out[i] = s.Locator
	}
	return out
}
