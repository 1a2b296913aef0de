// Package service coordinates consultations end to end: validation,
// clarification merge, evidence retrieval, cache lookup, the
// deliberation itself, synthesis, and persistence of the outcome. The
// HTTP handlers, the CLI, and the queue worker all drive runs through
// RunService.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"consilium.app/panel/common/id"
	"consilium.app/panel/common/logger"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/clarify"
	"consilium.app/panel/internal/consensus"
	"consilium.app/panel/internal/evidence"
	"consilium.app/panel/internal/meeting"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/queue"
	"consilium.app/panel/internal/runcache"
	"consilium.app/panel/internal/store"
	"consilium.app/panel/internal/transcript"
)

// ErrRunFailed reports that a run reached the failed state and the
// failure was durably recorded. Retrying cannot help; read the record's
// failure reason instead.
var ErrRunFailed = errors.New("run failed")

// ErrQueueDisabled is returned by Enqueue when no producer is wired in,
// e.g. in one-shot CLI mode.
var ErrQueueDisabled = errors.New("run queue is not configured")

// RunInput is one consultation request. A nil Team selects the default
// medical panel; zero-valued config knobs fall back to configuration.
type RunInput struct {
	Case     model.Case
	Exchange model.ClarifyingExchange
	Team     *model.TeamConfiguration
	Config   model.RunConfig
}

type RunService interface {
	// Suggest returns clarifying questions for the case. Best-effort:
	// a failed suggestion degrades to no questions and never blocks a run.
	Suggest(ctx context.Context, c model.Case) []string

	// Execute drives a consultation to a terminal state synchronously.
	// Failed runs return the record alongside an error wrapping ErrRunFailed.
	Execute(ctx context.Context, in RunInput) (*model.RunRecord, error)

	// Enqueue persists a pending run and hands it to the queue. The
	// returned record carries the id to poll.
	Enqueue(ctx context.Context, in RunInput) (*model.RunRecord, error)

	// ExecuteQueued drives a previously enqueued run to a terminal state.
	// Runs already finished are returned as-is, so redelivered queue
	// messages are harmless.
	ExecuteQueued(ctx context.Context, runID int64) (*model.RunRecord, error)

	// MarkFailed forces a non-terminal run into the failed state. Used
	// when the queue gives up on a run after repeated delivery failures.
	MarkFailed(ctx context.Context, runID int64, reason string) error

	Get(ctx context.Context, runID int64) (*model.RunRecord, error)
	ListRecent(ctx context.Context, limit int32) ([]model.RunRecord, error)

	// Transcript renders the stored record as markdown.
	Transcript(ctx context.Context, runID int64) (string, error)
}

// RunServiceParams wires the run service's collaborators. Producer and
// Artifacts are optional; Cache nil means runs are never cached.
type RunServiceParams struct {
	Runs        store.RunStore
	Producer    queue.Producer
	Assistant   *clarify.Assistant
	Retriever   *evidence.Retriever
	Meeting     *meeting.Orchestrator
	Synthesizer *consensus.Synthesizer
	Cache       runcache.Cache
	Artifacts   *transcript.Writer
	Policy      persona.ModelPolicy
	Config      config.Config
}

type runService struct {
	runs      store.RunStore
	producer  queue.Producer
	assist    *clarify.Assistant
	retriever *evidence.Retriever
	meeting   *meeting.Orchestrator
	synth     *consensus.Synthesizer
	cache     runcache.Cache
	artifacts *transcript.Writer
	policy    persona.ModelPolicy
	cfg       config.Config
}

func NewRunService(p RunServiceParams) RunService {
	// Caching disabled means every lookup is handed the null cache, not
	// a flag checked inside the pipeline.
	cache := p.Cache
	if cache == nil || !p.Config.Cache.Enabled {
		cache = runcache.Nop{}
	}
	return &runService{
		runs:      p.Runs,
		producer:  p.Producer,
		assist:    p.Assistant,
		retriever: p.Retriever,
		meeting:   p.Meeting,
		synth:     p.Synthesizer,
		cache:     cache,
		artifacts: p.Artifacts,
		policy:    p.Policy,
		cfg:       p.Config,
	}
}

func (s *runService) Suggest(ctx context.Context, c model.Case) []string {
	if s.assist == nil {
		return nil
	}
	return s.assist.Suggest(ctx, c)
}

func (s *runService) Execute(ctx context.Context, in RunInput) (*model.RunRecord, error) {
	rec, err := s.newRecord(in)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return s.process(ctx, rec)
}

func (s *runService) Enqueue(ctx context.Context, in RunInput) (*model.RunRecord, error) {
	if s.producer == nil {
		return nil, ErrQueueDisabled
	}

	rec, err := s.newRecord(in)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	msg := queue.RunMessage{RunID: rec.ID, Attempt: 1}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID := sc.TraceID().String()
		msg.TraceID = &traceID
	}
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueueing run %d: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *runService) ExecuteQueued(ctx context.Context, runID int64) (*model.RunRecord, error) {
	rec, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", runID, err)
	}
	if rec.Status.Terminal() {
		slog.InfoContext(ctx, "run already finished, skipping",
			"run_id", runID,
			"status", rec.Status)
		return rec, nil
	}

	// Stored runs were validated at submission, but the roster rules are
	// cheap to re-check before spending completions on them.
	if err := persona.Validate(rec.Team, rec.Config.Rounds); err != nil {
		return rec, s.fail(ctx, rec, err)
	}
	return s.process(ctx, rec)
}

func (s *runService) MarkFailed(ctx context.Context, runID int64, reason string) error {
	rec, err := s.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run %d: %w", runID, err)
	}
	if rec.Status.Terminal() {
		return nil
	}

	if err := s.runs.Transition(ctx, rec.ID, rec.Status, model.RunStatusFailed, reason); err != nil {
		return fmt.Errorf("marking run %d failed: %w", runID, err)
	}
	rec.Status = model.RunStatusFailed
	rec.FailureReason = reason
	now := time.Now().UTC()
	rec.FinishedAt = &now

	if err := s.runs.SaveResult(ctx, rec); err != nil {
		return fmt.Errorf("saving failed run %d: %w", runID, err)
	}
	return nil
}

func (s *runService) Get(ctx context.Context, runID int64) (*model.RunRecord, error) {
	return s.runs.Get(ctx, runID)
}

func (s *runService) ListRecent(ctx context.Context, limit int32) ([]model.RunRecord, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.runs.ListRecent(ctx, limit)
}

func (s *runService) Transcript(ctx context.Context, runID int64) (string, error) {
	rec, err := s.runs.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	return transcript.RenderMarkdown(rec), nil
}

// newRecord validates the input and shapes it into a pending record.
func (s *runService) newRecord(in RunInput) (*model.RunRecord, error) {
	if strings.TrimSpace(in.Case.Agenda) == "" {
		return nil, fmt.Errorf("agenda is required")
	}

	team := persona.DefaultMedicalTeam(s.cfg.AgentLLM.Model)
	if in.Team != nil {
		team = *in.Team
	}

	cfg, err := s.normalizeConfig(in.Config)
	if err != nil {
		return nil, err
	}
	if err := persona.Validate(team, cfg.Rounds); err != nil {
		return nil, err
	}

	return &model.RunRecord{
		ID:       id.New(),
		Status:   model.RunStatusPending,
		Case:     in.Case,
		Exchange: in.Exchange,
		Team:     team,
		Config:   cfg,
	}, nil
}

// normalizeConfig fills config gaps from defaults. Fast mode reduces the
// deliberation to a single round on top of forcing light model profiles.
func (s *runService) normalizeConfig(cfg model.RunConfig) (model.RunConfig, error) {
	if cfg.Rounds == 0 {
		cfg.Rounds = s.cfg.Deliberation.DefaultRounds
	}
	if cfg.Fast {
		cfg.Rounds = 1
	}
	if max := s.cfg.Deliberation.MaxRounds; max > 0 && cfg.Rounds > max {
		cfg.Rounds = max
	}

	if cfg.EvidenceMode == "" {
		cfg.EvidenceMode = model.RetrievalNone
	}
	if !cfg.EvidenceMode.Valid() {
		return cfg, fmt.Errorf("invalid evidence mode %q", cfg.EvidenceMode)
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = s.cfg.Deliberation.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = s.cfg.AgentLLM.MaxTokens
	}
	return cfg, nil
}

// process drives a created run to a terminal state.
func (s *runService) process(ctx context.Context, rec *model.RunRecord) (*model.RunRecord, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     logger.Ptr(rec.ID),
		Component: "panel.run",
	})

	if err := s.claim(ctx, rec); err != nil {
		return nil, err
	}

	team := s.policy.Apply(rec.Team, rec.Config.Fast)
	briefed := clarify.Apply(rec.Case, rec.Exchange)
	rec.Evidence = s.fetchEvidence(ctx, briefed, rec.Config.EvidenceMode)

	rec.Fingerprint = runcache.Fingerprint(rec.Case, rec.Exchange, team, rec.Config.Rounds, rec.Evidence)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Fingerprint: logger.Ptr(rec.Fingerprint)})

	// Per-run cache opt-out is the same capability swap as the global
	// toggle: hand the pipeline a cache that never stores.
	cache := s.cache
	if !rec.Config.CacheEnabled {
		cache = runcache.Nop{}
	}

	result, _, err := cache.GetOrCompute(ctx, rec.Fingerprint, func(ctx context.Context) (*model.RunRecord, error) {
		return s.deliberate(ctx, rec, team, briefed)
	})
	if err != nil {
		if fatal(err) {
			return rec, s.fail(ctx, rec, err)
		}
		return nil, err
	}

	if err := s.finish(ctx, rec, result); err != nil {
		return nil, err
	}
	return rec, nil
}

// claim moves the run into deliberating. A run found mid-flight was
// abandoned by a crashed worker and is taken over; the status CAS in the
// store keeps two live workers from both claiming it.
func (s *runService) claim(ctx context.Context, rec *model.RunRecord) error {
	detail := "deliberation started"
	if rec.Status != model.RunStatusPending {
		detail = "re-claimed after stalled attempt"
	}
	if err := s.transition(ctx, rec, model.RunStatusDeliberating, detail); err != nil {
		return err
	}
	if rec.StartedAt == nil {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	return nil
}

func (s *runService) fetchEvidence(ctx context.Context, c model.Case, mode model.RetrievalMode) []model.EvidenceSnippet {
	if s.retriever == nil {
		return nil
	}
	return s.retriever.Fetch(ctx, c.Agenda, mode)
}

// deliberate runs the meeting and the synthesis, returning a completed
// record detached from this invocation so the cache can hand it to later
// identical runs without aliasing.
func (s *runService) deliberate(ctx context.Context, rec *model.RunRecord, team model.TeamConfiguration, briefed model.Case) (*model.RunRecord, error) {
	out, err := s.meeting.Deliberate(ctx, meeting.Input{
		Case:     briefed,
		Team:     team,
		Evidence: rec.Evidence,
		Config:   rec.Config,
	})
	if err != nil {
		return nil, err
	}

	detail := "rounds exhausted"
	if out.Terminated {
		detail = "termination marker found"
	}
	if err := s.transition(ctx, rec, model.RunStatusSynthesizing, detail); err != nil {
		return nil, err
	}

	plan, final, err := s.synth.Synthesize(ctx, consensus.Input{
		Case:      briefed,
		Team:      team,
		Messages:  out.Messages,
		Config:    rec.Config,
		LastRound: out.LastRound,
	})
	if err != nil {
		return nil, err
	}

	done := *rec
	done.Session = ""
	done.Status = model.RunStatusComplete
	done.Messages = append(out.Messages, final)
	done.Plan = plan
	return &done, nil
}

// finish records the terminal outcome for this invocation. When the
// content came from the cache or a shared in-flight computation, it is
// adopted under this run's own identity.
func (s *runService) finish(ctx context.Context, rec *model.RunRecord, result *model.RunRecord) error {
	rec.Evidence = result.Evidence
	rec.Messages = result.Messages
	rec.Plan = result.Plan

	// Our own compute closure leaves the run in synthesizing; any other
	// source of the result means the deliberation was reused.
	reused := rec.Status != model.RunStatusSynthesizing

	detail := "consensus synthesized"
	if reused {
		detail = "served from cache"
	}
	if err := s.transition(ctx, rec, model.RunStatusComplete, detail); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now

	s.saveArtifacts(ctx, rec)

	if err := s.runs.SaveResult(ctx, rec); err != nil {
		return fmt.Errorf("saving run result: %w", err)
	}

	items := 0
	if rec.Plan != nil {
		items = len(rec.Plan.Items)
	}
	slog.InfoContext(ctx, "run complete",
		"cache_hit", reused,
		"messages", len(rec.Messages),
		"action_items", items,
		"session", rec.Session)
	return nil
}

// fail records a fatal domain failure: the run moves to failed, the
// reason is persisted, and failure artifacts are written so the session
// can still be inspected. The returned error wraps ErrRunFailed.
func (s *runService) fail(ctx context.Context, rec *model.RunRecord, cause error) error {
	reason := cause.Error()

	if err := s.runs.Transition(ctx, rec.ID, rec.Status, model.RunStatusFailed, reason); err != nil {
		return fmt.Errorf("recording run failure: %w", err)
	}
	rec.Status = model.RunStatusFailed
	rec.FailureReason = reason
	now := time.Now().UTC()
	rec.FinishedAt = &now

	s.saveArtifacts(ctx, rec)

	if err := s.runs.SaveResult(ctx, rec); err != nil {
		return fmt.Errorf("saving failed run: %w", err)
	}

	slog.ErrorContext(ctx, "run failed", "reason", reason)
	return fmt.Errorf("%w: %s", ErrRunFailed, reason)
}

func (s *runService) transition(ctx context.Context, rec *model.RunRecord, to model.RunStatus, detail string) error {
	if err := s.runs.Transition(ctx, rec.ID, rec.Status, to, detail); err != nil {
		return fmt.Errorf("moving run to %s: %w", to, err)
	}
	rec.Status = to
	return nil
}

// saveArtifacts is best-effort; a run outcome is never discarded because
// the artifact directory is unavailable.
func (s *runService) saveArtifacts(ctx context.Context, rec *model.RunRecord) {
	if s.artifacts == nil {
		return
	}
	session, err := s.artifacts.Save(ctx, rec)
	if err != nil {
		slog.WarnContext(ctx, "saving session artifacts failed", "error", err)
		return
	}
	rec.Session = session
}

// fatal reports whether the error is a domain failure that must mark the
// run failed, as opposed to an infrastructure error the queue may retry.
func fatal(err error) bool {
	return errors.Is(err, meeting.ErrRoundFailed) ||
		errors.Is(err, consensus.ErrSynthesisFailed) ||
		errors.Is(err, persona.ErrInvalidTeam)
}
