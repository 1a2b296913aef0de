package model

import "time"

// RunStatus tracks a run through the deliberation state machine.
type RunStatus string

const (
	RunStatusPending      RunStatus = "pending"
	RunStatusDeliberating RunStatus = "deliberating"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// RunConfig carries the per-run knobs. Immutable once a run starts; it is
// passed explicitly rather than read from global state.
type RunConfig struct {
	Rounds           int           `json:"rounds"`
	Fast             bool          `json:"fast,omitempty"`
	EvidenceMode     RetrievalMode `json:"evidence_mode"`
	CacheEnabled     bool          `json:"cache_enabled"`
	InterimSynthesis bool          `json:"interim_synthesis"`
	Temperature      float64       `json:"temperature,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
}

// RunRecord is the full account of one deliberation run: inputs, the
// message log, and the synthesized plan. Created once per invocation and
// never mutated after reaching a terminal status. Cache entries are
// RunRecords keyed by fingerprint.
type RunRecord struct {
	ID          int64              `json:"id"`
	Session     string             `json:"session,omitempty"`
	Fingerprint string             `json:"fingerprint"`
	Status      RunStatus          `json:"status"`
	Case        Case               `json:"case"`
	Exchange    ClarifyingExchange `json:"exchange,omitempty"`
	Team        TeamConfiguration  `json:"team"`
	Config      RunConfig          `json:"config"`
	Evidence    []EvidenceSnippet  `json:"evidence,omitempty"`
	Messages    []Message          `json:"messages,omitempty"`
	Plan        *ConsensusPlan     `json:"plan,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
