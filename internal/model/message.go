package model

// Message is one agent utterance in the deliberation transcript.
// Append-only; never mutated once recorded.
type Message struct {
	Round     int      `json:"round"`
	PersonaID string   `json:"persona_id"`
	Position  int      `json:"position"`
	Content   string   `json:"content"`
	Evidence  []string `json:"evidence,omitempty"` // locators consulted for this turn

	// Turn-failure bookkeeping.
	Retried bool `json:"retried,omitempty"`
	Skipped bool `json:"skipped,omitempty"`
}
