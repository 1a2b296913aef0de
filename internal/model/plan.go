package model

// Unspecified fills action-item fields the leader failed to provide even
// after the corrective re-request.
const Unspecified = "unspecified"

// OwnerLeader is the owner value for items the leader keeps, and the
// value any unresolvable owner collapses to.
const OwnerLeader = "leader"

// ActionItem is one step of the consensus plan. Owner is a persona ID or
// the literal "leader".
type ActionItem struct {
	Step     string `json:"step"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
	Tools    string `json:"tools"`
	Metric   string `json:"metric"`
	Risk     string `json:"risk"`
}

// ConsensusPlan is the synthesized outcome of a completed run. Items is
// never empty on a completed run; Summary keeps the leader's full
// synthesis text for the transcript.
type ConsensusPlan struct {
	Items   []ActionItem `json:"items"`
	Summary string       `json:"summary"`
}
