package model

// RetrievalMode selects which evidence sources a run consults.
type RetrievalMode string

const (
	RetrievalNone       RetrievalMode = "none"
	RetrievalWeb        RetrievalMode = "web"
	RetrievalLiterature RetrievalMode = "literature"
	RetrievalBoth       RetrievalMode = "both"
)

// Valid reports whether the mode is one of the known values.
func (m RetrievalMode) Valid() bool {
	switch m {
	case RetrievalNone, RetrievalWeb, RetrievalLiterature, RetrievalBoth:
		return true
	}
	return false
}

// EvidenceKind tags where a snippet came from.
type EvidenceKind string

const (
	EvidenceWeb        EvidenceKind = "web"
	EvidenceLiterature EvidenceKind = "literature"
)

// EvidenceSnippet is one external finding injected into agent context.
// Locator is a URL for web snippets or a citation id like "PMID: 12345"
// for literature.
type EvidenceSnippet struct {
	Kind    EvidenceKind `json:"kind"`
	Title   string       `json:"title"`
	Summary string       `json:"summary"`
	Locator string       `json:"locator"`
}
