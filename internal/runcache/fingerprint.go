// Package runcache keys completed runs by a deterministic fingerprint of
// their inputs so repeated identical consultations reuse the transcript
// and plan instead of paying for new completions.
package runcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"consilium.app/panel/internal/evidence"
	"consilium.app/panel/internal/model"
)

// fingerprintPayload fixes the field order the hash is computed over.
type fingerprintPayload struct {
	Case     model.Case               `json:"case"`
	Exchange model.ClarifyingExchange `json:"exchange,omitempty"`
	Team     model.TeamConfiguration  `json:"team"`
	Rounds   int                      `json:"rounds"`
	Evidence []model.EvidenceSnippet  `json:"evidence,omitempty"`
}

// Fingerprint hashes every input that shapes a run's output. Evidence is
// treated as a set: snippets are sorted by normalized locator before
// hashing so retrieval order cannot split otherwise identical runs.
func Fingerprint(c model.Case, ex model.ClarifyingExchange, team model.TeamConfiguration, rounds int, ev []model.EvidenceSnippet) string {
	payload := fingerprintPayload{
		Case:     c,
		Exchange: ex,
		Team:     team,
		Rounds:   rounds,
		Evidence: sortedEvidence(ev),
	}

	data, _ := json.Marshal(payload)

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedEvidence(ev []model.EvidenceSnippet) []model.EvidenceSnippet {
	if len(ev) == 0 {
		return nil
	}
	out := append([]model.EvidenceSnippet(nil), ev...)
	sort.Slice(out, func(i, j int) bool {
		li, lj := evidence.NormalizeLocator(out[i].Locator), evidence.NormalizeLocator(out[j].Locator)
		if li != lj {
			return li < lj
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
