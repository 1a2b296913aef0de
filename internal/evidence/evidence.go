// Package evidence gathers external background for a case: web search
// results and PubMed literature. Retrieval is best-effort; every failure
// degrades to an empty result for that source and never aborts a run.
package evidence

import (
	"context"
	"log/slog"
	"strings"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/model"
)

const summaryMaxLen = 300

// Retriever fetches evidence snippets per retrieval mode. The agent
// client plans search queries; a nil agent falls back to querying with
// the case text directly.
type Retriever struct {
	agent      llm.AgentClient
	serpAPIKey string
	pubmed     *pubmedClient
	maxPerMode int
}

// NewRetriever builds a retriever from the retrieval configuration.
func NewRetriever(agent llm.AgentClient, cfg config.RetrievalConfig) *Retriever {
	maxPerMode := cfg.MaxSnippets
	if maxPerMode <= 0 {
		maxPerMode = 5
	}

	r := &Retriever{
		agent:      agent,
		serpAPIKey: cfg.SerpAPIKey,
		maxPerMode: maxPerMode,
	}
	if cfg.LiteratureEnabled() {
		r.pubmed = newPubMedClient(cfg.PubMedBaseURL, cfg.NCBIAPIKey, cfg.Timeout)
	}
	return r
}

// Fetch returns at most maxPerMode snippets per requested source,
// deduplicated by normalized locator. An unavailable or failing source
// contributes nothing.
func (r *Retriever) Fetch(ctx context.Context, caseText string, mode model.RetrievalMode) []model.EvidenceSnippet {
	if mode == model.RetrievalNone || mode == "" {
		return nil
	}

	plan := r.planQueries(ctx, caseText)

	var snippets []model.EvidenceSnippet
	if mode == model.RetrievalWeb || mode == model.RetrievalBoth {
		snippets = append(snippets, r.searchWeb(ctx, plan.WebQuery)...)
	}
	if mode == model.RetrievalLiterature || mode == model.RetrievalBoth {
		snippets = append(snippets, r.searchLiterature(ctx, plan.LiteratureQuery)...)
	}

	return Dedupe(snippets)
}

// Dedupe drops snippets whose normalized locator was already seen,
// keeping first occurrences in order.
func Dedupe(snippets []model.EvidenceSnippet) []model.EvidenceSnippet {
	if len(snippets) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(snippets))
	out := make([]model.EvidenceSnippet, 0, len(snippets))
	for _, s := range snippets {
		key := NormalizeLocator(s.Locator)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// NormalizeLocator canonicalizes a locator for identity comparison:
// lowercase, URL scheme and fragment stripped, trailing slash dropped.
func NormalizeLocator(locator string) string {
	loc := strings.ToLower(strings.TrimSpace(locator))
	loc = strings.TrimPrefix(loc, "https://")
	loc = strings.TrimPrefix(loc, "http://")
	if i := strings.IndexByte(loc, '#'); i >= 0 {
		loc = loc[:i]
	}
	return strings.TrimSuffix(loc, "/")
}

func (r *Retriever) warnUnavailable(ctx context.Context, source string, err error) {
	slog.WarnContext(ctx, "evidence retrieval unavailable",
		"source", source,
		"error", err)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
