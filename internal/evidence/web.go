package evidence

import (
	"context"
	"strconv"

	"github.com/ericgreene/go-serp"

	"consilium.app/panel/internal/model"
)

// searchWeb runs one SERP query and maps organic results onto snippets.
// Without an API key the web source is simply unavailable.
func (r *Retriever) searchWeb(ctx context.Context, query string) []model.EvidenceSnippet {
	if r.serpAPIKey == "" || query == "" {
		return nil
	}

	search := serp.NewGoogleSearch(map[string]string{
		"q":   query,
		"key": r.serpAPIKey,
		"num": strconv.Itoa(r.maxPerMode),
	})

	results, err := search.GetJSON()
	if err != nil {
		r.warnUnavailable(ctx, "web", err)
		return nil
	}

	var snippets []model.EvidenceSnippet
	for _, result := range results.OrganicResults {
		if len(snippets) == r.maxPerMode {
			break
		}
		title := result.Title
		if title == "" {
			title = result.Link
		}
		summary := truncate(result.Snippet, summaryMaxLen)
		if summary == "" {
			summary = title
		}
		snippets = append(snippets, model.EvidenceSnippet{
			Kind:    model.EvidenceWeb,
			Title:   title,
			Summary: summary,
			Locator: result.Link,
		})
	}
	return snippets
}
