package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"consilium.app/panel/internal/model"
)

// pubmedClient talks to the NCBI eutils endpoints. The base URL is
// injectable so tests can point it at a local server.
type pubmedClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newPubMedClient(baseURL, apiKey string, timeout time.Duration) *pubmedClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &pubmedClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// esummaryResponse's result object maps PMIDs to records plus a "uids"
// bookkeeping key, hence the RawMessage indirection.
type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryRecord struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	PubDate     string `json:"pubdate"`
	SortPubDate string `json:"sortpubdate"`
}

// searchLiterature runs esearch then esummary and maps the records onto
// snippets with PMID locators.
func (r *Retriever) searchLiterature(ctx context.Context, query string) []model.EvidenceSnippet {
	if r.pubmed == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	ids, err := r.pubmed.search(ctx, query, r.maxPerMode)
	if err != nil {
		r.warnUnavailable(ctx, "literature", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	records, err := r.pubmed.summaries(ctx, ids)
	if err != nil {
		r.warnUnavailable(ctx, "literature", err)
		return nil
	}

	var snippets []model.EvidenceSnippet
	for _, pmid := range ids {
		rec, ok := records[pmid]
		if !ok {
			continue
		}
		title := rec.Title
		if title == "" {
			title = "(no title)"
		}
		year := rec.PubDate
		if year == "" {
			year = rec.SortPubDate
		}
		summary := strings.TrimSpace(fmt.Sprintf("%s %s", rec.Source, year))
		if summary == "" {
			summary = title
		}
		snippets = append(snippets, model.EvidenceSnippet{
			Kind:    model.EvidenceLiterature,
			Title:   title,
			Summary: summary,
			Locator: "PMID: " + pmid,
		})
	}
	return snippets
}

// search runs esearch with the recency/quality filters the panel always
// applies: English, last five years or systematic reviews.
func (c *pubmedClient) search(ctx context.Context, query string, max int) ([]string, error) {
	term := fmt.Sprintf("%s AND (english[la]) AND (last 5 years[dp] OR systematic[sb])", strings.TrimSpace(query))

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("retmax", fmt.Sprintf("%d", max))
	params.Set("term", term)
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var resp esearchResponse
	if err := c.getJSON(ctx, "/esearch.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	ids := resp.ESearchResult.IDList
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (c *pubmedClient) summaries(ctx context.Context, ids []string) (map[string]esummaryRecord, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("id", strings.Join(ids, ","))
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var resp esummaryResponse
	if err := c.getJSON(ctx, "/esummary.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	records := make(map[string]esummaryRecord, len(ids))
	for pmid, raw := range resp.Result {
		if pmid == "uids" {
			continue
		}
		var rec esummaryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records[pmid] = rec
	}
	return records, nil
}

func (c *pubmedClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
