package evidence_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/evidence"
	"consilium.app/panel/internal/model"
)

var _ = Describe("Literature retrieval", func() {
	var (
		server       *httptest.Server
		agent        *mockAgentClient
		searchTerms  []string
		summaryCalls int
	)

	BeforeEach(func() {
		searchTerms = nil
		summaryCalls = 0

		mux := http.NewServeMux()
		mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			searchTerms = append(searchTerms, r.URL.Query().Get("term"))
			Expect(r.URL.Query().Get("retmode")).To(Equal("json"))
			Expect(r.URL.Query().Get("retmax")).To(Equal("2"))
			Expect(r.URL.Query().Get("api_key")).To(Equal("test-key"))
			w.Write([]byte(`{"esearchresult":{"idlist":["111","222","333"]}}`))
		})
		mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			summaryCalls++
			Expect(r.URL.Query().Get("id")).To(Equal("111,222"))
			w.Write([]byte(`{"result":{
				"uids":["111","222"],
				"111":{"title":"Anticoagulation in AF with hematuria","source":"NEJM","pubdate":"2024 Jan"},
				"222":{"title":"Warfarin reversal strategies","source":"Lancet","sortpubdate":"2023/05/01"}
			}}`))
		})
		server = httptest.NewServer(mux)

		agent = &mockAgentClient{
			ChatWithToolsFn: func(_ context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				Expect(req.Tools).To(HaveLen(1))
				Expect(req.Tools[0].Name).To(Equal("submit_search_plan"))
				return &llm.AgentResponse{
					ToolCalls: []llm.ToolCall{{
						ID:        "call_1",
						Name:      "submit_search_plan",
						Arguments: `{"web_query":"af warfarin hematuria","literature_query":"warfarin hematuria management"}`,
					}},
					FinishReason: "tool_calls",
				}, nil
			},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	newRetriever := func() *evidence.Retriever {
		return evidence.NewRetriever(agent, config.RetrievalConfig{
			PubMedBaseURL: server.URL,
			NCBIAPIKey:    "test-key",
			MaxSnippets:   2,
			Timeout:       2 * time.Second,
		})
	}

	It("maps esearch and esummary results onto PMID snippets", func() {
		snippets := newRetriever().Fetch(context.Background(), "62M with AF on warfarin, hematuria", model.RetrievalLiterature)

		Expect(snippets).To(HaveLen(2))
		Expect(snippets[0]).To(Equal(model.EvidenceSnippet{
			Kind:    model.EvidenceLiterature,
			Title:   "Anticoagulation in AF with hematuria",
			Summary: "NEJM 2024 Jan",
			Locator: "PMID: 111",
		}))
		Expect(snippets[1].Summary).To(Equal("Lancet 2023/05/01"))
		Expect(snippets[1].Locator).To(Equal("PMID: 222"))
		Expect(summaryCalls).To(Equal(1))
	})

	It("uses the planned query with the standing filters", func() {
		newRetriever().Fetch(context.Background(), "case", model.RetrievalLiterature)

		Expect(searchTerms).To(HaveLen(1))
		Expect(searchTerms[0]).To(HavePrefix("warfarin hematuria management AND (english[la])"))
		Expect(searchTerms[0]).To(ContainSubstring("last 5 years[dp] OR systematic[sb]"))
	})

	It("falls back to the case text when planning fails", func() {
		agent.ChatWithToolsFn = func(_ context.Context, _ llm.AgentRequest) (*llm.AgentResponse, error) {
			return &llm.AgentResponse{Content: "no tool call", FinishReason: "stop"}, nil
		}

		newRetriever().Fetch(context.Background(), "62M with AF on warfarin", model.RetrievalLiterature)

		Expect(searchTerms).To(HaveLen(1))
		Expect(searchTerms[0]).To(HavePrefix("62M with AF on warfarin AND"))
	})

	It("degrades to no snippets when the endpoint errors", func() {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer failing.Close()

		r := evidence.NewRetriever(agent, config.RetrievalConfig{
			PubMedBaseURL: failing.URL,
			MaxSnippets:   2,
			Timeout:       2 * time.Second,
		})

		Expect(r.Fetch(context.Background(), "case", model.RetrievalLiterature)).To(BeEmpty())
	})
})
