package evidence

import (
	"context"
	"log/slog"
	"strings"

	"consilium.app/panel/common/llm"
)

const plannerSystemPrompt = "You plan evidence retrieval for a medical advisory panel. " +
	"Given a case description, produce one focused web search query and one PubMed query. " +
	"Queries must be specific to the clinical question, not restatements of the whole case. " +
	"Call submit_search_plan exactly once."

// searchPlan is the strict tool schema the planner model fills in.
type searchPlan struct {
	WebQuery        string `json:"web_query" jsonschema_description:"Web search query for clinical background"`
	LiteratureQuery string `json:"literature_query" jsonschema_description:"PubMed query for primary literature"`
}

// planQueries asks the agent model to shape the searches. Any failure
// falls back to querying with the case text itself.
func (r *Retriever) planQueries(ctx context.Context, caseText string) searchPlan {
	fallback := fallbackPlan(caseText)
	if r.agent == nil {
		return fallback
	}

	req := llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: caseText},
		},
		Tools: []llm.Tool{{
			Name:        "submit_search_plan",
			Description: "Submit the search queries for this case.",
			Parameters:  llm.GenerateSchemaFrom(searchPlan{}),
			Strict:      true,
		}},
	}

	resp, err := r.agent.ChatWithTools(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "search planning failed, using case text", "error", err)
		return fallback
	}

	for _, call := range resp.ToolCalls {
		if call.Name != "submit_search_plan" {
			continue
		}
		plan, err := llm.ParseToolArguments[searchPlan](call.Arguments)
		if err != nil {
			slog.WarnContext(ctx, "search plan arguments invalid, using case text", "error", err)
			return fallback
		}
		if strings.TrimSpace(plan.WebQuery) == "" {
			plan.WebQuery = fallback.WebQuery
		}
		if strings.TrimSpace(plan.LiteratureQuery) == "" {
			plan.LiteratureQuery = fallback.LiteratureQuery
		}
		return plan
	}

	slog.WarnContext(ctx, "search planning returned no tool call, using case text")
	return fallback
}

func fallbackPlan(caseText string) searchPlan {
	text := strings.TrimSpace(caseText)
	return searchPlan{
		WebQuery:        "medical background for: " + truncate(text, 500),
		LiteratureQuery: text,
	}
}
