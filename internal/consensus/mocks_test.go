package consensus_test

import (
	"context"
	"sync"

	"consilium.app/panel/common/llm"
)

// mockAgentClient records every request and delegates to ChatWithToolsFn.
type mockAgentClient struct {
	model           string
	ChatWithToolsFn func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error)

	mu       sync.Mutex
	requests []llm.AgentRequest
}

func (m *mockAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.ChatWithToolsFn(ctx, req)
}

func (m *mockAgentClient) Model() string {
	if m.model == "" {
		return "mock-model"
	}
	return m.model
}

func (m *mockAgentClient) Requests() []llm.AgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.AgentRequest(nil), m.requests...)
}

func (m *mockAgentClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textResponse(content string) *llm.AgentResponse {
	return &llm.AgentResponse{Content: content, FinishReason: "stop"}
}
