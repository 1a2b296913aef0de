package evidence_test

import (
	"context"

	"consilium.app/panel/common/llm"
)

type mockAgentClient struct {
	ChatWithToolsFn    func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error)
	ChatWithToolsCalls int
}

func (m *mockAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	m.ChatWithToolsCalls++
	if m.ChatWithToolsFn != nil {
		return m.ChatWithToolsFn(ctx, req)
	}
	return &llm.AgentResponse{}, nil
}

func (m *mockAgentClient) Model() string {
	return "mock-model"
}
