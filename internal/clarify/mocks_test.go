package clarify_test

import (
	"context"

	"consilium.app/panel/common/llm"
)

type mockClient struct {
	ChatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	ChatCalls int
}

func (m *mockClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.ChatCalls++
	if m.ChatFn != nil {
		return m.ChatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockClient) Model() string {
	return "mock-model"
}
