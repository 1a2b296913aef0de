package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/queue"
	"consilium.app/panel/internal/store"
)

// mockRunStore keeps records in memory with the same CAS transition
// semantics as the Postgres store. fn fields override individual methods
// for error injection.
type mockRunStore struct {
	mu     sync.Mutex
	recs   map[int64]*model.RunRecord
	events []string

	createFn     func(ctx context.Context, rec *model.RunRecord) error
	getFn        func(ctx context.Context, id int64) (*model.RunRecord, error)
	listRecentFn func(ctx context.Context, limit int32) ([]model.RunRecord, error)
	transitionFn func(ctx context.Context, id int64, from, to model.RunStatus, detail string) error
	saveResultFn func(ctx context.Context, rec *model.RunRecord) error
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{recs: make(map[int64]*model.RunRecord)}
}

func (m *mockRunStore) Create(ctx context.Context, rec *model.RunRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	clone := *rec
	m.recs[rec.ID] = &clone
	return nil
}

func (m *mockRunStore) Get(ctx context.Context, id int64) (*model.RunRecord, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *mockRunStore) ListRecent(ctx context.Context, limit int32) ([]model.RunRecord, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RunRecord
	for _, rec := range m.recs {
		out = append(out, *rec)
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockRunStore) Transition(ctx context.Context, id int64, from, to model.RunStatus, detail string) error {
	if m.transitionFn != nil {
		return m.transitionFn(ctx, id, from, to, detail)
	}
	return m.applyTransition(id, from, to, detail)
}

// applyTransition is the default CAS logic, callable from transitionFn
// overrides that only intercept specific transitions.
func (m *mockRunStore) applyTransition(id int64, from, to model.RunStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != from {
		return store.ErrStaleTransition
	}
	rec.Status = to
	m.events = append(m.events, fmt.Sprintf("%s->%s:%s", from, to, detail))
	return nil
}

func (m *mockRunStore) SaveResult(ctx context.Context, rec *model.RunRecord) error {
	if m.saveResultFn != nil {
		return m.saveResultFn(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; !ok {
		return store.ErrNotFound
	}
	clone := *rec
	m.recs[rec.ID] = &clone
	return nil
}

func (m *mockRunStore) stored(id int64) *model.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id]
}

func (m *mockRunStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func (m *mockRunStore) transitions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

type mockProducer struct {
	mu        sync.Mutex
	messages  []queue.RunMessage
	enqueueFn func(ctx context.Context, msg queue.RunMessage) error
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.RunMessage) error {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, msg)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) enqueued() []queue.RunMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.RunMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// mockAgentClient scripts chat completions for every persona in a run.
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
	if m.ChatWithToolsFn != nil {
		return m.ChatWithToolsFn(ctx, req)
	}
	return textResponse("ok"), nil
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

// dialRecorder hands out one shared client and records every model name
// the pipeline dials.
type dialRecorder struct {
	client *mockAgentClient

	mu     sync.Mutex
	models []string
}

func (d *dialRecorder) dial(model string) (llm.AgentClient, error) {
	d.mu.Lock()
	d.models = append(d.models, model)
	d.mu.Unlock()
	return d.client, nil
}

func (d *dialRecorder) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.models))
	copy(out, d.models)
	return out
}

// mockStructuredClient fakes the structured-output client used by the
// clarity assistant.
type mockStructuredClient struct {
	ChatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
}

func (m *mockStructuredClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	if m.ChatFn != nil {
		return m.ChatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockStructuredClient) Model() string { return "mock-structured" }

// fillResult writes a JSON document into a structured-output target, the
// way the real client deserializes completions.
func fillResult(result any, doc string) error {
	return json.Unmarshal([]byte(doc), result)
}
