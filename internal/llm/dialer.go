// Package llm dials chat clients by model name. Personas carry their own
// model profiles, so a single deliberation can touch several models; the
// dialer builds one client per distinct name and reuses it for the
// process lifetime.
package llm

import (
	"fmt"
	"sync"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
)

// Dialer caches one AgentClient per model name. Provider, key, and base
// URL come from configuration; only the model varies per call.
type Dialer struct {
	cfg config.LLMConfig

	mu      sync.Mutex
	clients map[string]llm.AgentClient
}

func NewDialer(cfg config.LLMConfig) *Dialer {
	return &Dialer{
		cfg:     cfg,
		clients: make(map[string]llm.AgentClient),
	}
}

// Dial returns the cached client for the model, constructing it on first
// use. An empty model name falls back to the configured default.
func (d *Dialer) Dial(model string) (llm.AgentClient, error) {
	if model == "" {
		model = d.cfg.Model
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[model]; ok {
		return client, nil
	}

	client, err := llm.NewAgentClient(llm.Config{
		Provider:        d.cfg.Provider,
		APIKey:          d.cfg.APIKey,
		BaseURL:         d.cfg.BaseURL,
		Model:           model,
		ReasoningEffort: llm.ReasoningEffort(d.cfg.ReasoningEffort),
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s client for %q: %w", d.cfg.Provider, model, err)
	}

	d.clients[model] = client
	return client, nil
}
