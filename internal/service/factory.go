package service

import (
	"fmt"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/clarify"
	"consilium.app/panel/internal/consensus"
	"consilium.app/panel/internal/evidence"
	llmdial "consilium.app/panel/internal/llm"
	"consilium.app/panel/internal/meeting"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/queue"
	"consilium.app/panel/internal/runcache"
	"consilium.app/panel/internal/store"
	"consilium.app/panel/internal/transcript"
)

// panelDomain scopes the intake assistant's clarifying questions.
const panelDomain = "medicine"

// Assemble wires a RunService from configuration. The API server and the
// queue worker build the same pipeline; only the producer differs (nil
// disables async submission).
func Assemble(cfg config.Config, runs store.RunStore, producer queue.Producer) (RunService, error) {
	dialer := llmdial.NewDialer(cfg.AgentLLM)

	var assistant *clarify.Assistant
	if cfg.StructuredLLM.Enabled() {
		structured, err := llm.New(llm.Config{
			Provider:        cfg.StructuredLLM.Provider,
			APIKey:          cfg.StructuredLLM.APIKey,
			BaseURL:         cfg.StructuredLLM.BaseURL,
			Model:           cfg.StructuredLLM.Model,
			ReasoningEffort: llm.ReasoningEffort(cfg.StructuredLLM.ReasoningEffort),
		})
		if err != nil {
			return nil, fmt.Errorf("building structured llm client: %w", err)
		}
		assistant = clarify.NewAssistant(structured, panelDomain, cfg.Deliberation.MaxQuestions)
	}

	var planner llm.AgentClient
	if cfg.AgentLLM.Enabled() {
		client, err := dialer.Dial(cfg.AgentLLM.Model)
		if err != nil {
			return nil, fmt.Errorf("dialing retrieval planner: %w", err)
		}
		planner = client
	}

	artifacts, err := transcript.NewWriter(cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("preparing artifacts dir: %w", err)
	}

	var cache runcache.Cache
	if cfg.Cache.Enabled {
		cache = runcache.NewMemory(cfg.Cache)
	}

	return NewRunService(RunServiceParams{
		Runs:        runs,
		Producer:    producer,
		Assistant:   assistant,
		Retriever:   evidence.NewRetriever(planner, cfg.Retrieval),
		Meeting:     meeting.NewOrchestrator(dialer.Dial, cfg.Deliberation),
		Synthesizer: consensus.NewSynthesizer(dialer.Dial, cfg.Deliberation),
		Cache:       cache,
		Artifacts:   artifacts,
		Policy: persona.ModelPolicy{
			Rules:     cfg.ModelRules,
			FastModel: cfg.Deliberation.FastModel,
		},
		Config: cfg,
	}), nil
}
