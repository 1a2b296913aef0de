package dto

import (
	"time"

	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
)

type CreateRunRequest struct {
	Agenda           string              `json:"agenda" binding:"required,min=1"`
	Questions        []string            `json:"questions,omitempty"`
	Rules            []string            `json:"rules,omitempty"`
	Clarifications   []ClarificationPair `json:"clarifications,omitempty"`
	Team             *TeamSpec           `json:"team,omitempty"`
	Rounds           int                 `json:"rounds,omitempty" binding:"omitempty,min=1"`
	Fast             bool                `json:"fast,omitempty"`
	EvidenceMode     string              `json:"evidence_mode,omitempty" binding:"omitempty,oneof=none web literature both"`
	Cache            *bool               `json:"cache,omitempty"`
	InterimSynthesis *bool               `json:"interim_synthesis,omitempty"`
	Temperature      float64             `json:"temperature,omitempty" binding:"omitempty,gt=0,lte=2"`
	MaxTokens        int                 `json:"max_tokens,omitempty" binding:"omitempty,min=1"`
	Async            bool                `json:"async,omitempty"`
}

type ClarificationPair struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer,omitempty"`
}

// TeamSpec overrides the default panel roster. Persona IDs are derived
// from titles, so titles must be unique within a team.
type TeamSpec struct {
	Leader      PersonaSpec   `json:"leader" binding:"required"`
	Specialists []PersonaSpec `json:"specialists" binding:"required,min=1,dive"`
}

type PersonaSpec struct {
	Title     string `json:"title" binding:"required,min=1,max=255"`
	Expertise string `json:"expertise,omitempty" binding:"max=2048"`
	Goal      string `json:"goal,omitempty" binding:"max=2048"`
	Model     string `json:"model,omitempty" binding:"max=255"`
}

func ToCase(req CreateRunRequest) model.Case {
	return model.Case{
		Agenda:    req.Agenda,
		Questions: req.Questions,
		Rules:     req.Rules,
	}
}

func ToExchange(pairs []ClarificationPair) model.ClarifyingExchange {
	if len(pairs) == 0 {
		return nil
	}
	out := make(model.ClarifyingExchange, len(pairs))
	for i, p := range pairs {
		out[i] = model.QA{Question: p.Question, Answer: p.Answer}
	}
	return out
}

// ToRunConfig maps request knobs onto a run config. Cache and interim
// synthesis default to on when the client omits them.
func ToRunConfig(req CreateRunRequest) model.RunConfig {
	cfg := model.RunConfig{
		Rounds:           req.Rounds,
		Fast:             req.Fast,
		EvidenceMode:     model.RetrievalMode(req.EvidenceMode),
		CacheEnabled:     true,
		InterimSynthesis: true,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
	}
	if req.Cache != nil {
		cfg.CacheEnabled = *req.Cache
	}
	if req.InterimSynthesis != nil {
		cfg.InterimSynthesis = *req.InterimSynthesis
	}
	return cfg
}

// ToTeamConfiguration builds a roster from a spec. Personas without an
// explicit model fall back to the given default.
func ToTeamConfiguration(spec *TeamSpec, defaultModel string) *model.TeamConfiguration {
	if spec == nil {
		return nil
	}
	team := model.TeamConfiguration{
		Leader:      toPersona(spec.Leader, model.RoleLeader, defaultModel),
		Specialists: make([]model.AgentPersona, len(spec.Specialists)),
	}
	for i, sp := range spec.Specialists {
		team.Specialists[i] = toPersona(sp, model.RoleSpecialist, defaultModel)
	}
	return &team
}

func toPersona(spec PersonaSpec, role model.Role, defaultModel string) model.AgentPersona {
	modelName := spec.Model
	if modelName == "" {
		modelName = defaultModel
	}
	return persona.New(spec.Title, spec.Expertise, spec.Goal, role, modelName)
}

// RunResponse is the API shape of a run record. The snowflake ID is
// serialized as a string so JavaScript clients keep full precision.
type RunResponse struct {
	ID            int64                    `json:"id,string"`
	Session       string                   `json:"session,omitempty"`
	Fingerprint   string                   `json:"fingerprint,omitempty"`
	Status        model.RunStatus          `json:"status"`
	Case          model.Case               `json:"case"`
	Exchange      model.ClarifyingExchange `json:"exchange,omitempty"`
	Team          TeamResponse             `json:"team"`
	Config        model.RunConfig          `json:"config"`
	Evidence      []model.EvidenceSnippet  `json:"evidence,omitempty"`
	Messages      []model.Message          `json:"messages,omitempty"`
	Plan          *model.ConsensusPlan     `json:"plan,omitempty"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	FinishedAt    *time.Time               `json:"finished_at,omitempty"`
}

func ToRunResponse(rec *model.RunRecord) *RunResponse {
	return &RunResponse{
		ID:            rec.ID,
		Session:       rec.Session,
		Fingerprint:   rec.Fingerprint,
		Status:        rec.Status,
		Case:          rec.Case,
		Exchange:      rec.Exchange,
		Team:          ToTeamResponse(rec.Team),
		Config:        rec.Config,
		Evidence:      rec.Evidence,
		Messages:      rec.Messages,
		Plan:          rec.Plan,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
	}
}

type EnqueuedRunResponse struct {
	RunID  int64           `json:"run_id,string"`
	Status model.RunStatus `json:"status"`
}

type ListRunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is the index-listing shape: enough to render a history view
// without shipping full transcripts.
type RunSummary struct {
	ID            int64           `json:"id,string"`
	Session       string          `json:"session,omitempty"`
	Status        model.RunStatus `json:"status"`
	Agenda        string          `json:"agenda"`
	ActionItems   int             `json:"action_items"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

func ToRunSummary(rec model.RunRecord) RunSummary {
	items := 0
	if rec.Plan != nil {
		items = len(rec.Plan.Items)
	}
	return RunSummary{
		ID:            rec.ID,
		Session:       rec.Session,
		Status:        rec.Status,
		Agenda:        rec.Case.Agenda,
		ActionItems:   items,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		FinishedAt:    rec.FinishedAt,
	}
}
