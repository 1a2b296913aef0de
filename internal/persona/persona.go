// Package persona owns the panel roster: presets, validation, prompt
// rendering, and the model substitution policy. Personas are plain data
// records; role-specific behavior is selected at prompt-rendering time.
package persona

import (
	"errors"
	"fmt"

	"consilium.app/panel/common"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/model"
)

// ErrInvalidTeam is returned for team configurations that cannot run:
// missing leader, no specialists, duplicate IDs, or a bad round count.
var ErrInvalidTeam = errors.New("invalid team configuration")

// New builds a persona with an ID derived from its title.
func New(title, expertise, goal string, role model.Role, modelName string) model.AgentPersona {
	id, err := common.Slugify(title, string(role))
	if err != nil {
		id = string(role)
	}
	return model.AgentPersona{
		ID:        id,
		Title:     title,
		Expertise: expertise,
		Goal:      goal,
		Role:      role,
		Model:     model.ModelProfile{Name: modelName, Tier: model.TierStandard},
	}
}

// DefaultMedicalTeam returns the built-in panel: a Chief Medical Officer
// leading cardiology, hematology, and nephrology specialists.
func DefaultMedicalTeam(modelName string) model.TeamConfiguration {
	return model.TeamConfiguration{
		Leader: New(
			"Chief Medical Officer",
			"clinical governance and multidisciplinary coordination",
			"lead the panel to a single safe and actionable plan for the case",
			model.RoleLeader,
			modelName,
		),
		Specialists: []model.AgentPersona{
			New(
				"Cardiologist",
				"cardiac rhythm management and anticoagulation strategy",
				"assess cardiac risk and recommend a rhythm or rate strategy",
				model.RoleSpecialist,
				modelName,
			),
			New(
				"Hematologist",
				"coagulation disorders and bleeding risk",
				"balance thrombosis prevention against bleeding risk",
				model.RoleSpecialist,
				modelName,
			),
			New(
				"Nephrologist",
				"renal function and drug dosing in kidney disease",
				"evaluate renal contributions and required dose adjustments",
				model.RoleSpecialist,
				modelName,
			),
		},
	}
}

// Validate rejects team configurations that cannot produce a run.
// Returns an error wrapping ErrInvalidTeam; the run must not start.
func Validate(team model.TeamConfiguration, rounds int) error {
	if team.Leader.ID == "" || team.Leader.Title == "" {
		return fmt.Errorf("%w: missing leader", ErrInvalidTeam)
	}
	if team.Leader.Role != model.RoleLeader {
		return fmt.Errorf("%w: leader %q has role %q", ErrInvalidTeam, team.Leader.ID, team.Leader.Role)
	}
	if len(team.Specialists) == 0 {
		return fmt.Errorf("%w: no specialists", ErrInvalidTeam)
	}
	if rounds < 1 {
		return fmt.Errorf("%w: rounds must be at least 1, got %d", ErrInvalidTeam, rounds)
	}

	seen := map[string]bool{team.Leader.ID: true}
	for _, sp := range team.Specialists {
		if sp.ID == "" || sp.Title == "" {
			return fmt.Errorf("%w: specialist with empty id or title", ErrInvalidTeam)
		}
		if sp.Role != model.RoleSpecialist {
			return fmt.Errorf("%w: specialist %q has role %q", ErrInvalidTeam, sp.ID, sp.Role)
		}
		if seen[sp.ID] {
			return fmt.Errorf("%w: duplicate persona id %q", ErrInvalidTeam, sp.ID)
		}
		seen[sp.ID] = true
	}

	return nil
}

// ModelPolicy rewrites persona model names before a run. Rules come from
// configuration; fast mode forces every profile to the light model.
type ModelPolicy struct {
	Rules     []config.ModelRule
	FastModel string
}

// Apply returns a copy of the team with the policy applied. The input
// team is never mutated.
func (p ModelPolicy) Apply(team model.TeamConfiguration, fast bool) model.TeamConfiguration {
	out := model.TeamConfiguration{
		Leader:      p.applyOne(team.Leader, fast),
		Specialists: make([]model.AgentPersona, len(team.Specialists)),
	}
	for i, sp := range team.Specialists {
		out.Specialists[i] = p.applyOne(sp, fast)
	}
	return out
}

func (p ModelPolicy) applyOne(persona model.AgentPersona, fast bool) model.AgentPersona {
	if fast && p.FastModel != "" {
		persona.Model = model.ModelProfile{Name: p.FastModel, Tier: model.TierLight}
		return persona
	}
	persona.Model.Name = config.ApplyRules(p.Rules, persona.Model.Name)
	return persona
}
