package dto

import "consilium.app/panel/internal/model"

type PersonaResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Expertise string `json:"expertise"`
	Goal      string `json:"goal"`
	Role      string `json:"role"`
	Model     string `json:"model"`
}

type TeamResponse struct {
	Leader      PersonaResponse   `json:"leader"`
	Specialists []PersonaResponse `json:"specialists"`
}

func ToPersonaResponse(p model.AgentPersona) PersonaResponse {
	return PersonaResponse{
		ID:        p.ID,
		Title:     p.Title,
		Expertise: p.Expertise,
		Goal:      p.Goal,
		Role:      string(p.Role),
		Model:     p.Model.Name,
	}
}

func ToTeamResponse(team model.TeamConfiguration) TeamResponse {
	out := TeamResponse{
		Leader:      ToPersonaResponse(team.Leader),
		Specialists: make([]PersonaResponse, len(team.Specialists)),
	}
	for i, sp := range team.Specialists {
		out.Specialists[i] = ToPersonaResponse(sp)
	}
	return out
}
