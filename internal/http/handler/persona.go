package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/dto"
	"consilium.app/panel/internal/persona"
)

type PersonaHandler struct {
	defaultModel string
}

func NewPersonaHandler(defaultModel string) *PersonaHandler {
	return &PersonaHandler{defaultModel: defaultModel}
}

// Roster returns the default panel so clients can show or edit the team
// before submitting a run.
func (h *PersonaHandler) Roster(c *gin.Context) {
	team := persona.DefaultMedicalTeam(h.defaultModel)
	c.JSON(http.StatusOK, dto.ToTeamResponse(team))
}
