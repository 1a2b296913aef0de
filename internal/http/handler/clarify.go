package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/dto"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/service"
)

type ClarifyHandler struct {
	runs service.RunService
}

func NewClarifyHandler(runs service.RunService) *ClarifyHandler {
	return &ClarifyHandler{runs: runs}
}

// Suggest returns clarifying questions for a case. Suggestion is
// best-effort, so the response is 200 with an empty list when the
// assistant is unavailable.
func (h *ClarifyHandler) Suggest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SuggestClarificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid clarification request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	questions := h.runs.Suggest(ctx, model.Case{
		Agenda:    req.Agenda,
		Questions: req.Questions,
		Rules:     req.Rules,
	})
	if questions == nil {
		questions = []string{}
	}

	c.JSON(http.StatusOK, dto.SuggestClarificationsResponse{Questions: questions})
}
