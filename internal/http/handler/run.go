package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/dto"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/service"
	"consilium.app/panel/internal/store"
)

type RunHandler struct {
	runs         service.RunService
	defaultModel string
}

func NewRunHandler(runs service.RunService, defaultModel string) *RunHandler {
	return &RunHandler{runs: runs, defaultModel: defaultModel}
}

// Create starts a consultation. Synchronous requests block until the run
// reaches a terminal state; async requests enqueue and return the id to
// poll.
func (h *RunHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid run request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := service.RunInput{
		Case:     dto.ToCase(req),
		Exchange: dto.ToExchange(req.Clarifications),
		Team:     dto.ToTeamConfiguration(req.Team, h.defaultModel),
		Config:   dto.ToRunConfig(req),
	}

	if req.Async {
		rec, err := h.runs.Enqueue(ctx, in)
		if err != nil {
			h.writeRunError(c, rec, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.EnqueuedRunResponse{RunID: rec.ID, Status: rec.Status})
		return
	}

	rec, err := h.runs.Execute(ctx, in)
	if err != nil {
		h.writeRunError(c, rec, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToRunResponse(rec))
}

func (h *RunHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	rec, err := h.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load run", "error", err, "run_id", runID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}

	c.JSON(http.StatusOK, dto.ToRunResponse(rec))
}

func (h *RunHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRecent(ctx, int32(limit))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunSummary, len(runs))}
	for i, rec := range runs {
		resp.Runs[i] = dto.ToRunSummary(rec)
	}
	c.JSON(http.StatusOK, resp)
}

// Transcript renders the stored run as markdown.
func (h *RunHandler) Transcript(c *gin.Context) {
	ctx := c.Request.Context()

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	md, err := h.runs.Transcript(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to render transcript", "error", err, "run_id", runID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render transcript"})
		return
	}

	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}

// writeRunError maps run submission failures onto status codes: broken
// rosters are the client's fault, recorded run failures are an upstream
// deliberation problem, everything else is internal.
func (h *RunHandler) writeRunError(c *gin.Context, rec *model.RunRecord, err error) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, persona.ErrInvalidTeam):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRunFailed):
		body := gin.H{"error": "run failed"}
		if rec != nil {
			body["run_id"] = strconv.FormatInt(rec.ID, 10)
			body["reason"] = rec.FailureReason
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, service.ErrQueueDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async runs are not available"})
	default:
		slog.ErrorContext(ctx, "run execution failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to execute run"})
	}
}

func parseRunID(c *gin.Context) (int64, bool) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return 0, false
	}
	return runID, true
}
