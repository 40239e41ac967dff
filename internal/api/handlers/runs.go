package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/Conceptual-Machines/magda-composer/internal/storage"
	"github.com/gin-gonic/gin"
)

type RunsHandler struct {
	studio *Studio
	store  storage.Store
}

func NewRunsHandler(studio *Studio, store storage.Store) *RunsHandler {
	return &RunsHandler{studio: studio, store: store}
}

type ShareRequest struct {
	Objective string `json:"objective"`
	Model     string `json:"model"`
}

// ShareRun persists the live document with the current history and
// metrics. Objective and model default to the last agent run.
func (h *RunsHandler) ShareRun(c *gin.Context) {
	var req ShareRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if h.studio.agentRunning() {
		h.studio.respondRunning(c)
		return
	}
	var replay *share.Replay
	if h.studio.Agent != nil {
		status := h.studio.Agent.Status()
		if req.Objective == "" {
			req.Objective = status.Objective
		}
		if req.Model == "" {
			req.Model = status.Model
		}
		if status.StartedAt != nil && status.FinishedAt != nil {
			replay = &share.Replay{Seed: h.studio.Seed, StartedAt: *status.StartedAt, EndedAt: *status.FinishedAt}
		}
	}

	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	run := share.NewRun(comp, req.Objective, req.Model, h.studio.Runtime.Metrics(), h.studio.Runtime.History())
	run.Replay = replay
	if err := h.store.Save(c.Request.Context(), run); err != nil {
		logger.Error("Failed to save run", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save run"})
		return
	}
	code, err := run.Code()
	if err != nil {
		logger.Error("Failed to encode run", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode run"})
		return
	}

	logger.Info("Run shared", logger.WithContext(c).With(logger.Fields{
		"run_id": run.ID,
		"notes":  len(comp.Notes),
	}))
	c.JSON(http.StatusCreated, gin.H{"id": run.ID, "code": code})
}

func (h *RunsHandler) ListRuns(c *gin.Context) {
	limit := storage.DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list runs", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []storage.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *RunsHandler) GetRun(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// RestoreRun loads a stored run into the session: the document is
// replaced and metrics and history are rebuilt without re-running tools
func (h *RunsHandler) RestoreRun(c *gin.Context) {
	if h.studio.agentRunning() {
		h.studio.respondRunning(c)
		return
	}
	run, ok := h.load(c)
	if !ok {
		return
	}
	if h.studio.Player != nil {
		h.studio.Player.Stop()
	}
	summary, err := h.studio.Replace(c.Request.Context(), run.Composition)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if run.Replay != nil {
		seed := run.Replay.Seed
		if err := h.studio.Runtime.Exec(c.Request.Context(), func() { h.studio.Catalog.Reseed(seed) }); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	}
	h.studio.Runtime.RestoreFromHistory(run.Metrics, run.History)
	if run.Objective != "" {
		h.studio.Runtime.SetScene(run.Objective)
	}

	logger.Info("Run restored", logger.WithContext(c).With(logger.Fields{
		"run_id":     run.ID,
		"tool_calls": len(run.History),
	}))
	c.JSON(http.StatusOK, gin.H{
		"id":        run.ID,
		"objective": run.Objective,
		"summary":   summary,
	})
}

func (h *RunsHandler) load(c *gin.Context) (*share.Run, bool) {
	run, err := h.store.Load(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	if err != nil {
		logger.Error("Failed to load run", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return nil, false
	}
	return run, true
}
