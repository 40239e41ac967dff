package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Conceptual-Machines/magda-composer/internal/agent"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/gin-gonic/gin"
)

type AgentHandler struct {
	studio *Studio
}

func NewAgentHandler(studio *Studio) *AgentHandler {
	return &AgentHandler{studio: studio}
}

// StartRun launches a background run. The run outlives the request.
func (h *AgentHandler) StartRun(c *gin.Context) {
	var req agent.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Detach from the request so resolving a provider is not cut short
	// when the client disconnects
	id, err := h.studio.Agent.Start(context.WithoutCancel(c.Request.Context()), req)
	if errors.Is(err, agent.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Warn("Failed to start agent run", logger.WithContext(c).With(logger.Fields{"error": err.Error()}))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id, "status": h.studio.Agent.Status()})
}

// StopRun cancels the current run; it is a no-op when idle
func (h *AgentHandler) StopRun(c *gin.Context) {
	h.studio.Agent.Stop()
	c.JSON(http.StatusOK, h.studio.Agent.Status())
}

func (h *AgentHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.studio.Agent.Status())
}

// StreamStatus pushes every status change
func (h *AgentHandler) StreamStatus(c *gin.Context) {
	a := h.studio.Agent
	streamUpdates(c, a.Status(), a.Subscribe)
}
