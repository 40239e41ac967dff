package handlers

import (
	"net/http"

	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/gin-gonic/gin"
)

type RuntimeHandler struct {
	studio *Studio
}

func NewRuntimeHandler(studio *Studio) *RuntimeHandler {
	return &RuntimeHandler{studio: studio}
}

// GetSnapshot returns the current tools, logs and metrics
func (h *RuntimeHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.studio.Runtime.Snapshot())
}

// StreamSnapshot pushes a snapshot on every runtime state change
func (h *RuntimeHandler) StreamSnapshot(c *gin.Context) {
	rt := h.studio.Runtime
	streamUpdates(c, rt.Snapshot(), rt.SubscribeSnapshot)
}

// GetHistory returns the tool-call records of the current run
func (h *RuntimeHandler) GetHistory(c *gin.Context) {
	history := h.studio.Runtime.History()
	if history == nil {
		history = []runtime.ToolCallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}
