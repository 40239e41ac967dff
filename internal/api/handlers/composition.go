package handlers

import (
	"errors"
	"net/http"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/gin-gonic/gin"
)

type CompositionHandler struct {
	studio *Studio
}

func NewCompositionHandler(studio *Studio) *CompositionHandler {
	return &CompositionHandler{studio: studio}
}

type LoadCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// GetComposition returns the full document plus its state summary
func (h *CompositionHandler) GetComposition(c *gin.Context) {
	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"composition": comp,
		"summary":     tools.StateSummary(comp),
	})
}

// Verify runs the completeness audit without recording a tool call
func (h *CompositionHandler) Verify(c *gin.Context) {
	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tools.Verify(comp))
}

// GetCode returns the compact share code of the live document
func (h *CompositionHandler) GetCode(c *gin.Context) {
	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	var code string
	if c.Query("compressed") == "false" {
		code, err = share.EncodeUncompressed(comp)
	} else {
		code, err = share.Encode(comp)
	}
	if err != nil {
		logger.Error("Failed to encode composition", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode composition"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "noteCount": len(comp.Notes)})
}

// LoadCode replaces the live document with a decoded share code
func (h *CompositionHandler) LoadCode(c *gin.Context) {
	var req LoadCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.studio.agentRunning() {
		h.studio.respondRunning(c)
		return
	}

	comp, err := share.Decode(req.Code)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, share.ErrInvalidCode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	fields := logger.Fields{
		"notes":  len(comp.Notes),
		"tracks": len(comp.Tracks),
	}
	summary, err := h.studio.Replace(c.Request.Context(), comp)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	logger.Info("Composition loaded from code", logger.WithContext(c).With(fields))
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// Reset stops playback and starts an empty document
func (h *CompositionHandler) Reset(c *gin.Context) {
	if h.studio.agentRunning() {
		h.studio.respondRunning(c)
		return
	}
	if h.studio.Player != nil {
		h.studio.Player.Stop()
	}
	summary, err := h.studio.Replace(c.Request.Context(), composition.New())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
