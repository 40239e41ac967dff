package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	cfg    *config.Config
	studio *Studio
}

func NewHealthHandler(cfg *config.Config, studio *Studio) *HealthHandler {
	return &HealthHandler{cfg: cfg, studio: studio}
}

// HealthCheck reports whether the tool runtime is still serving calls
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	runtimeStatus := "ok"
	if err := h.studio.Runtime.Exec(ctx, func() {}); err != nil {
		status = http.StatusServiceUnavailable
		runtimeStatus = err.Error()
	}

	body := gin.H{
		"status":  "healthy",
		"runtime": runtimeStatus,
		"audio": gin.H{
			"output":      h.cfg.AudioOutput,
			"sample_rate": h.cfg.SampleRate,
		},
		"storage": h.cfg.StorageType,
		"llm": gin.H{
			"openai": h.cfg.OpenAIAPIKey != "",
			"gemini": h.cfg.GeminiAPIKey != "",
		},
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}
