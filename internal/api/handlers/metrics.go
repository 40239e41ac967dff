package handlers

import (
	"fmt"
	"net/http"
	goruntime "runtime"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/agent"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/gin-gonic/gin"
)

type MetricsHandler struct {
	startTime time.Time
	version   string
	studio    *Studio
}

func NewMetricsHandler(version string, studio *Studio) *MetricsHandler {
	return &MetricsHandler{
		startTime: time.Now(),
		version:   version,
		studio:    studio,
	}
}

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
)

// formatUptime formats the uptime duration with seconds rounded to 2 decimal places
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % secondsPerMinute
	seconds := d.Seconds() - float64(hours*secondsPerHour) - float64(minutes*secondsPerMinute)

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%.2fs", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%.2fs", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", seconds)
}

type MetricsResponse struct {
	Status    string          `json:"status"`
	Uptime    string          `json:"uptime"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	StartTime string          `json:"start_time"`
	System    SystemMetrics   `json:"system"`
	Runtime   runtime.Metrics `json:"runtime"`
	Agent     agent.State     `json:"agent"`
	Playing   bool            `json:"playing"`
}

type SystemMetrics struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
	MemTotalMB   uint64 `json:"mem_total_mb"`
	NumGC        uint32 `json:"num_gc"`
}

const (
	bytesToMB = 1024 * 1024
)

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	metrics := MetricsResponse{
		Status:    "healthy",
		Uptime:    formatUptime(uptime),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		StartTime: h.startTime.UTC().Format(time.RFC3339),
		System: SystemMetrics{
			GoVersion:    goruntime.Version(),
			NumGoroutine: goruntime.NumGoroutine(),
			MemAllocMB:   m.Alloc / bytesToMB,
			MemTotalMB:   m.TotalAlloc / bytesToMB,
			NumGC:        m.NumGC,
		},
		Runtime: h.studio.Runtime.Metrics(),
	}
	if h.studio.Agent != nil {
		metrics.Agent = h.studio.Agent.Status().State
	}
	if h.studio.Player != nil {
		metrics.Playing = h.studio.Player.State().Playing
	}

	c.JSON(http.StatusOK, metrics)
}
