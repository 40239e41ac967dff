package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/gin-gonic/gin"
)

const maxExportLoops = 8

type ExportHandler struct {
	studio *Studio
}

func NewExportHandler(studio *Studio) *ExportHandler {
	return &ExportHandler{studio: studio}
}

// ExportWAV bounces the live document offline to 16-bit PCM
func (h *ExportHandler) ExportWAV(c *gin.Context) {
	loops := 1
	if v := c.Query("loops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxExportLoops {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("loops must be between 1 and %d", maxExportLoops)})
			return
		}
		loops = n
	}

	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	buf, err := audio.RenderOffline(c.Request.Context(), comp, audio.OfflineOptions{
		SampleRate:  h.studio.SampleRate,
		Loops:       loops,
		MaxSeconds:  h.studio.MaxRender.Seconds(),
		Instruments: h.studio.Instruments,
	})
	if errors.Is(err, audio.ErrEmptyComposition) || errors.Is(err, audio.ErrRenderTooLong) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Error("Offline render failed", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}

	var out bytes.Buffer
	if err := audio.WriteWAV(&out, buf); err != nil {
		logger.Error("Failed to encode WAV", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode audio"})
		return
	}

	logger.Info("Composition rendered", logger.WithContext(c).With(logger.Fields{
		"seconds":     buf.Duration(),
		"peak":        buf.Peak(),
		"duration_ms": time.Since(start).Milliseconds(),
	}))
	c.Header("Content-Disposition", `attachment; filename="composition.wav"`)
	c.Data(http.StatusOK, "audio/wav", out.Bytes())
}

// ExportMIDI writes the live document as a Standard MIDI File
func (h *ExportHandler) ExportMIDI(c *gin.Context) {
	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if len(comp.Notes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": audio.ErrEmptyComposition.Error()})
		return
	}

	var out bytes.Buffer
	if err := audio.ExportMIDI(&out, comp); err != nil {
		logger.Error("Failed to export MIDI", err, logger.WithContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export MIDI"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="composition.mid"`)
	c.Data(http.StatusOK, "audio/midi", out.Bytes())
}
