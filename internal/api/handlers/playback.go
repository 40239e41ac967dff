package handlers

import (
	"net/http"

	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/gin-gonic/gin"
)

type PlaybackHandler struct {
	studio *Studio
}

func NewPlaybackHandler(studio *Studio) *PlaybackHandler {
	return &PlaybackHandler{studio: studio}
}

type PlayRequest struct {
	Loop bool `json:"loop"`
}

type LoopRequest struct {
	Loop bool `json:"loop"`
}

type MuteRequest struct {
	Track string `json:"track" binding:"required"`
	Muted bool   `json:"muted"`
}

type VolumeRequest struct {
	Track  string   `json:"track" binding:"required"`
	Volume *float64 `json:"volume" binding:"required"`
}

// Play starts playback of the live document from the top
func (h *PlaybackHandler) Play(c *gin.Context) {
	var req PlayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	comp, err := h.studio.Composition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if len(comp.Notes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": audio.ErrEmptyComposition.Error()})
		return
	}
	h.studio.Player.Play(comp, req.Loop)
	c.JSON(http.StatusOK, h.studio.Player.State())
}

func (h *PlaybackHandler) Stop(c *gin.Context) {
	h.studio.Player.Stop()
	c.JSON(http.StatusOK, h.studio.Player.State())
}

func (h *PlaybackHandler) SetLoop(c *gin.Context) {
	var req LoopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.studio.Player.SetLooping(req.Loop)
	c.JSON(http.StatusOK, h.studio.Player.State())
}

func (h *PlaybackHandler) Mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.studio.Player.Mute(req.Track, req.Muted)
	c.JSON(http.StatusOK, h.studio.Player.State())
}

// SetVolume changes the live level of one track without touching the document
func (h *PlaybackHandler) SetVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Volume < 0 || *req.Volume > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume must be between 0 and 1"})
		return
	}
	h.studio.Player.SetTrackVolume(req.Track, *req.Volume)
	c.JSON(http.StatusOK, h.studio.Player.State())
}

func (h *PlaybackHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":    h.studio.Player.State(),
		"playhead": h.studio.Player.CurrentPlayhead(),
	})
}

// StreamPlayhead pushes playhead updates at display rate
func (h *PlaybackHandler) StreamPlayhead(c *gin.Context) {
	p := h.studio.Player
	streamUpdates(c, p.CurrentPlayhead(), p.SubscribePlayhead)
}
