package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/agent"
	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/gin-gonic/gin"
)

// AgentController is the part of the agent loop the API drives
type AgentController interface {
	Start(ctx context.Context, req agent.RunRequest) (uint64, error)
	Stop()
	Status() agent.Status
	Subscribe(fn func(agent.Status)) func()
}

// Player is the part of the scheduler the API drives
type Player interface {
	Play(comp *composition.Composition, loop bool)
	Stop()
	SetLooping(loop bool)
	Mute(track string, muted bool)
	SetTrackVolume(track string, volume float64)
	UpdateComposition(comp *composition.Composition)
	State() audio.State
	CurrentPlayhead() audio.Playhead
	SubscribePlayhead(fn func(audio.Playhead)) func()
}

// Studio bundles the live session every handler works against. The
// composition belongs to the runtime worker, so reads and swaps go through
// Runtime.Exec.
type Studio struct {
	Runtime *runtime.Runtime
	Catalog *tools.Catalog
	Agent   AgentController
	Player  Player
	// Seed the catalog's humanizer started from, stored with shared runs
	Seed int64
	// Render settings for exports
	SampleRate  int
	MaxRender   time.Duration
	Instruments audio.InstrumentProvider
}

// Composition returns a private copy of the live document
func (s *Studio) Composition(ctx context.Context) (*composition.Composition, error) {
	var out *composition.Composition
	err := s.Runtime.Exec(ctx, func() {
		out = s.Catalog.Composition().Clone()
	})
	return out, err
}

// Replace swaps the live document and hands a copy to the player. comp
// belongs to the runtime afterwards; the returned summary is taken on the
// worker during the swap.
func (s *Studio) Replace(ctx context.Context, comp *composition.Composition) (tools.Result, error) {
	var (
		summary tools.Result
		clone   *composition.Composition
	)
	if err := s.Runtime.Exec(ctx, func() {
		s.Catalog.Replace(comp)
		summary = tools.StateSummary(comp)
		clone = comp.Clone()
	}); err != nil {
		return nil, err
	}
	if s.Player != nil {
		s.Player.UpdateComposition(clone)
	}
	return summary, nil
}

// agentRunning guards operations that would pull the document out from
// under an active run
func (s *Studio) agentRunning() bool {
	return s.Agent != nil && s.Agent.Status().State == agent.StateRunning
}

func (s *Studio) respondRunning(c *gin.Context) {
	c.JSON(http.StatusConflict, gin.H{"error": "an agent run is in progress"})
}
