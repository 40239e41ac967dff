package tools

import (
	"math"
	"math/rand"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// Catalog builds the tool definitions that operate on a composition.
// Executors mutate the composition without locking; the runtime that owns
// the catalog serializes them.
type Catalog struct {
	comp *composition.Composition
	rng  *rand.Rand
	now  func() time.Time
}

// Option configures a Catalog
type Option func(*Catalog)

// WithSeed makes humanization reproducible
func WithSeed(seed int64) Option {
	return func(c *Catalog) {
		c.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock overrides the timestamp source for new notes
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// NewCatalog creates a catalog over comp
func NewCatalog(comp *composition.Composition, opts ...Option) *Catalog {
	if comp == nil {
		comp = composition.New()
	}
	c := &Catalog{
		comp: comp,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Composition returns the live document. Only touch it from the runtime's
// worker (for example inside runtime.Exec or a tool-call subscriber).
func (c *Catalog) Composition() *composition.Composition {
	return c.comp
}

// Replace swaps the live document, used when restoring a shared run
func (c *Catalog) Replace(comp *composition.Composition) {
	c.comp = comp
}

// Reseed resets the random source used by humanize_track
func (c *Catalog) Reseed(seed int64) {
	c.rng = rand.New(rand.NewSource(seed))
}

// Definitions returns every tool in a stable order
func (c *Catalog) Definitions() []Definition {
	return []Definition{
		c.setTempo(),
		c.setTimeSignature(),
		c.setInstrument(),
		c.setVolume(),
		c.setPan(),
		c.setReverb(),
		c.setDelay(),
		c.setDistortion(),
		c.setLFO(),
		c.setEQ(),
		c.customizeInstrument(),
		c.addNote(),
		c.addNotes(),
		c.addChord(),
		c.addPercussionBar(),
		c.humanizeTrack(),
		c.clearTrack(),
		c.getScaleNotes(),
		c.getChordNotes(),
		c.listInstruments(),
		c.getCompositionState(),
		c.verifyComposition(),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// track returns the named track, creating it from its name when absent
func (c *Catalog) track(name string) *composition.Track {
	t, _ := c.comp.EnsureTrack(name, "")
	return t
}

func trackParam() *Param {
	return propString("Track name, e.g. \"bass\", \"lead\", \"drums\"")
}
