package audio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

const (
	// DefaultTail leaves room for releases, delays and reverb after the last note
	DefaultTail = 2.0
	// DefaultMaxRenderSeconds bounds the length of a single bounce
	DefaultMaxRenderSeconds = 600.0
	renderChunk             = 8192
)

var (
	ErrEmptyComposition = errors.New("composition has no notes")
	ErrRenderTooLong    = errors.New("render exceeds the maximum length")
)

// OfflineOptions control a bounce
type OfflineOptions struct {
	SampleRate int
	Tail       float64
	Loops      int
	// MaxSeconds caps loops plus tail; DefaultMaxRenderSeconds when zero
	MaxSeconds  float64
	Instruments InstrumentProvider
	// Progress is called after each rendered chunk with frames done and total
	Progress func(done, total int)
}

// RenderOffline places every note at its absolute time and renders the
// whole piece in a single pass.
func RenderOffline(ctx context.Context, comp *composition.Composition, opts OfflineOptions) (*Buffer, error) {
	if comp == nil || len(comp.Notes) == 0 {
		return nil, ErrEmptyComposition
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Tail <= 0 {
		opts.Tail = DefaultTail
	}
	if opts.Loops <= 0 {
		opts.Loops = 1
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = DefaultMaxRenderSeconds
	}

	// checked before any allocation
	length := comp.TotalBeats*comp.SecondsPerBeat()*float64(opts.Loops) + opts.Tail
	if math.IsNaN(length) || length > opts.MaxSeconds {
		return nil, fmt.Errorf("%w: %.1fs requested, limit %.0fs", ErrRenderTooLong, length, opts.MaxSeconds)
	}

	// notes may name tracks that were never created; give them defaults
	comp = comp.Clone()
	for _, n := range comp.Notes {
		comp.EnsureTrack(n.Track, "")
	}

	engine := NewEngine(opts.SampleRate)
	instruments := make(map[string]Instrument)
	for _, name := range comp.TrackNames() {
		t := comp.Tracks[name]
		engine.EnsureChannel(BuildChain(t), t.Volume)
		if opts.Instruments == nil {
			continue
		}
		inst, err := opts.Instruments.Load(ctx, t.Family, t.Variant)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// synthesis fallback, same as live playback
			continue
		}
		instruments[name] = inst
	}

	spb := comp.SecondsPerBeat()
	loopLen := comp.TotalBeats * spb
	notes := comp.SortedNotes()
	for pass := 0; pass < opts.Loops; pass++ {
		offset := float64(pass) * loopLen
		for _, n := range notes {
			if ev, ok := noteEvent(comp.Tracks[n.Track], n, offset+n.Beat*spb, spb, instruments[n.Track]); ok {
				engine.ScheduleNote(ev)
			}
		}
	}

	total := int(math.Ceil((loopLen*float64(opts.Loops) + opts.Tail) * float64(opts.SampleRate)))
	buf := &Buffer{SampleRate: opts.SampleRate, Samples: make([]float32, total*2)}
	for done := 0; done < total; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render canceled: %w", err)
		}
		n := min(renderChunk, total-done)
		engine.Render(buf.Samples[done*2 : (done+n)*2])
		done += n
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}
	return buf, nil
}
