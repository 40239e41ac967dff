package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// ErrInstrumentUnavailable means the provider has no player for a family;
// the caller falls back to procedural synthesis.
var ErrInstrumentUnavailable = errors.New("instrument unavailable")

// PlayOptions shape one sampled note
type PlayOptions struct {
	Gain     float64
	Duration float64 // seconds until note-off
	Release  float64 // tail after note-off
	Loop     bool
}

// Instrument is a loaded sample-based player. The mixer schedules and
// connects its voices; Play returns the voice for one note.
type Instrument interface {
	Play(midi int, opts PlayOptions) Voice
}

// InstrumentProvider loads players asynchronously
type InstrumentProvider interface {
	Load(ctx context.Context, family composition.Family, variant string) (Instrument, error)
}

const (
	sampleRootMIDI    = 60
	sustainedRelease  = 1.2
	percussiveRelease = 0.35
)

// ReleaseFor is the note-off tail the scheduler passes to sampled players
func ReleaseFor(family composition.Family) float64 {
	if family.IsSustained() {
		return sustainedRelease
	}
	return percussiveRelease
}

// SampleBank serves single-sample instruments from a directory laid out as
// <dir>/<family>/<variant>.wav or <dir>/<family>.wav, recorded at C4.
type SampleBank struct {
	dir        string
	sampleRate int

	mu    sync.Mutex
	cache map[string]*sampleInstrument
}

// NewSampleBank serves samples from dir, resampled to sampleRate
func NewSampleBank(dir string, sampleRate int) *SampleBank {
	return &SampleBank{dir: dir, sampleRate: sampleRate, cache: make(map[string]*sampleInstrument)}
}

// Load implements InstrumentProvider
func (b *SampleBank) Load(ctx context.Context, family composition.Family, variant string) (Instrument, error) {
	if b == nil || b.dir == "" {
		return nil, ErrInstrumentUnavailable
	}
	if family.IsPercussion() {
		// drum kits map pitches to different hits; one sample cannot cover them
		return nil, ErrInstrumentUnavailable
	}

	key := string(family) + "/" + variant
	b.mu.Lock()
	if inst, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return inst, nil
	}
	b.mu.Unlock()

	candidates := []string{filepath.Join(b.dir, string(family)+".wav")}
	if variant != "" {
		candidates = append([]string{filepath.Join(b.dir, string(family), sanitizeVariant(variant)+".wav")}, candidates...)
	}

	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		data, rate, err := ReadWAV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %s: %w", path, err)
		}
		inst := &sampleInstrument{
			data:    data,
			rate:    float64(rate) / float64(b.sampleRate),
			outRate: float64(b.sampleRate),
		}
		b.mu.Lock()
		b.cache[key] = inst
		b.mu.Unlock()
		return inst, nil
	}
	return nil, fmt.Errorf("%w: no sample for %s", ErrInstrumentUnavailable, key)
}

func sanitizeVariant(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, v)
}

type sampleInstrument struct {
	data    []float64
	rate    float64 // source rate over output rate
	outRate float64
}

func (s *sampleInstrument) Play(midi int, opts PlayOptions) Voice {
	step := s.rate * math.Pow(2, float64(midi-sampleRootMIDI)/12)
	return &sampleVoice{
		data: s.data,
		step: step,
		gain: opts.Gain,
		loop: opts.Loop,
		env:  NewADSR(Envelope{Attack: 0.002, Sustain: 1, Release: opts.Release}, s.outRate, opts.Duration),
	}
}

type sampleVoice struct {
	data []float64
	pos  float64
	step float64
	gain float64
	loop bool
	env  *ADSR
}

func (v *sampleVoice) Stop(seconds float64) {
	v.env.Release(seconds)
}

func (v *sampleVoice) Render(buf []float64) bool {
	n := float64(len(v.data))
	for i := range buf {
		if v.env.Done() {
			return false
		}
		if v.pos >= n-1 {
			if !v.loop || n < 2 {
				return false
			}
			v.pos = math.Mod(v.pos, n-1)
		}
		idx := int(v.pos)
		frac := v.pos - float64(idx)
		s := v.data[idx]*(1-frac) + v.data[idx+1]*frac
		buf[i] += s * v.gain * v.env.Next()
		v.pos += v.step
	}
	return !v.env.Done()
}
