package audio

import (
	"testing"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryFamilyHasAPatch(t *testing.T) {
	for _, f := range composition.Families() {
		t.Run(string(f), func(t *testing.T) {
			_, ok := patches[f]
			require.True(t, ok)

			spec := Patch(composition.NewTrack("t", f), NoteParams{MIDI: 60, Velocity: 100, Duration: 0.5})
			assert.Equal(t, f, spec.Family)
			assert.Greater(t, spec.Frequency, 0.0)
			assert.Greater(t, spec.Gain, 0.0)
			assert.True(t, len(spec.Oscillators) > 0 || spec.Noise > 0)
			assert.Equal(t, 0.5, spec.Duration)
		})
	}
}

func TestPatchUnknownFamilyFallsBack(t *testing.T) {
	spec := Patch(&composition.Track{Name: "x", Family: "theremin"}, NoteParams{MIDI: 69, Velocity: 127, Duration: 1})
	assert.Equal(t, composition.DefaultFamily, spec.Family)
	assert.InDelta(t, 440.0, spec.Frequency, 1e-9)
}

func TestPatchAppliesTrackSynthParams(t *testing.T) {
	track := composition.NewTrack("lead", composition.FamilyLead)
	track.Synth = &composition.SynthParams{
		Waveform:     "triangle",
		FilterCutoff: 800,
		FilterQ:      4,
		Attack:       0.2,
		Release:      0.9,
		DetuneCents:  10,
	}
	track.LFO = &composition.LFO{Type: "vibrato", Rate: 6, Depth: 0.5}

	spec := Patch(track, NoteParams{MIDI: 60, Velocity: 100, Duration: 1})
	for _, osc := range spec.Oscillators {
		assert.Equal(t, WaveTriangle, osc.Wave)
	}
	require.NotNil(t, spec.Filter)
	assert.Equal(t, Constant(800), spec.Filter.Cutoff)
	assert.Equal(t, 4.0, spec.Filter.Q)
	assert.Equal(t, 0.2, spec.Env.Attack)
	assert.Equal(t, 0.9, spec.Env.Release)
	assert.Equal(t, -10.0, spec.Oscillators[0].DetuneCents)
	assert.Equal(t, 10.0, spec.Oscillators[len(spec.Oscillators)-1].DetuneCents)
	require.NotNil(t, spec.LFO)
	assert.Equal(t, 6.0, spec.LFO.Rate)
}

func TestPercussionIgnoresSynthParams(t *testing.T) {
	track := composition.NewTrack("kick", composition.FamilyKick)
	track.Synth = &composition.SynthParams{Waveform: "square"}
	spec := Patch(track, NoteParams{MIDI: 36, Velocity: 100, Duration: 0.1})
	assert.Equal(t, WaveSine, spec.Oscillators[0].Wave)
	require.NotNil(t, spec.PitchSweep)
}

func TestDrumKitRouting(t *testing.T) {
	tests := []struct {
		pitch string
		noise bool
		sweep bool
	}{
		{"C2", false, true},  // kick
		{"D2", true, false},  // snare
		{"F#2", true, false}, // closed hat
		{"C#3", true, false}, // crash
	}
	for _, tt := range tests {
		t.Run(tt.pitch, func(t *testing.T) {
			midi, err := composition.PitchToMIDI(tt.pitch)
			require.NoError(t, err)
			spec := patchDrumKit(NoteParams{MIDI: midi, Velocity: 100})
			assert.Equal(t, tt.noise, spec.Noise > 0)
			assert.Equal(t, tt.sweep, spec.PitchSweep != nil)
		})
	}
}

func TestSweep(t *testing.T) {
	s := Sweep{Start: 1000, End: 100, Time: 1}
	assert.Equal(t, 1000.0, s.At(0))
	assert.InDelta(t, 316.227, s.At(0.5), 1e-3)
	assert.Equal(t, 100.0, s.At(2))
	assert.Equal(t, 50.0, Constant(50).At(3))
}

func TestBuildChain(t *testing.T) {
	track := composition.NewTrack("gtr", composition.FamilyGuitar)
	track.Pan = -0.5
	track.Distortion = &composition.Distortion{Type: "fuzz", Drive: 0.5, Mix: 0.6, OutputGain: 1}
	track.Delay = &composition.Delay{Time: 0.25, Feedback: 0.3, Mix: 0}
	track.EQ = &composition.EQ{HighpassHz: 120, LowpassHz: 8000}

	chain := BuildChain(track)
	assert.Equal(t, "gtr", chain.Track)
	assert.Equal(t, -0.5, chain.Pan)
	assert.Equal(t, track.ReverbSend, chain.ReverbSend)
	require.NotNil(t, chain.Distortion)
	assert.Nil(t, chain.Delay, "a zero-mix effect is not part of the chain")
	assert.Equal(t, 120.0, chain.HighpassHz)
	assert.Equal(t, 8000.0, chain.LowpassHz)
	assert.Equal(t, trackCompressor, chain.Compressor)
}
