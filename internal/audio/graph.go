package audio

import (
	"math"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// Waveform of a procedural oscillator
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSquare   Waveform = "square"
	WaveSawtooth Waveform = "sawtooth"
	WaveTriangle Waveform = "triangle"
)

// FilterType selects the biquad response
type FilterType string

const (
	FilterLowpass  FilterType = "lowpass"
	FilterHighpass FilterType = "highpass"
	FilterBandpass FilterType = "bandpass"
)

// Sweep glides exponentially from Start to End over Time seconds
type Sweep struct {
	Start float64
	End   float64
	Time  float64
}

// At returns the swept value t seconds into the note
func (s Sweep) At(t float64) float64 {
	switch {
	case s.Time <= 0 || s.Start <= 0 || s.End <= 0:
		return s.End
	case t <= 0:
		return s.Start
	case t >= s.Time:
		return s.End
	}
	return s.Start * math.Pow(s.End/s.Start, t/s.Time)
}

// Constant is a sweep that never moves
func Constant(v float64) Sweep {
	return Sweep{Start: v, End: v}
}

// OscSpec is one oscillator of a voice
type OscSpec struct {
	Wave        Waveform
	Ratio       float64 // frequency multiplier of the note pitch
	DetuneCents float64
	Gain        float64
}

// FilterSpec is the voice filter with a cutoff sweep
type FilterSpec struct {
	Type   FilterType
	Cutoff Sweep
	Q      float64
}

// Envelope is an ADSR shape in seconds (Sustain is a level)
type Envelope struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// VoiceSpec declares the signal graph of a procedural note.
// It is plain data; the mixer turns it into a running voice.
type VoiceSpec struct {
	Family      composition.Family
	Frequency   float64
	PitchSweep  *Sweep // frequency multiplier over time, used by drums
	Oscillators []OscSpec
	Noise       float64
	Filter      *FilterSpec
	Env         Envelope
	Gain        float64
	Duration    float64 // gate length in seconds
	LFO         *composition.LFO
}

// NoteParams are the inputs a patch needs from a scheduled note
type NoteParams struct {
	MIDI     int
	Velocity int
	Duration float64 // seconds
}

func (n NoteParams) freq() float64 {
	return composition.Frequency(float64(n.MIDI))
}

func (n NoteParams) level() float64 {
	v := math.Max(1, math.Min(127, float64(n.Velocity)))
	return v / 127
}

type patchFunc func(n NoteParams) VoiceSpec

// patches is the closed family to topology table
var patches = map[composition.Family]patchFunc{
	composition.FamilyPiano:         patchPiano,
	composition.FamilyElectricPiano: patchElectricPiano,
	composition.FamilyOrgan:         patchOrgan,
	composition.FamilyStrings:       patchStrings,
	composition.FamilyPad:           patchPad,
	composition.FamilyLead:          patchLead,
	composition.FamilyBass:          patchBass,
	composition.FamilySynthBass:     patchSynthBass,
	composition.FamilyGuitar:        patchGuitar,
	composition.FamilyPluck:         patchPluck,
	composition.FamilyBrass:         patchBrass,
	composition.FamilyFlute:         patchFlute,
	composition.FamilyBells:         patchBells,
	composition.FamilyChoir:         patchChoir,
	composition.FamilyDrums:         patchDrumKit,
	composition.FamilyKick:          patchKick,
	composition.FamilySnare:         patchSnare,
	composition.FamilyHihat:         patchHihat,
	composition.FamilyPercussion:    patchPercussion,
}

// Patch builds the voice for a note on a track. Track synth params and the
// LFO are applied on top of the family patch.
func Patch(track *composition.Track, n NoteParams) VoiceSpec {
	family := composition.DefaultFamily
	if track != nil && track.Family.Valid() {
		family = track.Family
	}
	spec := patches[family](n)
	spec.Family = family
	if spec.Frequency == 0 {
		spec.Frequency = n.freq()
	}
	spec.Duration = n.Duration
	if track == nil {
		return spec
	}
	if track.Synth != nil && !family.IsPercussion() {
		applySynthParams(&spec, track.Synth)
	}
	if track.LFO != nil && track.LFO.Depth > 0 {
		lfo := *track.LFO
		spec.LFO = &lfo
	}
	return spec
}

func applySynthParams(spec *VoiceSpec, p *composition.SynthParams) {
	if p.Waveform != "" {
		for i := range spec.Oscillators {
			spec.Oscillators[i].Wave = Waveform(p.Waveform)
		}
	}
	if p.FilterCutoff > 0 {
		if spec.Filter == nil {
			spec.Filter = &FilterSpec{Type: FilterLowpass, Q: 0.707}
		}
		spec.Filter.Cutoff = Constant(p.FilterCutoff)
	}
	if p.FilterQ > 0 && spec.Filter != nil {
		spec.Filter.Q = p.FilterQ
	}
	if p.Attack > 0 {
		spec.Env.Attack = p.Attack
	}
	if p.Release > 0 {
		spec.Env.Release = p.Release
	}
	if p.DetuneCents != 0 && len(spec.Oscillators) > 1 {
		// spread symmetrically across the stack
		n := float64(len(spec.Oscillators) - 1)
		for i := range spec.Oscillators {
			spec.Oscillators[i].DetuneCents = -p.DetuneCents + 2*p.DetuneCents*float64(i)/n
		}
	}
}

func patchPiano(n NoteParams) VoiceSpec {
	f := n.freq()
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveTriangle, Ratio: 1, Gain: 0.6},
			{Wave: WaveSine, Ratio: 2, Gain: 0.25},
			{Wave: WaveSine, Ratio: 3, Gain: 0.08},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: math.Min(f*12, 12000), End: math.Min(f*3, 4000), Time: 0.8}, Q: 0.7},
		Env:    Envelope{Attack: 0.004, Decay: 1.2, Sustain: 0.25, Release: 0.35},
		Gain:   0.5 * n.level(),
	}
}

func patchElectricPiano(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSine, Ratio: 1, Gain: 0.7},
			{Wave: WaveSine, Ratio: 14, Gain: 0.04},
			{Wave: WaveTriangle, Ratio: 2, Gain: 0.15},
		},
		Env:  Envelope{Attack: 0.003, Decay: 0.9, Sustain: 0.35, Release: 0.4},
		Gain: 0.5 * n.level(),
		LFO:  &composition.LFO{Type: "tremolo", Rate: 4.5, Depth: 0.2},
	}
}

func patchOrgan(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSine, Ratio: 0.5, Gain: 0.3},
			{Wave: WaveSine, Ratio: 1, Gain: 0.45},
			{Wave: WaveSine, Ratio: 2, Gain: 0.3},
			{Wave: WaveSine, Ratio: 4, Gain: 0.12},
		},
		Env:  Envelope{Attack: 0.01, Decay: 0.05, Sustain: 0.95, Release: 0.08},
		Gain: 0.35 * n.level(),
	}
}

func patchStrings(n NoteParams) VoiceSpec {
	f := n.freq()
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: -7, Gain: 0.35},
			{Wave: WaveSawtooth, Ratio: 1, Gain: 0.35},
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: 7, Gain: 0.35},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: math.Min(f*2, 2000), End: math.Min(f*6, 6000), Time: 0.4}, Q: 0.8},
		Env:    Envelope{Attack: 0.25, Decay: 0.3, Sustain: 0.85, Release: 0.6},
		Gain:   0.3 * n.level(),
	}
}

func patchPad(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: -12, Gain: 0.3},
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: 12, Gain: 0.3},
			{Wave: WaveTriangle, Ratio: 0.5, Gain: 0.25},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: 600, End: 2400, Time: 1.5}, Q: 1.2},
		Env:    Envelope{Attack: 0.6, Decay: 0.5, Sustain: 0.8, Release: 1.5},
		Gain:   0.3 * n.level(),
	}
}

func patchLead(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSquare, Ratio: 1, Gain: 0.35},
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: 5, Gain: 0.3},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: 5000, End: 2200, Time: 0.3}, Q: 2},
		Env:    Envelope{Attack: 0.01, Decay: 0.2, Sustain: 0.7, Release: 0.15},
		Gain:   0.3 * n.level(),
	}
}

func patchBass(n NoteParams) VoiceSpec {
	f := n.freq()
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveTriangle, Ratio: 1, Gain: 0.7},
			{Wave: WaveSquare, Ratio: 1, Gain: 0.15},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: math.Min(f*8, 3000), End: math.Min(f*3, 900), Time: 0.25}, Q: 0.9},
		Env:    Envelope{Attack: 0.005, Decay: 0.4, Sustain: 0.6, Release: 0.12},
		Gain:   0.6 * n.level(),
	}
}

func patchSynthBass(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, Gain: 0.45},
			{Wave: WaveSquare, Ratio: 0.5, Gain: 0.35},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: 2500, End: 250, Time: 0.18}, Q: 6},
		Env:    Envelope{Attack: 0.003, Decay: 0.25, Sustain: 0.55, Release: 0.1},
		Gain:   0.5 * n.level(),
	}
}

func patchGuitar(n NoteParams) VoiceSpec {
	f := n.freq()
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, Gain: 0.4},
			{Wave: WaveTriangle, Ratio: 2, Gain: 0.15},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: math.Min(f*10, 8000), End: math.Min(f*1.5, 1200), Time: 0.6}, Q: 1.1},
		Env:    Envelope{Attack: 0.002, Decay: 0.8, Sustain: 0.2, Release: 0.25},
		Gain:   0.45 * n.level(),
	}
}

func patchPluck(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveTriangle, Ratio: 1, Gain: 0.6},
			{Wave: WaveSine, Ratio: 4, Gain: 0.1},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: 6000, End: 800, Time: 0.3}, Q: 0.8},
		Env:    Envelope{Attack: 0.001, Decay: 0.35, Sustain: 0.0, Release: 0.2},
		Gain:   0.5 * n.level(),
	}
}

func patchBrass(n NoteParams) VoiceSpec {
	f := n.freq()
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, Gain: 0.4},
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: 4, Gain: 0.3},
		},
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Sweep{Start: math.Min(f*1.5, 1500), End: math.Min(f*6, 5000), Time: 0.12}, Q: 1.4},
		Env:    Envelope{Attack: 0.06, Decay: 0.2, Sustain: 0.8, Release: 0.2},
		Gain:   0.35 * n.level(),
	}
}

func patchFlute(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSine, Ratio: 1, Gain: 0.7},
			{Wave: WaveSine, Ratio: 2, Gain: 0.08},
		},
		Noise:  0.04,
		Filter: &FilterSpec{Type: FilterLowpass, Cutoff: Constant(5000), Q: 0.7},
		Env:    Envelope{Attack: 0.08, Decay: 0.1, Sustain: 0.85, Release: 0.18},
		Gain:   0.4 * n.level(),
		LFO:    &composition.LFO{Type: "vibrato", Rate: 5, Depth: 0.1},
	}
}

func patchBells(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSine, Ratio: 1, Gain: 0.5},
			{Wave: WaveSine, Ratio: 2.76, Gain: 0.3},
			{Wave: WaveSine, Ratio: 5.4, Gain: 0.15},
		},
		Env:  Envelope{Attack: 0.001, Decay: 2.0, Sustain: 0.0, Release: 1.0},
		Gain: 0.35 * n.level(),
	}
}

func patchChoir(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Oscillators: []OscSpec{
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: -6, Gain: 0.3},
			{Wave: WaveSawtooth, Ratio: 1, DetuneCents: 6, Gain: 0.3},
		},
		Filter: &FilterSpec{Type: FilterBandpass, Cutoff: Constant(900), Q: 1.5},
		Env:    Envelope{Attack: 0.3, Decay: 0.3, Sustain: 0.85, Release: 0.8},
		Gain:   0.45 * n.level(),
		LFO:    &composition.LFO{Type: "vibrato", Rate: 5.5, Depth: 0.08},
	}
}

// patchDrumKit routes General MIDI drum pitches to the matching hit
func patchDrumKit(n NoteParams) VoiceSpec {
	switch {
	case n.MIDI <= 36:
		return patchKick(n)
	case n.MIDI == 38 || n.MIDI == 39 || n.MIDI == 40:
		return patchSnare(n)
	case n.MIDI == 42 || n.MIDI == 44 || n.MIDI == 46:
		return patchHihat(n)
	case n.MIDI == 49 || n.MIDI == 51 || n.MIDI == 57:
		return patchCymbal(n)
	default:
		return patchPercussion(n)
	}
}

func patchKick(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Frequency:   50,
		PitchSweep:  &Sweep{Start: 3, End: 1, Time: 0.08},
		Oscillators: []OscSpec{{Wave: WaveSine, Ratio: 1, Gain: 1}},
		Env:         Envelope{Attack: 0.001, Decay: 0.35, Sustain: 0, Release: 0.05},
		Gain:        0.9 * n.level(),
	}
}

func patchSnare(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Frequency:   185,
		Oscillators: []OscSpec{{Wave: WaveTriangle, Ratio: 1, Gain: 0.3}},
		Noise:       0.7,
		Filter:      &FilterSpec{Type: FilterBandpass, Cutoff: Constant(2200), Q: 0.8},
		Env:         Envelope{Attack: 0.001, Decay: 0.18, Sustain: 0, Release: 0.05},
		Gain:        0.7 * n.level(),
	}
}

func patchHihat(n NoteParams) VoiceSpec {
	decay := 0.05
	if n.MIDI == 46 {
		decay = 0.3
	}
	return VoiceSpec{
		Frequency: 8000,
		Noise:     0.6,
		Filter:    &FilterSpec{Type: FilterHighpass, Cutoff: Constant(7000), Q: 0.9},
		Env:       Envelope{Attack: 0.001, Decay: decay, Sustain: 0, Release: 0.02},
		Gain:      0.45 * n.level(),
	}
}

func patchCymbal(n NoteParams) VoiceSpec {
	return VoiceSpec{
		Frequency: 6000,
		Noise:     0.5,
		Filter:    &FilterSpec{Type: FilterHighpass, Cutoff: Constant(5000), Q: 0.6},
		Env:       Envelope{Attack: 0.002, Decay: 1.2, Sustain: 0, Release: 0.3},
		Gain:      0.35 * n.level(),
	}
}

func patchPercussion(n NoteParams) VoiceSpec {
	// higher pitches give brighter, shorter hits
	center := 300 * math.Pow(2, float64(n.MIDI-45)/12)
	center = math.Max(150, math.Min(center, 9000))
	return VoiceSpec{
		Frequency:   center,
		Oscillators: []OscSpec{{Wave: WaveSine, Ratio: 1, Gain: 0.4}},
		Noise:       0.4,
		Filter:      &FilterSpec{Type: FilterBandpass, Cutoff: Constant(center * 2), Q: 2},
		Env:         Envelope{Attack: 0.001, Decay: 0.12, Sustain: 0, Release: 0.04},
		Gain:        0.5 * n.level(),
	}
}

// ChainSpec is the per-track processing chain:
// gain, compressor, distortion, delay, EQ, panner, plus the reverb send.
type ChainSpec struct {
	Track      string
	Volume     float64
	Pan        float64
	ReverbSend float64
	Compressor CompressorSpec
	Distortion *composition.Distortion
	Delay      *composition.Delay
	HighpassHz float64
	LowpassHz  float64
}

// CompressorSpec configures a feed-forward compressor
type CompressorSpec struct {
	ThresholdDB float64
	Ratio       float64
	Attack      float64
	Release     float64
}

var (
	trackCompressor  = CompressorSpec{ThresholdDB: -18, Ratio: 3, Attack: 0.005, Release: 0.12}
	masterCompressor = CompressorSpec{ThresholdDB: -10, Ratio: 4, Attack: 0.003, Release: 0.25}
)

// BuildChain derives the chain for a track
func BuildChain(t *composition.Track) ChainSpec {
	spec := ChainSpec{
		Track:      t.Name,
		Volume:     t.Volume,
		Pan:        t.Pan,
		ReverbSend: t.ReverbSend,
		Compressor: trackCompressor,
	}
	if t.Distortion != nil && t.Distortion.Mix > 0 {
		d := *t.Distortion
		spec.Distortion = &d
	}
	if t.Delay != nil && t.Delay.Mix > 0 {
		d := *t.Delay
		spec.Delay = &d
	}
	if t.EQ != nil {
		spec.HighpassHz = t.EQ.HighpassHz
		spec.LowpassHz = t.EQ.LowpassHz
	}
	return spec
}
