package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// Safe parameter ranges for the effect setters
const (
	delayTimeMin     = 0.05
	delayTimeMax     = 2.0
	delayFeedbackMax = 0.9
	driveDefault     = 0.5
	outputGainMax    = 1.5
	lfoRateMin       = 0.1
	lfoRateMax       = 20.0
	highpassMax      = 2000.0
	lowpassMin       = 200.0
	lowpassMax       = 20000.0
	neutralHighpass  = 20.0
	cutoffMin        = 50.0
	cutoffMax        = 20000.0
	filterQMin       = 0.1
	filterQMax       = 20.0
	attackMin        = 0.001
	attackMax        = 2.0
	releaseMin       = 0.01
	releaseMax       = 5.0
	detuneMax        = 100.0
)

var validDenominators = []int{2, 4, 8, 16}

func requireTrack(args Args) (string, Result) {
	name := strings.TrimSpace(args.String("track", ""))
	if name == "" {
		return "", SoftError("track is required")
	}
	return name, nil
}

func (c *Catalog) setTempo() Definition {
	return Definition{
		Name:        "set_tempo",
		Description: "Set the tempo in BPM (40-200).",
		Schema: Schema{
			Properties: map[string]*Param{"bpm": propNumber("Beats per minute", composition.MinTempo, composition.MaxTempo)},
			Required:   []string{"bpm"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			bpm, ok := args.Float("bpm", composition.DefaultTempo)
			if !ok || bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
				bpm = composition.DefaultTempo
			}
			c.comp.Tempo = clamp(bpm, composition.MinTempo, composition.MaxTempo)
			return Result{"bpm": c.comp.Tempo}, nil
		},
	}
}

// snapDenominator picks the valid denominator closest on a log2 scale
func snapDenominator(d int) int {
	if d <= 0 {
		return composition.DefaultDenominator
	}
	best := composition.DefaultDenominator
	bestDist := math.Inf(1)
	for _, v := range validDenominators {
		dist := math.Abs(math.Log2(float64(d)) - math.Log2(float64(v)))
		if dist < bestDist {
			best, bestDist = v, dist
		}
	}
	return best
}

func (c *Catalog) setTimeSignature() Definition {
	return Definition{
		Name:        "set_time_signature",
		Description: "Set the time signature, e.g. 4/4, 3/4, 6/8.",
		Schema: Schema{
			Properties: map[string]*Param{
				"numerator":   propInteger("Beats per bar (1-16)", 1, 16).withDefault(float64(composition.DefaultNumerator)),
				"denominator": propInteger("Beat unit: 2, 4, 8 or 16", 2, 16).withDefault(float64(composition.DefaultDenominator)),
			},
			Required: []string{"numerator", "denominator"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			num, _ := args.Int("numerator", composition.DefaultNumerator)
			den, _ := args.Int("denominator", composition.DefaultDenominator)
			num = max(1, min(16, num))
			den = snapDenominator(den)
			c.comp.TimeSignature = composition.TimeSignature{Numerator: num, Denominator: den}
			return Result{"timeSignature": fmt.Sprintf("%d/%d", num, den)}, nil
		},
	}
}

func familyNames() []string {
	fams := composition.Families()
	names := make([]string, len(fams))
	for i, f := range fams {
		names[i] = string(f)
	}
	return names
}

func (c *Catalog) setInstrument() Definition {
	return Definition{
		Name:        "set_instrument",
		Description: "Create a track or change its instrument family and variant. Call list_instruments for variants.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":   trackParam(),
				"family":  propEnum("Instrument family", familyNames()...),
				"variant": propString("Optional timbre within the family, e.g. electric_bass_finger"),
			},
			Required: []string{"track", "family"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			family, _ := composition.ParseFamily(args.String("family", string(composition.DefaultFamily)))
			variant := args.String("variant", "")

			t, created := c.comp.EnsureTrack(name, family)
			if !created && t.Family != family {
				t.Family = family
			}
			t.Variant = variant

			return Result{
				"track":   name,
				"family":  string(t.Family),
				"variant": t.Variant,
				"created": created,
				"volume":  t.Volume,
			}, nil
		},
	}
}

func (c *Catalog) setVolume() Definition {
	return Definition{
		Name:        "set_volume",
		Description: "Set a track's volume (0-1).",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":  trackParam(),
				"volume": propNumber("Volume", 0, 1),
			},
			Required: []string{"track", "volume"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			v, _ := args.Float("volume", t.Volume)
			t.Volume = clamp(v, 0, 1)
			return Result{"track": name, "volume": t.Volume}, nil
		},
	}
}

func (c *Catalog) setPan() Definition {
	return Definition{
		Name:        "set_pan",
		Description: "Set a track's stereo position (-1 left, 0 center, 1 right).",
		Schema: Schema{
			Properties: map[string]*Param{
				"track": trackParam(),
				"pan":   propNumber("Pan position", -1, 1),
			},
			Required: []string{"track", "pan"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			v, _ := args.Float("pan", 0)
			t.Pan = clamp(v, -1, 1)
			return Result{"track": name, "pan": t.Pan}, nil
		},
	}
}

func (c *Catalog) setReverb() Definition {
	return Definition{
		Name:        "set_reverb",
		Description: "Set how much of a track is sent to the shared reverb (0-1).",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":  trackParam(),
				"amount": propNumber("Reverb send", 0, 1),
			},
			Required: []string{"track", "amount"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			v, _ := args.Float("amount", t.ReverbSend)
			t.ReverbSend = clamp(v, 0, 1)
			return Result{"track": name, "reverbSend": t.ReverbSend}, nil
		},
	}
}

func (c *Catalog) setDelay() Definition {
	return Definition{
		Name:        "set_delay",
		Description: "Add a feedback delay to a track. mix 0 removes it.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":    trackParam(),
				"time":     propNumber("Delay time in seconds", delayTimeMin, delayTimeMax),
				"feedback": propNumber("Feedback amount", 0, delayFeedbackMax),
				"mix":      propNumber("Wet mix", 0, 1),
			},
			Required: []string{"track", "mix"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			mix, _ := args.Float("mix", 0)
			mix = clamp(mix, 0, 1)
			if mix == 0 {
				t.Delay = nil
				return Result{"track": name, "delay": nil, "removed": true}, nil
			}
			timeSec, _ := args.Float("time", 0.375)
			feedback, _ := args.Float("feedback", 0.35)
			t.Delay = &composition.Delay{
				Time:     clamp(timeSec, delayTimeMin, delayTimeMax),
				Feedback: clamp(feedback, 0, delayFeedbackMax),
				Mix:      mix,
			}
			return Result{"track": name, "delay": *t.Delay}, nil
		},
	}
}

var distortionTypes = []string{"soft", "hard", "fuzz", "bitcrush"}

func (c *Catalog) setDistortion() Definition {
	return Definition{
		Name:        "set_distortion",
		Description: "Add distortion to a track. mix 0 removes it.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":      trackParam(),
				"type":       propEnum("Distortion character", distortionTypes...),
				"drive":      propNumber("Drive amount", 0, 1),
				"mix":        propNumber("Wet mix", 0, 1),
				"outputGain": propNumber("Output gain", 0, outputGainMax),
			},
			Required: []string{"track", "mix"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			mix, _ := args.Float("mix", 0)
			mix = clamp(mix, 0, 1)
			if mix == 0 {
				t.Distortion = nil
				return Result{"track": name, "distortion": nil, "removed": true}, nil
			}
			drive, _ := args.Float("drive", driveDefault)
			gain, _ := args.Float("outputGain", 1)
			t.Distortion = &composition.Distortion{
				Type:       args.String("type", distortionTypes[0]),
				Drive:      clamp(drive, 0, 1),
				Mix:        mix,
				OutputGain: clamp(gain, 0, outputGainMax),
			}
			return Result{"track": name, "distortion": *t.Distortion}, nil
		},
	}
}

func (c *Catalog) setLFO() Definition {
	return Definition{
		Name:        "set_lfo",
		Description: "Add vibrato (pitch) or tremolo (volume) modulation. depth 0 removes it.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track": trackParam(),
				"type":  propEnum("Modulation target", "vibrato", "tremolo"),
				"rate":  propNumber("Rate in Hz", lfoRateMin, lfoRateMax),
				"depth": propNumber("Depth", 0, 1),
			},
			Required: []string{"track", "depth"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			depth, _ := args.Float("depth", 0)
			depth = clamp(depth, 0, 1)
			if depth == 0 {
				t.LFO = nil
				return Result{"track": name, "lfo": nil, "removed": true}, nil
			}
			rate, _ := args.Float("rate", 5)
			t.LFO = &composition.LFO{
				Type:  args.String("type", "vibrato"),
				Rate:  clamp(rate, lfoRateMin, lfoRateMax),
				Depth: depth,
			}
			return Result{"track": name, "lfo": *t.LFO}, nil
		},
	}
}

func (c *Catalog) setEQ() Definition {
	return Definition{
		Name:        "set_eq",
		Description: "Filter a track with a highpass and lowpass. A neutral setting (highpass <= 20, lowpass 20000) removes the EQ.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":    trackParam(),
				"highpass": propNumber("Highpass cutoff in Hz", 0, highpassMax),
				"lowpass":  propNumber("Lowpass cutoff in Hz", lowpassMin, lowpassMax),
			},
			Required: []string{"track"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			hp, _ := args.Float("highpass", 0)
			lp, _ := args.Float("lowpass", lowpassMax)
			hp = clamp(hp, 0, highpassMax)
			lp = clamp(lp, lowpassMin, lowpassMax)
			if hp <= neutralHighpass && lp >= lowpassMax {
				t.EQ = nil
				return Result{"track": name, "eq": nil, "removed": true}, nil
			}
			if hp >= lp {
				return SoftError(fmt.Sprintf("highpass (%.0f Hz) must be below lowpass (%.0f Hz)", hp, lp)), nil
			}
			t.EQ = &composition.EQ{HighpassHz: hp, LowpassHz: lp}
			return Result{"track": name, "eq": *t.EQ}, nil
		},
	}
}

var waveforms = []string{"sine", "square", "sawtooth", "triangle"}

func (c *Catalog) customizeInstrument() Definition {
	return Definition{
		Name:        "customize_instrument",
		Description: "Shape a track's synth voice. Unset fields keep their current value; reset clears all customization.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":        trackParam(),
				"waveform":     propEnum("Oscillator waveform", waveforms...),
				"filterCutoff": propNumber("Lowpass cutoff in Hz", cutoffMin, cutoffMax),
				"filterQ":      propNumber("Filter resonance", filterQMin, filterQMax),
				"attack":       propNumber("Attack time in seconds", attackMin, attackMax),
				"release":      propNumber("Release time in seconds", releaseMin, releaseMax),
				"detune":       propNumber("Detune in cents", -detuneMax, detuneMax),
				"reset":        propBool("Remove all customization"),
			},
			Required: []string{"track"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			t := c.track(name)
			if args.Bool("reset", false) {
				t.Synth = nil
				return Result{"track": name, "synthParams": nil, "removed": true}, nil
			}

			sp := composition.SynthParams{}
			if t.Synth != nil {
				sp = *t.Synth
			}
			if w := args.String("waveform", ""); w != "" {
				sp.Waveform = w
			}
			if v, ok := args.Float("filterCutoff", 0); ok {
				sp.FilterCutoff = clamp(v, cutoffMin, cutoffMax)
			}
			if v, ok := args.Float("filterQ", 0); ok {
				sp.FilterQ = clamp(v, filterQMin, filterQMax)
			}
			if v, ok := args.Float("attack", 0); ok {
				sp.Attack = clamp(v, attackMin, attackMax)
			}
			if v, ok := args.Float("release", 0); ok {
				sp.Release = clamp(v, releaseMin, releaseMax)
			}
			if v, ok := args.Float("detune", 0); ok {
				sp.DetuneCents = clamp(v, -detuneMax, detuneMax)
			}
			t.Synth = &sp
			return Result{"track": name, "synthParams": sp}, nil
		},
	}
}
