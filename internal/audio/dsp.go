package audio

import (
	"math"
	"math/rand"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// Biquad is a direct form I filter using the RBJ cookbook coefficients
type Biquad struct {
	typ        FilterType
	sampleRate float64
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewBiquad creates a filter of the given type
func NewBiquad(typ FilterType, sampleRate, cutoff, q float64) *Biquad {
	f := &Biquad{typ: typ, sampleRate: sampleRate}
	f.Set(cutoff, q)
	return f
}

// Set recomputes coefficients, keeping the filter state
func (f *Biquad) Set(cutoff, q float64) {
	nyquist := f.sampleRate / 2
	cutoff = math.Max(10, math.Min(cutoff, nyquist*0.95))
	if q <= 0 {
		q = 0.707
	}
	w0 := 2 * math.Pi * cutoff / f.sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	var b0, b1, b2 float64
	switch f.typ {
	case FilterHighpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case FilterBandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	}
	a0 := 1 + alpha
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = -2*cosw/a0, (1-alpha)/a0
}

// Process filters one sample
func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// ADSR follows an Envelope with a gate that closes at gateOff seconds
type ADSR struct {
	env      Envelope
	rate     float64
	t        float64
	gateOff  float64
	level    float64
	relFrom  float64
	relStart float64
	released bool
}

// NewADSR starts an envelope whose gate closes after gate seconds
func NewADSR(env Envelope, sampleRate, gate float64) *ADSR {
	if env.Release <= 0 {
		env.Release = 0.005
	}
	return &ADSR{env: env, rate: sampleRate, gateOff: gate}
}

// Release closes the gate now with the given release time
func (e *ADSR) Release(seconds float64) {
	if e.released {
		if seconds < e.env.Release {
			// shorten a release already in progress
			e.relFrom = e.level
			e.relStart = e.t
			e.env.Release = seconds
		}
		return
	}
	e.gateOff = e.t
	if seconds > 0 {
		e.env.Release = seconds
	}
}

// Next advances one sample and returns the level
func (e *ADSR) Next() float64 {
	t := e.t
	e.t += 1 / e.rate

	if !e.released && t >= e.gateOff {
		e.released = true
		e.relFrom = e.level
		e.relStart = t
	}
	if e.released {
		rel := (t - e.relStart) / e.env.Release
		if rel >= 1 {
			e.level = 0
			return 0
		}
		e.level = e.relFrom * (1 - rel)
		return e.level
	}

	switch {
	case t < e.env.Attack:
		e.level = t / e.env.Attack
	case t < e.env.Attack+e.env.Decay:
		d := (t - e.env.Attack) / e.env.Decay
		e.level = 1 - (1-e.env.Sustain)*d
	default:
		e.level = e.env.Sustain
	}
	return e.level
}

// Done reports whether the release has finished
func (e *ADSR) Done() bool {
	if e.released && e.t-e.relStart >= e.env.Release {
		return true
	}
	// a percussive envelope with no sustain is silent once decayed
	return !e.released && e.env.Sustain <= 0 && e.t >= e.env.Attack+e.env.Decay
}

func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSawtooth:
		return 2*phase - 1
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

func centsToRatio(cents float64) float64 {
	return math.Pow(2, cents/1200)
}

// DelayLine is a feedback delay with a wet/dry mix
type DelayLine struct {
	buf      []float64
	pos      int
	feedback float64
	mix      float64
}

// NewDelayLine allocates a delay of seconds at sampleRate
func NewDelayLine(sampleRate, seconds, feedback, mix float64) *DelayLine {
	n := int(math.Max(1, seconds*sampleRate))
	return &DelayLine{buf: make([]float64, n), feedback: feedback, mix: mix}
}

// Process runs one sample through the delay
func (d *DelayLine) Process(x float64) float64 {
	delayed := d.buf[d.pos]
	d.buf[d.pos] = x + delayed*d.feedback
	d.pos = (d.pos + 1) % len(d.buf)
	return x*(1-d.mix) + delayed*d.mix
}

// Waveshaper applies one of the distortion curves
type Waveshaper struct {
	kind  string
	drive float64
	mix   float64
	out   float64
}

// NewWaveshaper builds a shaper from a track distortion
func NewWaveshaper(d composition.Distortion) *Waveshaper {
	out := d.OutputGain
	if out <= 0 {
		out = 1
	}
	return &Waveshaper{kind: d.Type, drive: d.Drive, mix: d.Mix, out: out}
}

// Process shapes one sample
func (w *Waveshaper) Process(x float64) float64 {
	k := 1 + w.drive*20
	var y float64
	switch w.kind {
	case "hard":
		y = math.Max(-1, math.Min(1, x*k))
	case "fuzz":
		v := x * k
		y = math.Copysign(1-math.Exp(-math.Abs(v)), v)
	case "bitcrush":
		levels := math.Pow(2, 16-w.drive*13)
		y = math.Round(x*levels) / levels
	default:
		y = math.Tanh(x * k)
	}
	return (x*(1-w.mix) + y*w.mix) * w.out
}

// Compressor is a feed-forward peak compressor
type Compressor struct {
	threshold float64
	ratio     float64
	attack    float64
	release   float64
	env       float64
}

// NewCompressor derives per-sample smoothing constants from spec
func NewCompressor(spec CompressorSpec, sampleRate float64) *Compressor {
	coef := func(sec float64) float64 {
		if sec <= 0 {
			return 0
		}
		return math.Exp(-1 / (sec * sampleRate))
	}
	ratio := spec.Ratio
	if ratio < 1 {
		ratio = 1
	}
	return &Compressor{
		threshold: spec.ThresholdDB,
		ratio:     ratio,
		attack:    coef(spec.Attack),
		release:   coef(spec.Release),
	}
}

// Gain returns the gain to apply for the current input level
func (c *Compressor) Gain(level float64) float64 {
	level = math.Abs(level)
	if level > c.env {
		c.env = c.attack*c.env + (1-c.attack)*level
	} else {
		c.env = c.release*c.env + (1-c.release)*level
	}
	if c.env <= 1e-9 {
		return 1
	}
	db := 20 * math.Log10(c.env)
	if db <= c.threshold {
		return 1
	}
	reduced := c.threshold + (db-c.threshold)/c.ratio
	return math.Pow(10, (reduced-db)/20)
}

// Process compresses a mono sample
func (c *Compressor) Process(x float64) float64 {
	return x * c.Gain(x)
}

type comb struct {
	buf      []float64
	pos      int
	feedback float64
	damp     float64
	store    float64
}

func (c *comb) process(x float64) float64 {
	out := c.buf[c.pos]
	c.store = out*(1-c.damp) + c.store*c.damp
	c.buf[c.pos] = x + c.store*c.feedback
	c.pos = (c.pos + 1) % len(c.buf)
	return out
}

type allpass struct {
	buf []float64
	pos int
}

func (a *allpass) process(x float64) float64 {
	delayed := a.buf[a.pos]
	out := delayed - x
	a.buf[a.pos] = x + delayed*0.5
	a.pos = (a.pos + 1) % len(a.buf)
	return out
}

// Reverb is a Schroeder reverberator: parallel combs into serial allpasses,
// with a slightly longer right channel for width.
type Reverb struct {
	combsL, combsR []*comb
	apsL, apsR     []*allpass
	wet            float64
}

var (
	combTunings    = []int{1557, 1617, 1491, 1422}
	allpassTunings = []int{556, 441}
)

const stereoSpread = 23

// NewReverb scales the reference tunings (44.1kHz) to sampleRate
func NewReverb(sampleRate float64) *Reverb {
	scale := sampleRate / 44100
	r := &Reverb{wet: 0.3}
	for _, n := range combTunings {
		r.combsL = append(r.combsL, &comb{buf: make([]float64, int(float64(n)*scale)), feedback: 0.84, damp: 0.2})
		r.combsR = append(r.combsR, &comb{buf: make([]float64, int(float64(n+stereoSpread)*scale)), feedback: 0.84, damp: 0.2})
	}
	for _, n := range allpassTunings {
		r.apsL = append(r.apsL, &allpass{buf: make([]float64, int(float64(n)*scale))})
		r.apsR = append(r.apsR, &allpass{buf: make([]float64, int(float64(n+stereoSpread)*scale))})
	}
	return r
}

// Process returns the wet stereo output for a mono send sample
func (r *Reverb) Process(x float64) (float64, float64) {
	var l, rr float64
	for i := range r.combsL {
		l += r.combsL[i].process(x)
		rr += r.combsR[i].process(x)
	}
	for i := range r.apsL {
		l = r.apsL[i].process(l)
		rr = r.apsR[i].process(rr)
	}
	n := float64(len(r.combsL))
	return l / n * r.wet, rr / n * r.wet
}

// PanGains is the equal-power pan law for pan in [-1, 1]
func PanGains(pan float64) (float64, float64) {
	pan = math.Max(-1, math.Min(1, pan))
	angle := (pan + 1) * math.Pi / 4
	return math.Cos(angle), math.Sin(angle)
}

// Ramp moves linearly toward a target over a number of samples
type Ramp struct {
	value  float64
	target float64
	step   float64
	left   int
}

// NewRamp starts settled at v
func NewRamp(v float64) *Ramp {
	return &Ramp{value: v, target: v}
}

// To starts a ramp to target over n samples; n <= 0 jumps
func (r *Ramp) To(target float64, n int) {
	r.target = target
	if n <= 0 {
		r.value = target
		r.left = 0
		return
	}
	r.step = (target - r.value) / float64(n)
	r.left = n
}

// Next returns the current value and advances one sample
func (r *Ramp) Next() float64 {
	v := r.value
	if r.left > 0 {
		r.left--
		r.value += r.step
		if r.left == 0 {
			r.value = r.target
		}
	}
	return v
}

// Value is the current value
func (r *Ramp) Value() float64 {
	return r.value
}

// Target is where the ramp ends
func (r *Ramp) Target() float64 {
	return r.target
}

// noise is a cheap white noise source; voices share nothing
type noise struct {
	rng *rand.Rand
}

func newNoise(seed int64) noise {
	return noise{rng: rand.New(rand.NewSource(seed))}
}

func (n noise) next() float64 {
	return n.rng.Float64()*2 - 1
}
