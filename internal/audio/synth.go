package audio

import (
	"math"
)

// Voice is a sounding note. Render adds mono output into buf and reports
// whether the voice is still alive afterwards.
type Voice interface {
	Render(buf []float64) bool
	// Stop releases the voice within seconds
	Stop(seconds float64)
}

// filterUpdateInterval is how many samples pass between cutoff sweep updates
const filterUpdateInterval = 32

type synthVoice struct {
	spec   VoiceSpec
	rate   float64
	t      float64
	phases []float64
	env    *ADSR
	filter *Biquad
	noise  noise
	lfoPh  float64
	n      int
}

// NewSynthVoice turns a declarative spec into a running voice
func NewSynthVoice(spec VoiceSpec, sampleRate int, seed int64) Voice {
	rate := float64(sampleRate)
	v := &synthVoice{
		spec:   spec,
		rate:   rate,
		phases: make([]float64, len(spec.Oscillators)),
		env:    NewADSR(spec.Env, rate, spec.Duration),
		noise:  newNoise(seed),
	}
	if spec.Filter != nil {
		v.filter = NewBiquad(spec.Filter.Type, rate, spec.Filter.Cutoff.At(0), spec.Filter.Q)
	}
	return v
}

func (v *synthVoice) Stop(seconds float64) {
	v.env.Release(seconds)
}

func (v *synthVoice) Render(buf []float64) bool {
	dt := 1 / v.rate
	for i := range buf {
		if v.env.Done() {
			return false
		}
		freq := v.spec.Frequency
		if v.spec.PitchSweep != nil {
			freq *= v.spec.PitchSweep.At(v.t)
		}
		amp := v.spec.Gain * v.env.Next()

		if lfo := v.spec.LFO; lfo != nil {
			mod := math.Sin(2 * math.Pi * v.lfoPh)
			v.lfoPh += lfo.Rate * dt
			if v.lfoPh >= 1 {
				v.lfoPh -= math.Floor(v.lfoPh)
			}
			if lfo.Type == "tremolo" {
				amp *= 1 - lfo.Depth*0.5*(1+mod)
			} else {
				// depth 1 is a semitone either way
				freq *= centsToRatio(mod * lfo.Depth * 100)
			}
		}

		var s float64
		for j, osc := range v.spec.Oscillators {
			s += oscillate(osc.Wave, v.phases[j]) * osc.Gain
			v.phases[j] += freq * osc.Ratio * centsToRatio(osc.DetuneCents) * dt
			if v.phases[j] >= 1 {
				v.phases[j] -= math.Floor(v.phases[j])
			}
		}
		if v.spec.Noise > 0 {
			s += v.noise.next() * v.spec.Noise
		}

		if v.filter != nil {
			if v.n%filterUpdateInterval == 0 && v.spec.Filter.Cutoff.Time > 0 {
				v.filter.Set(v.spec.Filter.Cutoff.At(v.t), v.spec.Filter.Q)
			}
			s = v.filter.Process(s)
		}

		buf[i] += s * amp
		v.t += dt
		v.n++
	}
	return !v.env.Done()
}
