package audio

import (
	"math"
	"sort"
	"sync"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

const (
	DefaultSampleRate = 44100
	// blockFrames is the internal processing quantum
	blockFrames = 256
	// voiceStopSeconds is how fast sampled voices die on stop
	voiceStopSeconds = 0.01
)

// NoteEvent is one note placed on the audio clock
type NoteEvent struct {
	NoteID     int64
	Track      string
	MIDI       int
	Start      float64 // seconds on the backend clock
	Duration   float64 // seconds
	Velocity   int
	Spec       VoiceSpec
	Instrument Instrument // nil means procedural
	Release    float64
}

// Backend is the mixing graph the scheduler drives
type Backend interface {
	// Now is the audio clock in seconds
	Now() float64
	// EnsureChannel builds the track chain or updates its effects. gain is
	// only used when the channel is created.
	EnsureChannel(spec ChainSpec, gain float64)
	ScheduleNote(ev NoteEvent)
	RampChannelGain(track string, target, seconds float64)
	RampMaster(target, seconds float64)
	// StopVoices silences sample-based voices so their effect tails die too
	StopVoices()
	// Reset tears down all channels and pending events
	Reset()
}

type activeVoice struct {
	voice   Voice
	sampled bool
	delay   int // frames of silence before the voice starts
}

type channel struct {
	spec   ChainSpec
	gain   *Ramp
	comp   *Compressor
	shaper *Waveshaper
	delay  *DelayLine
	hp, lp *Biquad
	panL   float64
	panR   float64
	voices []activeVoice
	buf    []float64
}

// Engine is a software mixer. It renders interleaved stereo blocks and its
// clock advances only as it renders.
type Engine struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64
	channels   map[string]*channel
	order      []string
	pending    []NoteEvent
	master     *Ramp
	masterComp *Compressor
	reverb     *Reverb
	sendBuf    []float64
	mixL, mixR []float64
	seed       int64
}

// NewEngine creates an engine with the master gain open
func NewEngine(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Engine{
		sampleRate: sampleRate,
		channels:   make(map[string]*channel),
		master:     NewRamp(1),
		masterComp: NewCompressor(masterCompressor, float64(sampleRate)),
		reverb:     NewReverb(float64(sampleRate)),
		sendBuf:    make([]float64, blockFrames),
		mixL:       make([]float64, blockFrames),
		mixR:       make([]float64, blockFrames),
	}
}

// SampleRate of the engine
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Now implements Backend
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nowLocked()
}

func (e *Engine) nowLocked() float64 {
	return float64(e.frame) / float64(e.sampleRate)
}

func (e *Engine) frames(seconds float64) int {
	return int(math.Round(seconds * float64(e.sampleRate)))
}

// EnsureChannel implements Backend
func (e *Engine) EnsureChannel(spec ChainSpec, gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.channels[spec.Track]
	if !ok {
		ch = &channel{
			gain: NewRamp(gain),
			comp: NewCompressor(spec.Compressor, float64(e.sampleRate)),
			buf:  make([]float64, blockFrames),
		}
		e.channels[spec.Track] = ch
		e.order = append(e.order, spec.Track)
		sort.Strings(e.order)
	}
	e.configure(ch, spec)
}

// configure rebuilds only the stages whose parameters changed so delay
// buffers and filter state survive unrelated edits.
func (e *Engine) configure(ch *channel, spec ChainSpec) {
	rate := float64(e.sampleRate)
	old := ch.spec

	switch {
	case spec.Distortion == nil:
		ch.shaper = nil
	case old.Distortion == nil || *old.Distortion != *spec.Distortion || ch.shaper == nil:
		ch.shaper = NewWaveshaper(*spec.Distortion)
	}

	switch {
	case spec.Delay == nil:
		ch.delay = nil
	case ch.delay == nil || old.Delay == nil || old.Delay.Time != spec.Delay.Time:
		ch.delay = NewDelayLine(rate, spec.Delay.Time, spec.Delay.Feedback, spec.Delay.Mix)
	default:
		ch.delay.feedback = spec.Delay.Feedback
		ch.delay.mix = spec.Delay.Mix
	}

	if spec.HighpassHz > 20 {
		if ch.hp == nil {
			ch.hp = NewBiquad(FilterHighpass, rate, spec.HighpassHz, 0.707)
		} else if old.HighpassHz != spec.HighpassHz {
			ch.hp.Set(spec.HighpassHz, 0.707)
		}
	} else {
		ch.hp = nil
	}
	if spec.LowpassHz > 0 && spec.LowpassHz < 20000 {
		if ch.lp == nil {
			ch.lp = NewBiquad(FilterLowpass, rate, spec.LowpassHz, 0.707)
		} else if old.LowpassHz != spec.LowpassHz {
			ch.lp.Set(spec.LowpassHz, 0.707)
		}
	} else {
		ch.lp = nil
	}

	ch.panL, ch.panR = PanGains(spec.Pan)
	ch.spec = spec
}

// ScheduleNote implements Backend. Events for unknown channels are dropped.
func (e *Engine) ScheduleNote(ev NoteEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.channels[ev.Track]; !ok {
		return
	}
	i := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].Start > ev.Start })
	e.pending = append(e.pending, NoteEvent{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = ev
}

// RampChannelGain implements Backend
func (e *Engine) RampChannelGain(track string, target, seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.channels[track]; ok {
		ch.gain.To(target, e.frames(seconds))
	}
}

// RampMaster implements Backend
func (e *Engine) RampMaster(target, seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.master.To(target, e.frames(seconds))
}

// StopVoices implements Backend
func (e *Engine) StopVoices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.channels {
		kept := ch.voices[:0]
		for _, v := range ch.voices {
			if v.sampled {
				v.voice.Stop(voiceStopSeconds)
				if v.delay > 0 {
					continue
				}
			}
			kept = append(kept, v)
		}
		ch.voices = kept
	}
	// sampled notes that have not started yet would restart the sound
	kept := e.pending[:0]
	for _, ev := range e.pending {
		if ev.Instrument == nil {
			kept = append(kept, ev)
		}
	}
	e.pending = kept
}

// Reset implements Backend
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = make(map[string]*channel)
	e.order = nil
	e.pending = nil
	e.reverb = NewReverb(float64(e.sampleRate))
	e.masterComp = NewCompressor(masterCompressor, float64(e.sampleRate))
}

// ActiveVoices counts sounding or waiting voices, for tests and status
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ch := range e.channels {
		n += len(ch.voices)
	}
	return n
}

// Channels returns the names of the built track chains
func (e *Engine) Channels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Render fills out with interleaved stereo samples and advances the clock
func (e *Engine) Render(out []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frames := len(out) / 2
	for done := 0; done < frames; {
		n := min(blockFrames, frames-done)
		e.renderBlock(out[done*2:(done+n)*2], n)
		done += n
	}
}

func (e *Engine) activate(blockStart int64, n int) {
	blockEnd := blockStart + int64(n)
	i := 0
	for ; i < len(e.pending); i++ {
		ev := e.pending[i]
		start := int64(math.Round(ev.Start * float64(e.sampleRate)))
		if start >= blockEnd {
			break
		}
		ch, ok := e.channels[ev.Track]
		if !ok {
			continue
		}
		delay := int(max(0, start-blockStart))
		e.seed++
		var v Voice
		if ev.Instrument != nil {
			v = ev.Instrument.Play(ev.MIDI, PlayOptions{
				Gain:     float64(ev.Velocity) / 127,
				Duration: ev.Duration,
				Release:  ev.Release,
			})
		} else {
			v = NewSynthVoice(ev.Spec, e.sampleRate, e.seed)
		}
		if v == nil {
			continue
		}
		ch.voices = append(ch.voices, activeVoice{voice: v, sampled: ev.Instrument != nil, delay: delay})
	}
	e.pending = e.pending[i:]
}

func (e *Engine) renderBlock(out []float32, n int) {
	e.activate(e.frame, n)

	mixL, mixR := e.mixL[:n], e.mixR[:n]
	send := e.sendBuf[:n]
	clear(mixL)
	clear(mixR)
	clear(send)

	for _, name := range e.order {
		ch := e.channels[name]
		buf := ch.buf[:n]
		clear(buf)

		alive := ch.voices[:0]
		for _, av := range ch.voices {
			if av.delay >= n {
				av.delay -= n
				alive = append(alive, av)
				continue
			}
			if av.voice.Render(buf[av.delay:]) {
				av.delay = 0
				alive = append(alive, av)
			}
		}
		ch.voices = alive

		for i := range buf {
			s := buf[i] * ch.gain.Next()
			s = ch.comp.Process(s)
			if ch.shaper != nil {
				s = ch.shaper.Process(s)
			}
			if ch.delay != nil {
				s = ch.delay.Process(s)
			}
			if ch.hp != nil {
				s = ch.hp.Process(s)
			}
			if ch.lp != nil {
				s = ch.lp.Process(s)
			}
			mixL[i] += s * ch.panL
			mixR[i] += s * ch.panR
			send[i] += s * ch.spec.ReverbSend
		}
	}

	for i := 0; i < n; i++ {
		wl, wr := e.reverb.Process(send[i])
		l, r := mixL[i]+wl, mixR[i]+wr
		g := e.masterComp.Gain(math.Max(math.Abs(l), math.Abs(r))) * e.master.Next()
		out[i*2] = float32(math.Max(-1, math.Min(1, l*g)))
		out[i*2+1] = float32(math.Max(-1, math.Min(1, r*g)))
	}
	e.frame += int64(n)
}

// noteEvent converts a composition note to a clock event. Both the live
// scheduler and the offline renderer place notes through it.
func noteEvent(track *composition.Track, n composition.Note, start, secondsPerBeat float64, inst Instrument) (NoteEvent, bool) {
	midi, err := composition.PitchToMIDI(n.Pitch)
	if err != nil {
		return NoteEvent{}, false
	}
	dur := n.Duration * secondsPerBeat
	ev := NoteEvent{
		NoteID:     n.ID,
		Track:      n.Track,
		MIDI:       midi,
		Start:      start,
		Duration:   dur,
		Velocity:   n.Velocity,
		Instrument: inst,
	}
	family := composition.DefaultFamily
	if track != nil {
		family = track.Family
	}
	if inst != nil {
		ev.Release = ReleaseFor(family)
	} else {
		ev.Spec = Patch(track, NoteParams{MIDI: midi, Velocity: n.Velocity, Duration: dur})
	}
	return ev, true
}
