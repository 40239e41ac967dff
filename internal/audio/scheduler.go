package audio

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
)

const (
	DefaultLookahead       = 100 * time.Millisecond
	DefaultScheduleTick    = 25 * time.Millisecond
	DefaultPlayheadTick    = 33 * time.Millisecond
	muteRampSeconds        = 0.03
	stopRampSeconds        = 0.015
	startRampSeconds       = 0.005
	startOffsetSeconds     = 0.05
	lateToleranceSeconds   = 0.02
	instrumentLoadTimeout  = 20 * time.Second
	noBeat                 = -1.0
	secondsPerBeatFallback = 0.5
)

// Ticker is a cancellable periodic source
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.Ticker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Playhead is pushed at display rate. Beat is -1 and ActiveNotes is empty
// when playback has stopped.
type Playhead struct {
	Playing     bool    `json:"playing"`
	Beat        float64 `json:"beat"`
	Loop        int     `json:"loop"`
	ActiveNotes []int64 `json:"activeNotes"`
}

// State is a point-in-time view of the scheduler
type State struct {
	Playing bool               `json:"playing"`
	Looping bool               `json:"looping"`
	Session uint64             `json:"session"`
	Muted   map[string]bool    `json:"muted"`
	Volumes map[string]float64 `json:"volumes"`
	Cursor  int                `json:"cursor"`
	Notes   int                `json:"notes"`
}

// Scheduler places composition notes on the backend clock ahead of time.
// All state is guarded by mu; the two periodic loops and composition
// updates only meet there.
type Scheduler struct {
	mu        sync.Mutex
	backend   Backend
	provider  InstrumentProvider
	lookahead float64
	tick      time.Duration
	frameTick time.Duration
	newTicker func(time.Duration) Ticker
	sleep     func(time.Duration)

	comp      *composition.Composition
	sorted    []composition.Note
	cursor    int
	loopStart float64
	loopIndex int
	scheduled map[int64]bool
	playing   bool
	looping   bool
	session   uint64
	endAt     float64

	muted       map[string]bool
	volumes     map[string]float64
	seenVolumes map[string]float64
	channels    map[string]bool
	instruments map[string]Instrument
	instrKeys   map[string]string
	loading     map[string]uint64 // track|instrument -> session that started the load

	cancel    context.CancelFunc
	onEnded   func()
	listeners map[int]func(Playhead)
	nextSub   int
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithLookahead sets the scheduling window
func WithLookahead(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lookahead = d.Seconds() }
}

// WithTickInterval sets the note-scheduling timer period
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

// WithInstrumentProvider enables sample-based players
func WithInstrumentProvider(p InstrumentProvider) SchedulerOption {
	return func(s *Scheduler) { s.provider = p }
}

// WithTicker replaces the timer source, used by tests
func WithTicker(fn func(time.Duration) Ticker) SchedulerOption {
	return func(s *Scheduler) { s.newTicker = fn }
}

// WithSleep replaces the wait used for the stop ramp
func WithSleep(fn func(time.Duration)) SchedulerOption {
	return func(s *Scheduler) { s.sleep = fn }
}

// NewScheduler creates an idle scheduler over backend
func NewScheduler(backend Backend, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		backend:     backend,
		lookahead:   DefaultLookahead.Seconds(),
		tick:        DefaultScheduleTick,
		frameTick:   DefaultPlayheadTick,
		newTicker:   NewTimeTicker,
		sleep:       time.Sleep,
		comp:        composition.New(),
		scheduled:   make(map[int64]bool),
		muted:       make(map[string]bool),
		volumes:     make(map[string]float64),
		seenVolumes: make(map[string]float64),
		channels:    make(map[string]bool),
		instruments: make(map[string]Instrument),
		instrKeys:   make(map[string]string),
		loading:     make(map[string]uint64),
		listeners:   make(map[int]func(Playhead)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEnded registers a callback for when a non-looping pass finishes
func (s *Scheduler) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// SubscribePlayhead registers fn for playhead updates
func (s *Scheduler) SubscribePlayhead(fn func(Playhead)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func secondsPerBeat(c *composition.Composition) float64 {
	if c == nil || c.Tempo <= 0 {
		return secondsPerBeatFallback
	}
	return c.SecondsPerBeat()
}

// Play starts playback of comp from the top. comp must not be mutated by
// the caller afterwards; pass a clone.
func (s *Scheduler) Play(comp *composition.Composition, loop bool) {
	s.Stop()

	s.mu.Lock()
	s.session++
	session := s.session
	if comp == nil {
		comp = composition.New()
	}
	s.comp = comp
	s.sorted = comp.SortedNotes()
	s.cursor = 0
	s.loopIndex = 0
	s.scheduled = make(map[int64]bool)
	s.looping = loop
	s.playing = true
	s.endAt = 0
	s.loopStart = s.backend.Now() + startOffsetSeconds
	s.backend.RampMaster(1, startRampSeconds)
	s.syncTracksLocked(session)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	logger.Info("Playback started", logger.Fields{
		"session": session,
		"notes":   len(comp.Notes),
		"loop":    loop,
		"tempo":   comp.Tempo,
	})

	s.Tick()
	go s.runLoop(ctx, session, s.tick, s.Tick)
	go s.runLoop(ctx, session, s.frameTick, s.publishPlayhead)
}

func (s *Scheduler) runLoop(ctx context.Context, session uint64, d time.Duration, fn func()) {
	t := s.newTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !s.isSession(session) {
				return
			}
			fn()
		}
	}
}

func (s *Scheduler) isSession(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == id
}

// SetLooping toggles looping while playing
func (s *Scheduler) SetLooping(loop bool) {
	s.mu.Lock()
	s.looping = loop
	if loop {
		s.endAt = 0
	}
	s.mu.Unlock()
}

// Tick schedules every note whose start falls inside the look-ahead window
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	ended := s.scheduleLocked(s.backend.Now())
	session := s.session
	onEnded := s.onEnded
	s.mu.Unlock()

	if ended {
		logger.Debug("Playback reached the end", nil)
		// a Play or Stop since the lock was released owns the graph now
		if s.stop(session, true) && onEnded != nil {
			onEnded()
		}
	}
}

// scheduleLocked walks the cursor through the window and reports whether a
// non-looping pass has completely finished sounding.
func (s *Scheduler) scheduleLocked(now float64) bool {
	spb := secondsPerBeat(s.comp)
	horizon := now + s.lookahead
	loopLen := s.comp.TotalBeats * spb

	for {
		if s.cursor >= len(s.sorted) {
			if !s.looping {
				if s.endAt == 0 {
					s.endAt = s.loopStart + loopLen
				}
				return now >= s.endAt
			}
			if loopLen <= 0 || len(s.sorted) == 0 {
				// nothing to loop yet; wait for notes
				return false
			}
			// seam: the next pass starts exactly one loop length later
			s.cursor = 0
			s.loopIndex++
			s.loopStart += loopLen
			s.scheduled = make(map[int64]bool)
			continue
		}

		n := s.sorted[s.cursor]
		at := s.loopStart + n.Beat*spb
		if at >= horizon {
			return false
		}
		s.cursor++
		if s.scheduled[n.ID] || at < now-lateToleranceSeconds {
			continue
		}
		s.scheduled[n.ID] = true
		if ev, ok := noteEvent(s.comp.Tracks[n.Track], n, math.Max(at, now), spb, s.instruments[n.Track]); ok {
			s.backend.ScheduleNote(ev)
		}
	}
}

// UpdateComposition swaps in a new snapshot. While playing it builds chains
// for new tracks, re-sorts the notes and moves the cursor to the first note
// at or after the current position in the loop.
func (s *Scheduler) UpdateComposition(comp *composition.Composition) {
	if comp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.comp
	s.comp = comp
	s.sorted = comp.SortedNotes()
	if !s.playing {
		return
	}

	now := s.backend.Now()
	if prev != nil && prev.Tempo != comp.Tempo && prev.Tempo > 0 && comp.Tempo > 0 {
		// keep the playhead beat continuous across the tempo change
		beat := (now - s.loopStart) / prev.SecondsPerBeat()
		s.loopStart = now - beat*comp.SecondsPerBeat()
	}
	s.endAt = 0

	s.syncTracksLocked(s.session)

	elapsed := math.Max(0, (now-s.loopStart)/secondsPerBeat(comp))
	s.cursor = sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i].Beat >= elapsed })
}

// syncTracksLocked builds missing chains, pushes effect changes, follows
// volume edits and starts instrument loads for tracks seen the first time.
func (s *Scheduler) syncTracksLocked(session uint64) {
	for _, name := range s.comp.TrackNames() {
		t := s.comp.Tracks[name]
		// follow volume edits in the document without clobbering a
		// playback override made since the last edit
		seen, known := s.seenVolumes[name]
		if !known || seen != t.Volume {
			s.seenVolumes[name] = t.Volume
			s.volumes[name] = t.Volume
			if known && !s.muted[name] {
				s.backend.RampChannelGain(name, t.Volume, muteRampSeconds)
			}
		}

		gain := s.volumes[name]
		if s.muted[name] {
			gain = 0
		}
		s.backend.EnsureChannel(BuildChain(t), gain)
		s.channels[name] = true

		s.loadInstrumentLocked(session, t)
	}
}

func (s *Scheduler) loadInstrumentLocked(session uint64, t *composition.Track) {
	if s.provider == nil {
		return
	}
	key := string(t.Family) + "/" + t.Variant
	loadKey := t.Name + "|" + key
	if s.instrKeys[t.Name] == key || s.loading[loadKey] == session {
		return
	}
	// the track changed instrument; procedural until the new one arrives
	delete(s.instruments, t.Name)
	s.loading[loadKey] = session

	name, family, variant := t.Name, t.Family, t.Variant
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), instrumentLoadTimeout)
		defer cancel()
		inst, err := s.provider.Load(ctx, family, variant)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.loading[loadKey] == session {
			delete(s.loading, loadKey)
		}
		if s.session != session {
			return
		}
		if err != nil {
			fields := logger.Fields{"track": name, "family": string(family), "variant": variant}
			if errors.Is(err, ErrInstrumentUnavailable) {
				logger.Debug("No sampled instrument, using synthesis", fields)
			} else {
				logger.Warn("Instrument load failed, using synthesis: "+err.Error(), fields)
			}
			s.instrKeys[name] = key
			return
		}
		if cur, ok := s.comp.Tracks[name]; ok && string(cur.Family)+"/"+cur.Variant == key {
			s.instruments[name] = inst
			s.instrKeys[name] = key
		}
	}()
}

// Mute ramps a track to silence or back to its base volume
func (s *Scheduler) Mute(track string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[track] = muted
	target := 0.0
	if !muted {
		target = s.baseVolumeLocked(track)
	}
	s.backend.RampChannelGain(track, target, muteRampSeconds)
}

// SetTrackVolume overrides a track's base volume for playback
func (s *Scheduler) SetTrackVolume(track string, volume float64) {
	volume = math.Max(0, math.Min(1, volume))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[track] = volume
	if !s.muted[track] {
		s.backend.RampChannelGain(track, volume, muteRampSeconds)
	}
}

func (s *Scheduler) baseVolumeLocked(track string) float64 {
	if v, ok := s.volumes[track]; ok {
		return v
	}
	if t, ok := s.comp.Tracks[track]; ok {
		return t.Volume
	}
	return composition.DefaultsFor(composition.DefaultFamily).Volume
}

// Stop fades out and tears everything down. It is safe in any state.
func (s *Scheduler) Stop() {
	s.stop(0, false)
}

// stop ends the current session. With guarded set it does nothing unless
// owner is still the current session. It reports whether it tore the
// session down.
func (s *Scheduler) stop(owner uint64, guarded bool) bool {
	s.mu.Lock()
	if guarded && s.session != owner {
		s.mu.Unlock()
		return false
	}
	s.session++
	session := s.session
	wasPlaying := s.playing
	s.playing = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if wasPlaying {
		s.backend.RampMaster(0, stopRampSeconds)
		s.backend.StopVoices()
		s.sleep(time.Duration(stopRampSeconds * float64(time.Second)))
	}

	s.mu.Lock()
	if s.session != session {
		// superseded during the ramp
		s.mu.Unlock()
		return false
	}
	s.backend.Reset()
	s.channels = make(map[string]bool)
	s.instruments = make(map[string]Instrument)
	s.instrKeys = make(map[string]string)
	s.scheduled = make(map[int64]bool)
	s.cursor = 0
	s.loopIndex = 0
	s.endAt = 0
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if wasPlaying {
		logger.Info("Playback stopped", nil)
	}
	for _, fn := range subs {
		fn(Playhead{Beat: noBeat})
	}
	return true
}

// State reports the scheduler state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Playing: s.playing,
		Looping: s.looping,
		Session: s.session,
		Muted:   make(map[string]bool, len(s.muted)),
		Volumes: make(map[string]float64, len(s.volumes)),
		Cursor:  s.cursor,
		Notes:   len(s.sorted),
	}
	for k, v := range s.muted {
		st.Muted[k] = v
	}
	for k, v := range s.volumes {
		st.Volumes[k] = v
	}
	return st
}

// CurrentPlayhead computes the beat within the loop and the notes sounding
func (s *Scheduler) CurrentPlayhead() Playhead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playheadLocked(s.backend.Now())
}

func (s *Scheduler) playheadLocked(now float64) Playhead {
	if !s.playing {
		return Playhead{Beat: noBeat}
	}
	spb := secondsPerBeat(s.comp)
	beat := (now - s.loopStart) / spb
	loop := s.loopIndex
	if beat < 0 && s.loopIndex > 0 && s.comp.TotalBeats > 0 {
		// the cursor already wrapped; the sound is still in the previous pass
		beat += s.comp.TotalBeats
		loop--
	}
	if beat < 0 {
		return Playhead{Playing: true, Beat: 0, Loop: loop, ActiveNotes: []int64{}}
	}
	active := []int64{}
	for _, n := range s.sorted {
		if n.Beat > beat {
			break
		}
		if beat < n.End() {
			active = append(active, n.ID)
		}
	}
	return Playhead{Playing: true, Beat: beat, Loop: loop, ActiveNotes: active}
}

func (s *Scheduler) publishPlayhead() {
	s.mu.Lock()
	ph := s.playheadLocked(s.backend.Now())
	subs := s.subscribersLocked()
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ph)
	}
}

func (s *Scheduler) subscribersLocked() []func(Playhead) {
	subs := make([]func(Playhead), 0, len(s.listeners))
	for _, fn := range s.listeners {
		subs = append(subs, fn)
	}
	return subs
}
