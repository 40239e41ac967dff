package composition

import (
	"math"
	"sort"
	"time"
)

const (
	DefaultTempo       = 120.0
	MinTempo           = 40.0
	MaxTempo           = 200.0
	DefaultNumerator   = 4
	DefaultDenominator = 4
	DefaultVelocity    = 80
	MaxVelocity        = 127
	// MinDuration is the smallest note length in beats (a sixteenth of a beat)
	MinDuration = 1.0 / 16
	MaxDuration = 64.0
	// MaxBeat is the latest 0-indexed start beat a note may have
	MaxBeat = 100000.0
)

// TimeSignature describes the meter of the composition
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// SynthParams overrides the procedural synth voice of a track
type SynthParams struct {
	Waveform     string  `json:"waveform,omitempty"`
	FilterCutoff float64 `json:"filterCutoff,omitempty"`
	FilterQ      float64 `json:"filterQ,omitempty"`
	Attack       float64 `json:"attack,omitempty"`
	Release      float64 `json:"release,omitempty"`
	DetuneCents  float64 `json:"detuneCents,omitempty"`
}

// Distortion is an optional waveshaper stage
type Distortion struct {
	Type       string  `json:"type"`
	Drive      float64 `json:"drive"`
	Mix        float64 `json:"mix"`
	OutputGain float64 `json:"outputGain"`
}

// Delay is an optional feedback delay stage
type Delay struct {
	Time     float64 `json:"time"`
	Feedback float64 `json:"feedback"`
	Mix      float64 `json:"mix"`
}

// LFO modulates pitch (vibrato) or amplitude (tremolo)
type LFO struct {
	Type  string  `json:"type"`
	Rate  float64 `json:"rate"`
	Depth float64 `json:"depth"`
}

// EQ is an optional highpass/lowpass pair
type EQ struct {
	HighpassHz float64 `json:"highpassHz"`
	LowpassHz  float64 `json:"lowpassHz"`
}

// Track is a named channel with an instrument and mixing parameters
type Track struct {
	Name       string       `json:"name"`
	Family     Family       `json:"family"`
	Variant    string       `json:"variant,omitempty"`
	Volume     float64      `json:"volume"`
	Pan        float64      `json:"pan"`
	ReverbSend float64      `json:"reverbSend"`
	Synth      *SynthParams `json:"synthParams,omitempty"`
	Distortion *Distortion  `json:"distortion,omitempty"`
	Delay      *Delay       `json:"delay,omitempty"`
	LFO        *LFO         `json:"lfo,omitempty"`
	EQ         *EQ          `json:"eq,omitempty"`
}

// Note is a single pitched event; Beat is 0-indexed
type Note struct {
	ID        int64     `json:"id"`
	Track     string    `json:"track"`
	Pitch     string    `json:"pitch"`
	Beat      float64   `json:"beat"`
	Duration  float64   `json:"duration"`
	Velocity  int       `json:"velocity"`
	CreatedAt time.Time `json:"createdAt"`
}

// End returns the beat at which the note stops sounding
func (n Note) End() float64 {
	return n.Beat + n.Duration
}

// Composition is the mutable score. It carries no locking of its own;
// callers serialize access.
type Composition struct {
	Tempo         float64           `json:"tempo"`
	TimeSignature TimeSignature     `json:"timeSignature"`
	Tracks        map[string]*Track `json:"tracks"`
	Notes         []Note            `json:"notes"`
	TotalBeats    float64           `json:"totalBeats"`

	lastID int64
}

// New returns an empty composition at 120 bpm in 4/4
func New() *Composition {
	return &Composition{
		Tempo:         DefaultTempo,
		TimeSignature: TimeSignature{Numerator: DefaultNumerator, Denominator: DefaultDenominator},
		Tracks:        make(map[string]*Track),
	}
}

// BeatsPerBar is the numerator of the time signature
func (c *Composition) BeatsPerBar() int {
	if c.TimeSignature.Numerator < 1 {
		return DefaultNumerator
	}
	return c.TimeSignature.Numerator
}

// SecondsPerBeat converts the tempo to seconds per beat
func (c *Composition) SecondsPerBeat() float64 {
	tempo := c.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	return 60.0 / tempo
}

// TotalBars rounds totalBeats up to whole bars
func (c *Composition) TotalBars() int {
	if c.TotalBeats <= 0 {
		return 0
	}
	bpb := float64(c.BeatsPerBar())
	bars := int(c.TotalBeats / bpb)
	if float64(bars)*bpb < c.TotalBeats-1e-9 {
		bars++
	}
	return bars
}

// RecomputeTotalBeats refreshes the derived totalBeats cache
func (c *Composition) RecomputeTotalBeats() {
	total := 0.0
	for _, n := range c.Notes {
		if end := n.End(); end > total {
			total = end
		}
	}
	c.TotalBeats = total
}

// EnsureTrack returns the named track, creating it with family defaults if absent.
// The second return value reports whether the track was created.
func (c *Composition) EnsureTrack(name string, family Family) (*Track, bool) {
	if c.Tracks == nil {
		c.Tracks = make(map[string]*Track)
	}
	if t, ok := c.Tracks[name]; ok {
		return t, false
	}
	if family == "" {
		family = GuessFamily(name)
	}
	t := NewTrack(name, family)
	c.Tracks[name] = t
	return t, true
}

// NewTrack builds a track with the family's default volume and reverb send
func NewTrack(name string, family Family) *Track {
	d := DefaultsFor(family)
	return &Track{
		Name:       name,
		Family:     family,
		Volume:     d.Volume,
		ReverbSend: d.Reverb,
	}
}

// AddNote appends a note, assigning its ID and lazily creating the track
func (c *Composition) AddNote(n Note) Note {
	c.EnsureTrack(n.Track, "")
	c.lastID = max(c.lastID, c.maxNoteID()) + 1
	n.ID = c.lastID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	c.Notes = append(c.Notes, n)
	c.RecomputeTotalBeats()
	return n
}

func (c *Composition) maxNoteID() int64 {
	if c.lastID > 0 {
		return c.lastID
	}
	var id int64
	for _, n := range c.Notes {
		if n.ID > id {
			id = n.ID
		}
	}
	return id
}

// ClearTrack removes every note on the track and returns how many were removed
func (c *Composition) ClearTrack(name string) int {
	kept := c.Notes[:0]
	removed := 0
	for _, n := range c.Notes {
		if n.Track == name {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	c.Notes = kept
	c.RecomputeTotalBeats()
	return removed
}

// RemoveTrack deletes the track entry. Its notes are untouched.
func (c *Composition) RemoveTrack(name string) {
	delete(c.Tracks, name)
}

// TrackNotes returns the indexes of the notes on a track
func (c *Composition) TrackNotes(name string) []int {
	var idx []int
	for i, n := range c.Notes {
		if n.Track == name {
			idx = append(idx, i)
		}
	}
	return idx
}

// TrackNames returns track names in lexical order
func (c *Composition) TrackNames() []string {
	names := make([]string, 0, len(c.Tracks))
	for name := range c.Tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedNotes returns a copy of the notes ordered by beat, then by insertion
func (c *Composition) SortedNotes() []Note {
	sorted := make([]Note, len(c.Notes))
	copy(sorted, c.Notes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Beat < sorted[j].Beat
	})
	return sorted
}

// Clone returns a deep copy safe to hand to another goroutine
func (c *Composition) Clone() *Composition {
	out := &Composition{
		Tempo:         c.Tempo,
		TimeSignature: c.TimeSignature,
		Tracks:        make(map[string]*Track, len(c.Tracks)),
		Notes:         make([]Note, len(c.Notes)),
		TotalBeats:    c.TotalBeats,
		lastID:        c.lastID,
	}
	copy(out.Notes, c.Notes)
	for name, t := range c.Tracks {
		out.Tracks[name] = t.Clone()
	}
	return out
}

// Clone deep-copies the track including optional effects
func (t *Track) Clone() *Track {
	cp := *t
	if t.Synth != nil {
		s := *t.Synth
		cp.Synth = &s
	}
	if t.Distortion != nil {
		d := *t.Distortion
		cp.Distortion = &d
	}
	if t.Delay != nil {
		d := *t.Delay
		cp.Delay = &d
	}
	if t.LFO != nil {
		l := *t.LFO
		cp.LFO = &l
	}
	if t.EQ != nil {
		e := *t.EQ
		cp.EQ = &e
	}
	return &cp
}

// Normalize repairs a composition decoded from an external source:
// missing tracks are created, the tempo, meter and every note are clamped
// and totalBeats is recomputed.
func (c *Composition) Normalize() {
	if c.Tracks == nil {
		c.Tracks = make(map[string]*Track)
	}
	if !(c.Tempo >= MinTempo && c.Tempo <= MaxTempo) {
		c.Tempo = DefaultTempo
	}
	if c.TimeSignature.Numerator < 1 || c.TimeSignature.Numerator > 16 {
		c.TimeSignature.Numerator = DefaultNumerator
	}
	switch c.TimeSignature.Denominator {
	case 2, 4, 8, 16:
	default:
		c.TimeSignature.Denominator = DefaultDenominator
	}
	for name, t := range c.Tracks {
		t.Name = name
		if !t.Family.Valid() {
			t.Family = DefaultFamily
		}
	}
	for i := range c.Notes {
		normalizeNote(&c.Notes[i])
		c.EnsureTrack(c.Notes[i].Track, "")
	}
	c.lastID = 0
	c.lastID = c.maxNoteID()
	c.RecomputeTotalBeats()
}

// normalizeNote applies the same limits the note tools enforce
func normalizeNote(n *Note) {
	n.Pitch, _ = NormalizePitch(n.Pitch)
	switch {
	case math.IsNaN(n.Beat) || n.Beat < 0:
		n.Beat = 0
	case n.Beat > MaxBeat:
		n.Beat = MaxBeat
	}
	switch {
	case math.IsNaN(n.Duration) || n.Duration < MinDuration:
		n.Duration = MinDuration
	case n.Duration > MaxDuration:
		n.Duration = MaxDuration
	}
	switch {
	case n.Velocity == 0:
		n.Velocity = DefaultVelocity
	case n.Velocity < 1:
		n.Velocity = 1
	case n.Velocity > MaxVelocity:
		n.Velocity = MaxVelocity
	}
}
