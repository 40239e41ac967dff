package tools

import (
	"math"
	"sort"
)

// BeatFilter selects which beats of a bar a percussion layer plays on
type BeatFilter int

const (
	EveryBeat BeatFilter = iota
	// BackBeats are the 2nd, 4th... beats (odd 0-indexed beats)
	BackBeats
	// DownBeats are the 1st, 3rd... beats (even 0-indexed beats)
	DownBeats
	FirstBeat
	// MidBar is the beat halfway through the bar
	MidBar
)

// PercussionLayer is one instrument line within a pattern
type PercussionLayer struct {
	Pitch    string
	Beats    BeatFilter
	Offsets  []float64 // within the beat
	Accents  []float64 // velocity multiplier per offset
	Duration float64
	Velocity int
}

// PercussionPattern is a named rhythmic template expanded per bar
type PercussionPattern struct {
	Name   string
	Layers []PercussionLayer
}

// General MIDI drum map pitches
const (
	pitchKick       = "C2"
	pitchSnare      = "D2"
	pitchClap       = "D#2"
	pitchClosedHat  = "F#2"
	pitchOpenHat    = "A#2"
	pitchCrash      = "C#3"
	pitchRide       = "D#3"
	pitchLowTom     = "A2"
	pitchHighTom    = "D3"
	pitchShaker     = "A#4"
	hitDuration     = 0.25
	shortHit        = 0.125
	defaultDrumVel  = 100
	accentFull      = 1.0
	accentGhost     = 0.65
	accentMedium    = 0.8
	accentBackbeat  = 0.95
	crashDuration   = 1.0
	kickPushOffset  = 0.5
	sixteenthOffset = 0.25
)

var kickQuarter = PercussionLayer{Pitch: pitchKick, Beats: EveryBeat, Offsets: []float64{0}, Accents: []float64{accentFull}, Duration: hitDuration, Velocity: defaultDrumVel}
var snareBackbeat = PercussionLayer{Pitch: pitchSnare, Beats: BackBeats, Offsets: []float64{0}, Accents: []float64{accentBackbeat}, Duration: hitDuration, Velocity: defaultDrumVel}
var hatEighths = PercussionLayer{Pitch: pitchClosedHat, Beats: EveryBeat, Offsets: []float64{0, 0.5}, Accents: []float64{accentMedium, accentGhost}, Duration: shortHit, Velocity: defaultDrumVel}

var percussionPatterns = map[string]PercussionPattern{
	"four_on_floor": {
		Name:   "four_on_floor",
		Layers: []PercussionLayer{kickQuarter},
	},
	"backbeat": {
		Name:   "backbeat",
		Layers: []PercussionLayer{snareBackbeat},
	},
	"clap_backbeat": {
		Name: "clap_backbeat",
		Layers: []PercussionLayer{
			{Pitch: pitchClap, Beats: BackBeats, Offsets: []float64{0}, Accents: []float64{accentBackbeat}, Duration: hitDuration, Velocity: defaultDrumVel},
		},
	},
	"eighth_hihat": {
		Name:   "eighth_hihat",
		Layers: []PercussionLayer{hatEighths},
	},
	"sixteenth_hihat": {
		Name: "sixteenth_hihat",
		Layers: []PercussionLayer{
			{Pitch: pitchClosedHat, Beats: EveryBeat, Offsets: []float64{0, 0.25, 0.5, 0.75}, Accents: []float64{accentMedium, accentGhost, accentMedium, accentGhost}, Duration: shortHit, Velocity: defaultDrumVel},
		},
	},
	"offbeat_hihat": {
		Name: "offbeat_hihat",
		Layers: []PercussionLayer{
			{Pitch: pitchOpenHat, Beats: EveryBeat, Offsets: []float64{0.5}, Accents: []float64{accentMedium}, Duration: hitDuration, Velocity: defaultDrumVel},
		},
	},
	"ride_quarter": {
		Name: "ride_quarter",
		Layers: []PercussionLayer{
			{Pitch: pitchRide, Beats: EveryBeat, Offsets: []float64{0}, Accents: []float64{accentMedium}, Duration: hitDuration, Velocity: defaultDrumVel},
		},
	},
	"crash_downbeat": {
		Name: "crash_downbeat",
		Layers: []PercussionLayer{
			{Pitch: pitchCrash, Beats: FirstBeat, Offsets: []float64{0}, Accents: []float64{accentFull}, Duration: crashDuration, Velocity: defaultDrumVel},
		},
	},
	"basic_rock": {
		Name: "basic_rock",
		Layers: []PercussionLayer{
			{Pitch: pitchKick, Beats: DownBeats, Offsets: []float64{0}, Accents: []float64{accentFull}, Duration: hitDuration, Velocity: defaultDrumVel},
			snareBackbeat,
			hatEighths,
		},
	},
	"half_time": {
		Name: "half_time",
		Layers: []PercussionLayer{
			{Pitch: pitchKick, Beats: FirstBeat, Offsets: []float64{0}, Accents: []float64{accentFull}, Duration: hitDuration, Velocity: defaultDrumVel},
			{Pitch: pitchSnare, Beats: MidBar, Offsets: []float64{0}, Accents: []float64{accentBackbeat}, Duration: hitDuration, Velocity: defaultDrumVel},
			hatEighths,
		},
	},
	"breakbeat": {
		Name: "breakbeat",
		Layers: []PercussionLayer{
			{Pitch: pitchKick, Beats: DownBeats, Offsets: []float64{0, kickPushOffset}, Accents: []float64{accentFull, accentMedium}, Duration: hitDuration, Velocity: defaultDrumVel},
			{Pitch: pitchSnare, Beats: BackBeats, Offsets: []float64{0, 0.75}, Accents: []float64{accentBackbeat, accentGhost}, Duration: hitDuration, Velocity: defaultDrumVel},
			hatEighths,
		},
	},
	"tom_fill": {
		Name: "tom_fill",
		Layers: []PercussionLayer{
			{Pitch: pitchHighTom, Beats: DownBeats, Offsets: []float64{0, sixteenthOffset}, Accents: []float64{accentFull, accentMedium}, Duration: shortHit, Velocity: defaultDrumVel},
			{Pitch: pitchLowTom, Beats: BackBeats, Offsets: []float64{0, sixteenthOffset}, Accents: []float64{accentFull, accentMedium}, Duration: shortHit, Velocity: defaultDrumVel},
		},
	},
	"shaker_sixteenth": {
		Name: "shaker_sixteenth",
		Layers: []PercussionLayer{
			{Pitch: pitchShaker, Beats: EveryBeat, Offsets: []float64{0, 0.25, 0.5, 0.75}, Accents: []float64{accentMedium, accentGhost, accentGhost, accentGhost}, Duration: shortHit, Velocity: defaultDrumVel},
		},
	},
}

// PatternNames lists the percussion patterns, four_on_floor first
func PatternNames() []string {
	names := make([]string, 0, len(percussionPatterns))
	for name := range percussionPatterns {
		if name != "four_on_floor" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{"four_on_floor"}, names...)
}

// GetPercussionPattern returns a pattern by name
func GetPercussionPattern(name string) (PercussionPattern, bool) {
	p, ok := percussionPatterns[name]
	return p, ok
}

// PercussionHit is one expanded note, beat 0-indexed
type PercussionHit struct {
	Pitch    string
	Beat     float64
	Duration float64
	Velocity int
}

// Expand lays the pattern out over bars consecutive bars starting at the
// 0-indexed startBar, sorted by beat.
func (p PercussionPattern) Expand(startBar, bars, beatsPerBar int) []PercussionHit {
	var hits []PercussionHit
	for b := 0; b < bars; b++ {
		barStart := float64((startBar + b) * beatsPerBar)
		for _, layer := range p.Layers {
			for beat := 0; beat < beatsPerBar; beat++ {
				if !layer.Beats.includes(beat, beatsPerBar) {
					continue
				}
				for i, off := range layer.Offsets {
					accent := accentFull
					if i < len(layer.Accents) {
						accent = layer.Accents[i]
					}
					vel := int(math.Round(float64(layer.Velocity) * accent))
					hits = append(hits, PercussionHit{
						Pitch:    layer.Pitch,
						Beat:     barStart + float64(beat) + off,
						Duration: layer.Duration,
						Velocity: max(1, min(127, vel)),
					})
				}
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Beat < hits[j].Beat })
	return hits
}

func (f BeatFilter) includes(beat, beatsPerBar int) bool {
	switch f {
	case BackBeats:
		return beat%2 == 1
	case DownBeats:
		return beat%2 == 0
	case FirstBeat:
		return beat == 0
	case MidBar:
		return beat == beatsPerBar/2
	default:
		return true
	}
}
