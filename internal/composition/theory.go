package composition

import (
	"fmt"
	"math"
	"strings"
)

// Scale intervals in semitones from the root
var scaleIntervals = map[string][]int{
	"major":            {0, 2, 4, 5, 7, 9, 11},
	"minor":            {0, 2, 3, 5, 7, 8, 10},
	"dorian":           {0, 2, 3, 5, 7, 9, 10},
	"phrygian":         {0, 1, 3, 5, 7, 8, 10},
	"lydian":           {0, 2, 4, 6, 7, 9, 11},
	"mixolydian":       {0, 2, 4, 5, 7, 9, 10},
	"locrian":          {0, 1, 3, 5, 6, 8, 10},
	"harmonic_minor":   {0, 2, 3, 5, 7, 8, 11},
	"melodic_minor":    {0, 2, 3, 5, 7, 9, 11},
	"major_pentatonic": {0, 2, 4, 7, 9},
	"minor_pentatonic": {0, 3, 5, 7, 10},
	"blues":            {0, 3, 5, 6, 7, 10},
}

var scaleAliases = map[string]string{
	"ionian":           "major",
	"aeolian":          "minor",
	"natural_minor":    "minor",
	"pentatonic":       "major_pentatonic",
	"pentatonic_major": "major_pentatonic",
	"pentatonic_minor": "minor_pentatonic",
}

// Chord intervals in semitones from the root
var chordIntervals = map[string][]int{
	"major": {0, 4, 7},
	"minor": {0, 3, 7},
	"dim":   {0, 3, 6},
	"aug":   {0, 4, 8},
	"sus2":  {0, 2, 7},
	"sus4":  {0, 5, 7},
	"maj7":  {0, 4, 7, 11},
	"min7":  {0, 3, 7, 10},
	"dom7":  {0, 4, 7, 10},
	"dim7":  {0, 3, 6, 9},
	"m7b5":  {0, 3, 6, 10},
	"add9":  {0, 4, 7, 14},
}

var chordAliases = map[string]string{
	"maj":        "major",
	"m":          "minor",
	"min":        "minor",
	"diminished": "dim",
	"augmented":  "aug",
	"7":          "dom7",
	"m7":         "min7",
	"minor7":     "min7",
	"major7":     "maj7",
	"half_dim":   "m7b5",
}

// ScaleNames lists the supported scales in a stable order
func ScaleNames() []string {
	return []string{
		"major", "minor", "dorian", "phrygian", "lydian", "mixolydian", "locrian",
		"harmonic_minor", "melodic_minor", "major_pentatonic", "minor_pentatonic", "blues",
	}
}

// ChordTypes lists the supported chord qualities in a stable order
func ChordTypes() []string {
	return []string{"major", "minor", "dim", "aug", "sus2", "sus4", "maj7", "min7", "dom7", "dim7", "m7b5", "add9"}
}

func lookupName(name string, table map[string][]int, aliases map[string]string) ([]int, string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	iv, ok := table[key]
	return iv, key, ok
}

// rootPitchClass parses a root like "F#" or "Bb" (octave optional)
func rootPitchClass(root string) (int, bool, error) {
	pc, err := PitchClass(root)
	if err != nil {
		return 0, false, fmt.Errorf("invalid root %q: %w", root, err)
	}
	r := strings.TrimSpace(root)
	preferFlats := len(r) > 1 && r[1] == 'b' || strings.EqualFold(r[:1], "f") && (len(r) == 1 || r[1] != '#')
	return pc, preferFlats, nil
}

// ScaleNotes returns the pitch-class names of the scale built on root
func ScaleNotes(root, scale string) ([]string, string, error) {
	intervals, name, ok := lookupName(scale, scaleIntervals, scaleAliases)
	if !ok {
		return nil, "", fmt.Errorf("unknown scale %q", scale)
	}
	pc, flats, err := rootPitchClass(root)
	if err != nil {
		return nil, "", err
	}
	notes := make([]string, len(intervals))
	for i, iv := range intervals {
		notes[i] = PitchClassName(pc+iv, flats)
	}
	return notes, name, nil
}

// ChordNotes returns pitches with octaves for the chord rooted at root in octave
func ChordNotes(root, chordType string, octave int) ([]string, string, error) {
	intervals, name, ok := lookupName(chordType, chordIntervals, chordAliases)
	if !ok {
		return nil, "", fmt.Errorf("unknown chord type %q", chordType)
	}
	pc, _, err := rootPitchClass(root)
	if err != nil {
		return nil, "", err
	}
	base := (octave+1)*12 + pc
	notes := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		midi := base + iv
		if midi < 0 || midi > 127 {
			continue
		}
		notes = append(notes, MIDIToPitch(midi))
	}
	return notes, name, nil
}

// KeyMatch is the best-fit key for a set of pitch classes
type KeyMatch struct {
	Root     string  `json:"root"`
	Scale    string  `json:"scale"`
	MatchPct float64 `json:"matchPct"`
	InKey    int     `json:"inKey"`
	Total    int     `json:"total"`
}

// DetectKey scores every major and minor key by how many of the given pitch
// classes fall in its scale. Candidates are checked root by root, major before
// minor, and a later candidate must score strictly higher to win.
func DetectKey(pitchClasses []int) KeyMatch {
	if len(pitchClasses) == 0 {
		return KeyMatch{Root: "C", Scale: "major"}
	}

	best := KeyMatch{MatchPct: -1}
	for root := 0; root < 12; root++ {
		for _, scale := range []string{"major", "minor"} {
			in := make(map[int]bool, 7)
			for _, iv := range scaleIntervals[scale] {
				in[(root+iv)%12] = true
			}
			count := 0
			for _, pc := range pitchClasses {
				if in[((pc%12)+12)%12] {
					count++
				}
			}
			if count > best.InKey || best.MatchPct < 0 {
				best = KeyMatch{
					Root:  PitchClassName(root, false),
					Scale: scale,
					InKey: count,
					Total: len(pitchClasses),
				}
				best.MatchPct = 0
			}
		}
	}
	best.MatchPct = math.Round(float64(best.InKey) / float64(best.Total) * 100)
	return best
}
