package composition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultPitch is used whenever a pitch string cannot be parsed
const DefaultPitch = "C4"

const defaultOctave = 4

var letterOffsets = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

var sharpNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
var flatNames = []string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

// ParsePitch splits a pitch like "c#4" into its canonical name and MIDI number.
// A missing octave defaults to 4.
func ParsePitch(pitch string) (string, int, error) {
	s := strings.TrimSpace(pitch)
	if s == "" {
		return "", 0, fmt.Errorf("empty pitch")
	}

	letter := strings.ToUpper(s[:1])[0]
	semitone, ok := letterOffsets[letter]
	if !ok {
		return "", 0, fmt.Errorf("invalid note letter in %q", pitch)
	}

	idx := 1
	accidental := ""
	if idx < len(s) {
		switch s[idx] {
		case '#':
			semitone++
			accidental = "#"
			idx++
		case 'b':
			semitone--
			accidental = "b"
			idx++
		}
	}

	octave := defaultOctave
	if idx < len(s) {
		o, err := strconv.Atoi(s[idx:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid octave in %q: %w", pitch, err)
		}
		octave = o
	}
	if octave < -1 || octave > 9 {
		return "", 0, fmt.Errorf("octave out of range in %q", pitch)
	}

	// (octave + 1) * 12 + semitone gives C-1 = 0, C4 = 60
	midi := (octave+1)*12 + semitone
	if midi < 0 || midi > 127 {
		return "", 0, fmt.Errorf("pitch %q outside MIDI range", pitch)
	}

	return fmt.Sprintf("%c%s%d", letter, accidental, octave), midi, nil
}

// NormalizePitch returns the canonical spelling of pitch, or DefaultPitch when
// it cannot be parsed. ok reports whether the input was usable.
func NormalizePitch(pitch string) (string, bool) {
	name, _, err := ParsePitch(pitch)
	if err != nil {
		return DefaultPitch, false
	}
	return name, true
}

// PitchToMIDI converts a pitch name to a MIDI note number
func PitchToMIDI(pitch string) (int, error) {
	_, midi, err := ParsePitch(pitch)
	return midi, err
}

// MIDIToPitch spells a MIDI note number with sharps
func MIDIToPitch(midi int) string {
	midi = max(0, min(127, midi))
	return fmt.Sprintf("%s%d", sharpNames[midi%12], midi/12-1)
}

// PitchClass returns 0-11 for the pitch, ignoring octave
func PitchClass(pitch string) (int, error) {
	midi, err := PitchToMIDI(pitch)
	if err != nil {
		return 0, err
	}
	return midi % 12, nil
}

// Frequency returns the equal-tempered frequency for a MIDI note (A4 = 440Hz)
func Frequency(midi float64) float64 {
	return 440.0 * math.Pow(2, (midi-69)/12)
}

// PitchClassName spells a pitch class, preferring flats when asked
func PitchClassName(pc int, preferFlats bool) string {
	pc = ((pc % 12) + 12) % 12
	if preferFlats {
		return flatNames[pc]
	}
	return sharpNames[pc]
}
