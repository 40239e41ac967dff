package composition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePitch(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		midi     int
		wantErr  bool
	}{
		{name: "middle C", input: "C4", expected: "C4", midi: 60},
		{name: "lowercase sharp", input: "c#4", expected: "C#4", midi: 61},
		{name: "flat", input: "Bb3", expected: "Bb3", midi: 58},
		{name: "missing octave", input: "A", expected: "A4", midi: 69},
		{name: "negative octave", input: "C-1", expected: "C-1", midi: 0},
		{name: "bad letter", input: "H2", wantErr: true},
		{name: "bad octave", input: "Cx", wantErr: true},
		{name: "empty", input: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, midi, err := ParsePitch(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, name)
			assert.Equal(t, tt.midi, midi)
		})
	}
}

func TestNormalizePitchFallsBack(t *testing.T) {
	p, ok := NormalizePitch("nonsense")
	assert.False(t, ok)
	assert.Equal(t, DefaultPitch, p)

	p, ok = NormalizePitch(" f#2 ")
	assert.True(t, ok)
	assert.Equal(t, "F#2", p)
}

func TestMIDIToPitch(t *testing.T) {
	assert.Equal(t, "C4", MIDIToPitch(60))
	assert.Equal(t, "A#2", MIDIToPitch(46))
	assert.InDelta(t, 440.0, Frequency(69), 1e-9)
}

func TestScaleNotes(t *testing.T) {
	notes, name, err := ScaleNotes("C", "major")
	require.NoError(t, err)
	assert.Equal(t, "major", name)
	assert.Equal(t, []string{"C", "D", "E", "F", "G", "A", "B"}, notes)

	notes, _, err = ScaleNotes("A", "aeolian")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F", "G"}, notes)

	notes, _, err = ScaleNotes("F", "major")
	require.NoError(t, err)
	assert.Contains(t, notes, "Bb")

	_, _, err = ScaleNotes("C", "klingon")
	assert.Error(t, err)
}

func TestChordNotes(t *testing.T) {
	tests := []struct {
		root     string
		chord    string
		octave   int
		expected []string
	}{
		{"C", "major", 4, []string{"C4", "E4", "G4"}},
		{"A", "m", 3, []string{"A3", "C4", "E4"}},
		{"G", "7", 3, []string{"G3", "B3", "D4", "F4"}},
		{"D", "sus4", 4, []string{"D4", "G4", "A4"}},
	}

	for _, tt := range tests {
		t.Run(tt.root+tt.chord, func(t *testing.T) {
			notes, _, err := ChordNotes(tt.root, tt.chord, tt.octave)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, notes)
		})
	}
}

func TestDetectKeyCMajor(t *testing.T) {
	var pcs []int
	for _, p := range []string{"C4", "D4", "E5", "F3", "G4", "A4", "B2"} {
		pc, err := PitchClass(p)
		require.NoError(t, err)
		pcs = append(pcs, pc)
	}

	key := DetectKey(pcs)
	assert.Equal(t, "C", key.Root)
	assert.Equal(t, "major", key.Scale)
	assert.Equal(t, 100.0, key.MatchPct)
}

func TestDetectKeyPartialMatch(t *testing.T) {
	// A minor triad plus one chromatic note
	key := DetectKey([]int{9, 0, 4, 9, 1})
	assert.Equal(t, 5, key.Total)
	assert.Equal(t, 4, key.InKey)
	assert.Equal(t, 80.0, key.MatchPct)
}
