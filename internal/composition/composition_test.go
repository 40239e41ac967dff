package composition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalBeatsTracksNoteMutations(t *testing.T) {
	c := New()
	assert.Equal(t, 0.0, c.TotalBeats)

	c.AddNote(Note{Track: "lead", Pitch: "C4", Beat: 0, Duration: 1})
	assert.Equal(t, 1.0, c.TotalBeats)

	c.AddNote(Note{Track: "bass", Pitch: "C2", Beat: 6, Duration: 2.5})
	assert.Equal(t, 8.5, c.TotalBeats)

	c.AddNote(Note{Track: "lead", Pitch: "E4", Beat: 2, Duration: 1})
	assert.Equal(t, 8.5, c.TotalBeats)

	removed := c.ClearTrack("bass")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3.0, c.TotalBeats)

	c.ClearTrack("lead")
	assert.Equal(t, 0.0, c.TotalBeats)
	assert.Contains(t, c.Tracks, "lead", "clearing notes keeps the track")
}

func TestAddNoteCreatesTrackAndAssignsIDs(t *testing.T) {
	c := New()
	a := c.AddNote(Note{Track: "kick", Pitch: "C2", Beat: 0, Duration: 0.25})
	b := c.AddNote(Note{Track: "kick", Pitch: "C2", Beat: 1, Duration: 0.25})

	assert.Greater(t, b.ID, a.ID)
	require.Contains(t, c.Tracks, "kick")
	assert.Equal(t, FamilyKick, c.Tracks["kick"].Family)
	assert.Equal(t, DefaultsFor(FamilyKick).Volume, c.Tracks["kick"].Volume)
}

func TestCloneIsDeep(t *testing.T) {
	c := New()
	tr, _ := c.EnsureTrack("pad", FamilyPad)
	tr.Delay = &Delay{Time: 0.3, Feedback: 0.4, Mix: 0.2}
	c.AddNote(Note{Track: "pad", Pitch: "A3", Beat: 0, Duration: 4})

	cp := c.Clone()
	cp.Tracks["pad"].Delay.Mix = 0.9
	cp.Notes[0].Pitch = "B3"

	assert.Equal(t, 0.2, c.Tracks["pad"].Delay.Mix)
	assert.Equal(t, "A3", c.Notes[0].Pitch)

	next := cp.AddNote(Note{Track: "pad", Pitch: "C4", Beat: 4, Duration: 1})
	assert.Equal(t, int64(2), next.ID)
}

func TestTotalBars(t *testing.T) {
	c := New()
	c.AddNote(Note{Track: "x", Pitch: "C4", Beat: 0, Duration: 9})
	assert.Equal(t, 3, c.TotalBars())

	c.TimeSignature = TimeSignature{Numerator: 3, Denominator: 4}
	assert.Equal(t, 3, c.TotalBars())
}

func TestNormalizeRepairsDecodedComposition(t *testing.T) {
	c := &Composition{
		Tempo:         500,
		TimeSignature: TimeSignature{Numerator: 0, Denominator: 5},
		Notes: []Note{
			{ID: 7, Track: "bass", Pitch: "C2", Beat: 2, Duration: 2},
		},
	}
	c.Normalize()

	assert.Equal(t, DefaultTempo, c.Tempo)
	assert.Equal(t, TimeSignature{Numerator: 4, Denominator: 4}, c.TimeSignature)
	assert.Contains(t, c.Tracks, "bass")
	assert.Equal(t, 4.0, c.TotalBeats)
	assert.Equal(t, int64(8), c.AddNote(Note{Track: "bass", Pitch: "D2", Beat: 0, Duration: 1}).ID)
}

func TestNormalizeClampsNotes(t *testing.T) {
	tests := []struct {
		name string
		in   Note
		want Note
	}{
		{
			name: "out of range values",
			in:   Note{Track: "lead", Pitch: "zz", Beat: -4, Duration: -2, Velocity: 900},
			want: Note{Track: "lead", Pitch: DefaultPitch, Beat: 0, Duration: MinDuration, Velocity: MaxVelocity},
		},
		{
			name: "too far and too long",
			in:   Note{Track: "lead", Pitch: "f#3", Beat: 1e9, Duration: 1e6, Velocity: -5},
			want: Note{Track: "lead", Pitch: "F#3", Beat: MaxBeat, Duration: MaxDuration, Velocity: 1},
		},
		{
			name: "missing velocity",
			in:   Note{Track: "lead", Pitch: "A4", Beat: 2, Duration: 1},
			want: Note{Track: "lead", Pitch: "A4", Beat: 2, Duration: 1, Velocity: DefaultVelocity},
		},
		{
			name: "valid note is unchanged",
			in:   Note{Track: "lead", Pitch: "Bb2", Beat: 3.5, Duration: 0.5, Velocity: 64},
			want: Note{Track: "lead", Pitch: "Bb2", Beat: 3.5, Duration: 0.5, Velocity: 64},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.ID = 1
			c := &Composition{Tempo: 100, Notes: []Note{in}}
			c.Normalize()

			got := c.Notes[0]
			got.ID = 0
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Beat+tt.want.Duration, c.TotalBeats)
		})
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		input    string
		expected Family
		ok       bool
	}{
		{"piano", FamilyPiano, true},
		{"Synth-Bass", FamilySynthBass, true},
		{"rhodes", FamilyElectricPiano, true},
		{"theremin", DefaultFamily, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, ok := ParseFamily(tt.input)
			assert.Equal(t, tt.expected, f)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestGuessFamily(t *testing.T) {
	assert.Equal(t, FamilyHihat, GuessFamily("HiHat"))
	assert.Equal(t, FamilySynthBass, GuessFamily("sub_bass"))
	assert.Equal(t, FamilyLead, GuessFamily("lead_melody"))
	assert.Equal(t, DefaultFamily, GuessFamily("melody"))
	assert.True(t, FamilyKick.IsPercussion())
	assert.False(t, FamilyBass.IsPercussion())
}
