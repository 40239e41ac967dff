package share

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleComposition() *composition.Composition {
	c := composition.New()
	c.Tempo = 96
	c.TimeSignature = composition.TimeSignature{Numerator: 3, Denominator: 4}
	bass, _ := c.EnsureTrack("bass", composition.FamilyBass)
	bass.Variant = "electric_bass_finger"
	bass.Pan = -0.2
	bass.Delay = &composition.Delay{Time: 0.3, Feedback: 0.4, Mix: 0.25}
	lead, _ := c.EnsureTrack("lead", composition.FamilyLead)
	lead.Synth = &composition.SynthParams{Waveform: "square", FilterCutoff: 1200}
	lead.LFO = &composition.LFO{Type: "vibrato", Rate: 5, Depth: 0.3}
	c.AddNote(composition.Note{Track: "bass", Pitch: "C2", Beat: 0, Duration: 1, Velocity: 90})
	c.AddNote(composition.Note{Track: "lead", Pitch: "G4", Beat: 1.5, Duration: 0.5, Velocity: 70})
	c.AddNote(composition.Note{Track: "bass", Pitch: "E2", Beat: 1, Duration: 1, Velocity: 85})
	return c
}

func assertSameScore(t *testing.T, want, got *composition.Composition) {
	t.Helper()
	assert.Equal(t, want.Tempo, got.Tempo)
	assert.Equal(t, want.TimeSignature, got.TimeSignature)
	assert.Equal(t, want.TotalBeats, got.TotalBeats)
	require.Equal(t, want.TrackNames(), got.TrackNames())
	for name, wt := range want.Tracks {
		assert.Equal(t, wt, got.Tracks[name], name)
	}
	wn, gn := want.SortedNotes(), got.SortedNotes()
	require.Len(t, gn, len(wn))
	for i := range wn {
		assert.Equal(t, wn[i].Track, gn[i].Track)
		assert.Equal(t, wn[i].Pitch, gn[i].Pitch)
		assert.Equal(t, wn[i].Beat, gn[i].Beat)
		assert.Equal(t, wn[i].Duration, gn[i].Duration)
		assert.Equal(t, wn[i].Velocity, gn[i].Velocity)
		assert.NotZero(t, gn[i].ID)
	}
}

func TestCodeVariants(t *testing.T) {
	comp := sampleComposition()

	compressed, err := Encode(comp)
	require.NoError(t, err)
	plain, err := EncodeUncompressed(comp)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(compressed, "c"))
	assert.True(t, strings.HasPrefix(plain, "u"))
	assert.NotContains(t, compressed, "=")
	assert.NotContains(t, compressed, "+")
	assert.NotContains(t, compressed, "/")

	for name, code := range map[string]string{"compressed": compressed, "uncompressed": plain} {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(code)
			require.NoError(t, err)
			assertSameScore(t, comp, got)
		})
	}
}

func TestCompactNotesAreTuples(t *testing.T) {
	plain, err := EncodeUncompressed(sampleComposition())
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(plain[1:])
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "b")
	assert.Contains(t, doc, "ts")

	var notes [][]any
	require.NoError(t, json.Unmarshal(doc["n"], &notes))
	require.Len(t, notes, 3)
	assert.Equal(t, []any{"bass", "C2", 0.0, 1.0, 90.0}, notes[0])
}

func TestDecodeLegacyCode(t *testing.T) {
	comp := sampleComposition()
	data, err := json.Marshal(comp)
	require.NoError(t, err)

	got, err := Decode(base64.RawURLEncoding.EncodeToString(data))
	require.NoError(t, err)
	assertSameScore(t, comp, got)

	// legacy links were sometimes padded
	got, err = Decode(base64.URLEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Len(t, got.Notes, 3)
}

func TestDecodeLegacyAssignsMissingIDs(t *testing.T) {
	legacy := `{"tempo":120,"timeSignature":{"numerator":4,"denominator":4},"notes":[{"track":"piano","pitch":"C4","beat":0,"duration":1,"velocity":80},{"track":"piano","pitch":"E4","beat":1,"duration":1,"velocity":80}]}`
	got, err := Decode(base64.RawURLEncoding.EncodeToString([]byte(legacy)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Notes[0].ID)
	assert.Equal(t, int64(2), got.Notes[1].ID)
	assert.Contains(t, got.Tracks, "piano")
	assert.Equal(t, 2.0, got.TotalBeats)
}

func TestDecodeRepairsBadValues(t *testing.T) {
	raw := `{"b":999,"ts":[0,3],"n":[["drums","C2",0,0.25,100]]}`
	got, err := Decode("u" + base64.RawURLEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	assert.Equal(t, composition.DefaultTempo, got.Tempo)
	assert.Equal(t, composition.TimeSignature{Numerator: 4, Denominator: 4}, got.TimeSignature)
	require.Contains(t, got.Tracks, "drums")
}

func TestDecodeClampsHostileNotes(t *testing.T) {
	raw := `{"b":100,"n":[["lead","zz",-4,-2,900]]}`
	got, err := Decode("u" + base64.RawURLEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)

	n := got.Notes[0]
	assert.Equal(t, composition.DefaultPitch, n.Pitch)
	assert.Equal(t, 0.0, n.Beat)
	assert.Equal(t, composition.MinDuration, n.Duration)
	assert.Equal(t, composition.MaxVelocity, n.Velocity)
	assert.Equal(t, composition.MinDuration, got.TotalBeats)

	legacy := `{"tempo":120,"notes":[{"track":"piano","pitch":"C4","beat":1e12,"duration":500,"velocity":-3}]}`
	got, err = Decode(base64.RawURLEncoding.EncodeToString([]byte(legacy)))
	require.NoError(t, err)
	assert.Equal(t, composition.MaxBeat+composition.MaxDuration, got.TotalBeats)
	assert.Equal(t, 1, got.Notes[0].Velocity)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []string{
		"",
		"c!!!",
		"u" + base64.RawURLEncoding.EncodeToString([]byte("not json")),
		"c" + base64.RawURLEncoding.EncodeToString([]byte("not deflate")),
		"u" + base64.RawURLEncoding.EncodeToString([]byte(`{"n":[["a","C4",0]]}`)),
		"e%%%",
	}
	for _, code := range tests {
		_, err := Decode(code)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}

	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestRunRoundTrip(t *testing.T) {
	comp := sampleComposition()
	history := []runtime.ToolCallRecord{
		{ID: "1", Tool: "set_tempo", Arguments: map[string]any{"bpm": 96.0}, Source: runtime.SourceAgent, OK: true},
	}
	run := NewRun(comp, "a waltz", "gpt-4.1", runtime.Metrics{TotalCalls: 1, SuccessCalls: 1}, history)
	run.Replay = &Replay{Seed: 42, StartedAt: time.Unix(100, 0).UTC(), EndedAt: time.Unix(160, 0).UTC()}

	// the run owns its copy
	comp.Tempo = 60
	assert.Equal(t, 96.0, run.Composition.Tempo)

	data, err := MarshalRun(run)
	require.NoError(t, err)
	got, err := UnmarshalRun(data)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, RunVersion, got.Version)
	assert.Equal(t, "a waltz", got.Objective)
	assert.Equal(t, run.Metrics, got.Metrics)
	require.Len(t, got.History, 1)
	assert.Equal(t, "set_tempo", got.History[0].Tool)
	assert.Equal(t, run.Replay, got.Replay)
	assertSameScore(t, run.Composition, got.Composition)

	code, err := got.Code()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "c"))
}

func TestUnmarshalRunErrors(t *testing.T) {
	_, err := UnmarshalRun([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidRun)
	_, err = UnmarshalRun([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidRun)
	_, err = MarshalRun(nil)
	assert.ErrorIs(t, err, ErrInvalidRun)
}
