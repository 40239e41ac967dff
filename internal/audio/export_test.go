package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const wavHeaderSize = 44

func TestWAVRoundTripDownmixes(t *testing.T) {
	b := &Buffer{SampleRate: 22050, Samples: []float32{0.5, 0.5, -1, 0, 0.25, -0.25, 2, 2}}
	var out bytes.Buffer
	require.NoError(t, WriteWAV(&out, b))
	assert.Equal(t, wavHeaderSize+len(b.Samples)*2, out.Len())
	raw := out.Bytes()
	assert.Equal(t, "RIFF", string(raw[:4]))
	assert.Equal(t, uint32(len(raw)-8), binary.LittleEndian.Uint32(raw[4:8]), "chunk sizes are patched")

	mono, rate, err := ReadWAV(&out)
	require.NoError(t, err)
	assert.Equal(t, 22050, rate)
	assert.InDeltaSlice(t, []float64{0.5, -0.5, 0, 1}, mono, 1e-3)
}

func TestWriteWAVToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	b := &Buffer{SampleRate: 8000, Samples: []float32{0.5, -0.5, 0.25, 0.25}}
	require.NoError(t, WriteWAV(f, b))
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	mono, rate, err := ReadWAV(f)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.InDeltaSlice(t, []float64{0, 0.25}, mono, 1e-3)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, _, err := ReadWAV(bytes.NewReader([]byte("not a riff file")))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)

	var out bytes.Buffer
	require.NoError(t, WriteWAV(&out, &Buffer{SampleRate: 8000, Samples: []float32{0, 0}}))
	raw := out.Bytes()
	raw[34] = 24 // bits per sample
	_, _, err = ReadWAV(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestBufferStats(t *testing.T) {
	b := &Buffer{SampleRate: 4, Samples: []float32{0.1, -0.7, 0.2, 0.3}}
	assert.Equal(t, 2, b.Frames())
	assert.Equal(t, 0.5, b.Duration())
	assert.InDelta(t, 0.7, b.Peak(), 1e-6)
	assert.Equal(t, 0.0, (&Buffer{}).Duration())
}

func TestExportMIDI(t *testing.T) {
	comp := composition.New()
	comp.Tempo = 90
	comp.TimeSignature = composition.TimeSignature{Numerator: 3, Denominator: 4}
	comp.EnsureTrack("melody", composition.FamilyFlute)
	comp.EnsureTrack("drums", composition.FamilyDrums)
	comp.AddNote(composition.Note{Track: "melody", Pitch: "C4", Beat: 0, Duration: 1, Velocity: 100})
	comp.AddNote(composition.Note{Track: "melody", Pitch: "C4", Beat: 1, Duration: 1, Velocity: 100})
	comp.AddNote(composition.Note{Track: "melody", Pitch: "E4", Beat: 2, Duration: 0.5, Velocity: 0})
	comp.AddNote(composition.Note{Track: "drums", Pitch: "C2", Beat: 0, Duration: 0.25, Velocity: 110})

	var out bytes.Buffer
	require.NoError(t, ExportMIDI(&out, comp))

	s, err := smf.ReadFrom(&out)
	require.NoError(t, err)
	require.Len(t, s.Tracks, 3)

	var bpm float64
	for _, ev := range s.Tracks[0] {
		if ev.Message.GetMetaTempo(&bpm) {
			break
		}
	}
	assert.InDelta(t, 90, bpm, 0.01)

	type hit struct {
		ch, key uint8
		tick    uint32
	}
	collect := func(tr smf.Track) []hit {
		var hits []hit
		var tick uint32
		for _, ev := range tr {
			tick += ev.Delta
			var ch, key, vel uint8
			if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
				hits = append(hits, hit{ch: ch, key: key, tick: tick})
			}
		}
		return hits
	}

	// tracks follow name order: drums, melody
	drums := collect(s.Tracks[1])
	require.Len(t, drums, 1)
	assert.Equal(t, hit{ch: drumChannel, key: 36, tick: 0}, drums[0])

	melody := collect(s.Tracks[2])
	require.Len(t, melody, 3, "a zero velocity note is clamped so it still starts")
	assert.Equal(t, uint32(midiTicksPerQuarter), melody[1].tick)
	assert.Equal(t, uint8(64), melody[2].key)
	assert.NotEqual(t, uint8(drumChannel), melody[0].ch)
}

func TestBeatsToTicks(t *testing.T) {
	assert.Equal(t, uint32(0), beatsToTicks(-1))
	assert.Equal(t, uint32(480), beatsToTicks(0.5))
	assert.Equal(t, uint32(3840), beatsToTicks(4))
}

func writeSample(t *testing.T, path string, rate int, frames int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	b := &Buffer{SampleRate: rate, Samples: make([]float32, frames*2)}
	for i := range b.Samples {
		b.Samples[i] = 0.5
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, WriteWAV(f, b))
}

func TestSampleBankLoad(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, filepath.Join(dir, "piano.wav"), 8000, 800)
	writeSample(t, filepath.Join(dir, "strings", "warm.wav"), 8000, 800)
	bank := NewSampleBank(dir, 8000)
	ctx := context.Background()

	inst, err := bank.Load(ctx, composition.FamilyPiano, "")
	require.NoError(t, err)
	again, err := bank.Load(ctx, composition.FamilyPiano, "")
	require.NoError(t, err)
	assert.Same(t, inst, again)

	_, err = bank.Load(ctx, composition.FamilyStrings, "Warm")
	assert.NoError(t, err)

	_, err = bank.Load(ctx, composition.FamilyOrgan, "")
	assert.ErrorIs(t, err, ErrInstrumentUnavailable)

	_, err = bank.Load(ctx, composition.FamilyDrums, "")
	assert.ErrorIs(t, err, ErrInstrumentUnavailable)

	_, err = (*SampleBank)(nil).Load(ctx, composition.FamilyPiano, "")
	assert.ErrorIs(t, err, ErrInstrumentUnavailable)
}

func TestSampleVoicePitchAndRelease(t *testing.T) {
	inst := &sampleInstrument{data: make([]float64, 1000), rate: 1, outRate: 1000}
	for i := range inst.data {
		inst.data[i] = 1
	}

	octaveUp := inst.Play(72, PlayOptions{Gain: 1, Duration: 10, Release: 0.01}).(*sampleVoice)
	assert.InDelta(t, 2.0, octaveUp.step, 1e-9)

	v := inst.Play(60, PlayOptions{Gain: 1, Duration: 0.1, Release: 0.05})
	buf := make([]float64, 1000)
	assert.False(t, v.Render(buf))
	assert.Greater(t, buf[50], 0.9)
	assert.Equal(t, 0.0, buf[400], "silent after gate and release")
}

func TestNewOutput(t *testing.T) {
	out, err := NewOutput(context.Background(), OutputNone, 44100)
	require.NoError(t, err)
	assert.NoError(t, out.Write(make([]float32, 8)))
	assert.NoError(t, out.Close())

	_, err = NewOutput(context.Background(), "speaker", 44100)
	assert.Error(t, err)
}

type countingOutput struct {
	writes chan int
}

func (c *countingOutput) Write(s []float32) error {
	select {
	case c.writes <- len(s):
	default:
	}
	return nil
}

func (c *countingOutput) Close() error { return nil }

func TestDriverAdvancesEngineClock(t *testing.T) {
	e := NewEngine(engineRate)
	out := &countingOutput{writes: make(chan int, 1)}
	d := NewDriver(e, out)
	d.Start()
	d.Start()

	n := <-out.writes
	assert.Equal(t, driverBlockFrames*2, n)
	require.NoError(t, d.Close())
	assert.Greater(t, e.Now(), 0.0)
}
