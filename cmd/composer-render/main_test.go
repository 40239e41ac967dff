package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testComposition() *composition.Composition {
	c := composition.New()
	c.Tempo = 140
	c.AddNote(composition.Note{Track: "piano", Pitch: "C4", Beat: 0, Duration: 1, Velocity: 90})
	c.AddNote(composition.Note{Track: "piano", Pitch: "G4", Beat: 1, Duration: 1, Velocity: 90})
	return c
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		out, format string
		want        string
		wantErr     bool
	}{
		{out: "song.wav", want: formatWAV},
		{out: "song.mid", want: formatMIDI},
		{out: "song.MIDI", want: formatMIDI},
		{out: "song", want: formatWAV},
		{out: "song.wav", format: "mid", want: formatMIDI},
		{out: "song.wav", format: "mp3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.out+"/"+tt.format, func(t *testing.T) {
			got, err := outputFormat(renderOptions{out: tt.out, format: tt.format})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadSource(t *testing.T) {
	ctx := context.Background()
	comp := testComposition()

	run := share.NewRun(comp, "test", "gpt-4.1-mini", runtime.Metrics{}, nil)
	data, err := share.MarshalRun(run)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := loadSource(ctx, path, false)
	require.NoError(t, err)
	assert.Len(t, got.Notes, 2)
	assert.Equal(t, 140.0, got.Tempo)

	code, err := share.Encode(comp)
	require.NoError(t, err)
	got, err = loadSource(ctx, code+"\n", false)
	require.NoError(t, err)
	assert.Len(t, got.Notes, 2)

	_, err = loadSource(ctx, "not-a-file-or-code", false)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version":1}`), 0o644))
	_, err = loadSource(ctx, bad, false)
	assert.Error(t, err)
}

func TestRenderCommand(t *testing.T) {
	code, err := share.Encode(testComposition())
	require.NoError(t, err)
	dir := t.TempDir()

	tests := []struct {
		name   string
		args   []string
		prefix string
	}{
		{name: "wav", args: []string{code, "-o", filepath.Join(dir, "out.wav"), "--sample-rate", "8000", "--tail", "0.5"}, prefix: "RIFF"},
		{name: "midi", args: []string{code, "-o", filepath.Join(dir, "out.mid")}, prefix: "MThd"},
		{name: "quiet wav", args: []string{code, "-q", "-o", filepath.Join(dir, "quiet.wav"), "--sample-rate", "8000"}, prefix: "RIFF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetErr(&stderr)
			require.NoError(t, cmd.ExecuteContext(context.Background()))

			out := tt.args[len(tt.args)-1]
			for i, a := range tt.args {
				if a == "-o" {
					out = tt.args[i+1]
				}
			}
			data, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(data, []byte(tt.prefix)))
			assert.Contains(t, stderr.String(), "2 notes")
		})
	}
}

func TestRenderCommandErrors(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()), "a source is required")

	code, err := share.Encode(testComposition())
	require.NoError(t, err)
	cmd = newRootCmd()
	cmd.SetArgs([]string{code, "-q", "--max-seconds", "1", "-o", filepath.Join(t.TempDir(), "long.wav")})
	cmd.SetErr(&bytes.Buffer{})
	err = cmd.ExecuteContext(context.Background())
	require.ErrorIs(t, err, audio.ErrRenderTooLong)
	assert.Contains(t, err.Error(), "--max-seconds")

	empty, err := share.Encode(composition.New())
	require.NoError(t, err)
	cmd = newRootCmd()
	cmd.SetArgs([]string{empty, "-o", filepath.Join(t.TempDir(), "empty.wav")})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()), "nothing to render")
}
