package logger

import (
	"bytes"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name     string
		fields   Fields
		expected string
	}{
		{"empty", nil, ""},
		{"sorted keys", Fields{"b": 2, "a": "x"}, "{a=x, b=2}"},
		{"floats", Fields{"bpm": 120.5}, "{bpm=120.50}"},
		{"other types", Fields{"ok": true}, "{ok=true}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatFields(tt.fields))
		})
	}
}

func TestFieldsWith(t *testing.T) {
	base := Fields{"a": 1}
	ext := base.With(Fields{"b": 2})
	assert.Equal(t, Fields{"a": 1, "b": 2}, ext)
	assert.Equal(t, Fields{"a": 1}, base, "base is not modified")
}

func TestLevelsWritePrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	flags := log.Flags()
	log.SetFlags(0)
	defer log.SetFlags(flags)

	Info("hello", Fields{"k": "v"})
	Warn("careful", nil)
	Debug("details", nil)
	Error("broken", errors.New("boom"), Fields{"tool": "add_note"})

	out := buf.String()
	assert.Contains(t, out, "[INFO] hello {k=v}")
	assert.Contains(t, out, "[WARN] careful")
	assert.Contains(t, out, "[DEBUG] details")
	assert.Contains(t, out, "[ERROR] broken: boom {tool=add_note}")
}
