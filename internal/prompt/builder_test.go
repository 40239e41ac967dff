package prompt

import (
	"testing"

	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPromptBuilder(t *testing.T) {
	builder := NewPromptBuilder()
	require.NotNil(t, builder)
	require.NotNil(t, builder.loader)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := NewPromptBuilder().BuildSystemPrompt()

	tests := []struct {
		name     string
		contains string
	}{
		{"system prompt", "music composition assistant"},
		{"workflow", "WORKFLOW"},
		{"completion marker", CompletionMarker},
		{"bar threshold", "At least 8 bars"},
		{"in-key threshold", "80%"},
		{"heuristics", "ARRANGEMENT HEURISTICS"},
		{"key qualities", "Key Emotional Qualities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, prompt, tt.contains)
		})
	}
}

func TestBuildObjectiveMessage(t *testing.T) {
	b := NewPromptBuilder()

	msg := b.BuildObjectiveMessage("  a slow waltz  ", tools.Result{"noteCount": 0, "trackCount": 0})
	assert.Contains(t, msg, "OBJECTIVE:\na slow waltz")
	assert.NotContains(t, msg, "already has")

	msg = b.BuildObjectiveMessage("more drums", tools.Result{"noteCount": 12, "trackCount": 2})
	assert.Contains(t, msg, "already has 12 notes on 2 tracks")
}

func TestBuildNudgeMessage(t *testing.T) {
	assert.Contains(t, NewPromptBuilder().BuildNudgeMessage(), CompletionMarker)
}
