package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		input    int
		output   int
		expected float64
	}{
		{"exact model", "gpt-4o-mini", 1000, 1000, 0.00075},
		{"dated snapshot uses family", "gpt-4o-2024-08-06", 1000, 0, 0.0025},
		{"longest prefix wins", "gpt-4o-mini-2024-07-18", 2000, 0, 0.0003},
		{"gemini", "gemini-2.5-flash", 0, 1000, 0.0025},
		{"unknown model", "mystery", 1000, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateCost(tt.model, tt.input, tt.output), 1e-12)
		})
	}
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.000750", FormatCost(0.00075))
}

func TestDisabledLangfuseIsNoop(t *testing.T) {
	lf := NewLangfuse(context.Background(), false, "", "")
	assert.False(t, lf.IsEnabled())

	trace := lf.StartTrace(context.Background(), "agent-run", nil)
	assert.Empty(t, trace.ID())

	gen := trace.Generation("turn-1", nil)
	gen.Input("x")
	gen.Usage("gpt-4o-mini", 1, 2, 3)
	gen.Metadata(map[string]interface{}{"k": "v"})
	gen.Finish()
	trace.Event("tool", nil, nil, "DEFAULT")
	trace.Finish()

	var nilClient *Langfuse
	assert.False(t, nilClient.IsEnabled())
}
