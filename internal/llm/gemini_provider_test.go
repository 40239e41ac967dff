package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiProvider_Name(t *testing.T) {
	// We can't create a real client without an API key
	// So just test the name method with a nil client
	provider := &GeminiProvider{client: nil}
	assert.Equal(t, "gemini", provider.Name())
}

func TestGeminiProvider_BuildContents(t *testing.T) {
	provider := &GeminiProvider{client: nil}

	contents := provider.buildGeminiContents([]Message{
		{Role: RoleUser, Content: "make a waltz"},
		{Role: RoleUser, Content: ""},
		{Role: RoleAssistant, Content: "ok", ToolCalls: []ToolCall{
			{ID: "c1", Name: "set_time_signature", Arguments: map[string]any{"numerator": 3.0}},
		}},
		{Role: RoleTool, ToolCallID: "c1", ToolName: "set_time_signature", Content: `{"numerator":3}`},
		{Role: RoleTool, ToolCallID: "c2", ToolName: "add_note", Content: "boom", IsError: true},
	})

	require.Len(t, contents, 4, "empty messages are skipped")
	assert.Equal(t, "user", contents[0].Role)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "set_time_signature", contents[1].Parts[1].FunctionCall.Name)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "c1", resp.ID)
	assert.Equal(t, map[string]any{"output": map[string]any{"numerator": 3.0}}, resp.Response)

	assert.Equal(t, map[string]any{"error": "boom"}, contents[3].Parts[0].FunctionResponse.Response)
}

func TestGeminiProvider_ProcessResponse(t *testing.T) {
	provider := &GeminiProvider{client: nil}

	resp, err := provider.processGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Setting tempo. "},
				{FunctionCall: &genai.FunctionCall{Name: "set_tempo", Args: map[string]any{"bpm": 90.0}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Setting tempo. ", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Contains(t, resp.ToolCalls[0].ID, "call_", "missing ids are generated")
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)

	_, err = provider.processGeminiResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestConvertSchemaToGemini(t *testing.T) {
	lo, hi := 40.0, 200.0
	schema := convertSchemaToGemini(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"bpm":  map[string]any{"type": "number", "minimum": lo, "maximum": hi},
			"mode": map[string]any{"type": "string", "enum": []string{"a", "b"}},
			"notes": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"bpm"},
	})

	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"bpm"}, schema.Required)
	assert.Equal(t, genai.TypeNumber, schema.Properties["bpm"].Type)
	assert.Equal(t, &lo, schema.Properties["bpm"].Minimum)
	assert.Equal(t, &hi, schema.Properties["bpm"].Maximum)
	assert.Equal(t, []string{"a", "b"}, schema.Properties["mode"].Enum)
	assert.Equal(t, genai.TypeString, schema.Properties["notes"].Items.Type)
}
