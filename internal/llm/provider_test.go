package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockProvider is a test implementation of the Provider interface
type MockProvider struct {
	name     string
	chatFunc func(ctx context.Context, request *ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Chat(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, request)
	}
	return &ChatResponse{}, nil
}

func TestProviderInterface(t *testing.T) {
	var p Provider = &MockProvider{name: "mock"}
	assert.Equal(t, "mock", p.Name())

	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
}

func TestAssistantMessage(t *testing.T) {
	resp := &ChatResponse{
		Content:   "adding bass",
		ToolCalls: []ToolCall{{ID: "1", Name: "add_note", Arguments: map[string]any{"track": "bass"}}},
	}
	msg := resp.AssistantMessage()
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "adding bass", msg.Content)
	assert.Equal(t, resp.ToolCalls, msg.ToolCalls)
}

func TestProviderFactory(t *testing.T) {
	tests := []struct {
		name      string
		openaiKey string
		geminiKey string
		model     string
		provider  string
		want      string
		wantErr   bool
	}{
		{"gpt model", "k", "", "gpt-4o-mini", "", "openai", false},
		{"explicit openai", "k", "", "", "openai", "openai", false},
		{"unknown provider", "k", "", "", "claude", "", true},
		{"missing openai key", "", "", "gpt-4o", "", "", true},
		{"missing gemini key", "k", "", "gemini-2.5-flash", "", "", true},
		{"unknown model defaults to openai", "k", "", "mystery", "", "openai", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewProviderFactory(tt.openaiKey, tt.geminiKey)
			p, err := f.GetProvider(context.Background(), tt.model, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, DefaultGeminiModel, DefaultModel("Gemini"))
	assert.Equal(t, DefaultOpenAIModel, DefaultModel("openai"))
	assert.Equal(t, DefaultOpenAIModel, DefaultModel(""))
}
