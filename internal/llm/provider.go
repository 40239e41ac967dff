package llm

import (
	"context"
)

// Provider defines the interface for LLM providers.
// All providers MUST support function calling: the agent loop only makes
// progress through tool calls.
type Provider interface {
	// Chat sends the conversation and tool catalog and returns one assistant turn
	Chat(ctx context.Context, request *ChatRequest) (*ChatResponse, error)

	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string
}

// Role of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-neutral conversation entry. Assistant messages
// may carry ToolCalls; tool messages answer exactly one call by ID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	IsError    bool       `json:"isError,omitempty"`
}

// ToolSpec advertises a callable tool. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage reports token consumption for one turn
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ChatRequest contains all parameters needed for one turn
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
}

// ChatResponse is the assistant's reply for one turn
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"toolCalls,omitempty"`
	Usage        Usage      `json:"usage"`
	FinishReason string     `json:"finishReason,omitempty"`
}

// AssistantMessage converts a response into the history entry that must
// precede the tool results answering it.
func (r *ChatResponse) AssistantMessage() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}
