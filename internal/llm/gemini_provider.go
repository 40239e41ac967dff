package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	providerNameGemini = "gemini"
	geminiUserRole     = "user"
	geminiModelRole    = "model"
)

// GeminiProvider implements the Provider interface using Google's Gemini API
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return providerNameGemini
}

// Chat runs one function-calling turn against Gemini
func (p *GeminiProvider) Chat(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	// Start Sentry transaction
	transaction := sentry.StartTransaction(ctx, "gemini.chat")
	defer transaction.Finish()

	transaction.SetTag("model", request.Model)
	transaction.SetTag("provider", providerNameGemini)

	contents := p.buildGeminiContents(request.Messages)
	config := p.buildConfig(request)

	span := transaction.StartChild("gemini.api_call")
	result, err := p.client.Models.GenerateContent(ctx, request.Model, contents, config)
	apiDuration := time.Since(startTime)
	span.Finish()

	if err != nil {
		log.Printf("❌ GEMINI REQUEST FAILED after %v: %v", apiDuration, err)
		transaction.SetTag("success", "false")
		sentry.CaptureException(err)
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	response, err := p.processGeminiResponse(result)
	if err != nil {
		transaction.SetTag("success", "false")
		return nil, err
	}

	transaction.SetTag("success", "true")
	log.Printf("⏱️  GEMINI TURN COMPLETED in %v (tool calls: %d, tokens: %d)",
		apiDuration, len(response.ToolCalls), response.Usage.TotalTokens)
	return response, nil
}

func (p *GeminiProvider) buildConfig(request *ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}

	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, t := range request.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			// Gemini rejects object schemas without properties
			if props, ok := t.Parameters["properties"].(map[string]any); ok && len(props) > 0 {
				decl.Parameters = convertSchemaToGemini(t.Parameters)
			}
			decls = append(decls, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// buildGeminiContents converts the conversation to Gemini Content format.
// Gemini has no system or tool roles: system text goes as user and tool
// results go as user function responses.
func (p *GeminiProvider) buildGeminiContents(messages []Message) []*genai.Content {
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: geminiModelRole, Parts: parts})

		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: geminiUserRole,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.ToolName,
					Response: toolResponsePayload(m),
				}}},
			})

		default:
			if m.Content == "" {
				log.Printf("⚠️  Skipping empty %s message", m.Role)
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  geminiUserRole,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	return contents
}

// toolResponsePayload wraps a tool result the way Gemini expects:
// "output" for success and "error" for failures.
func toolResponsePayload(m Message) map[string]any {
	var decoded any
	if err := json.Unmarshal([]byte(m.Content), &decoded); err != nil {
		decoded = m.Content
	}
	if m.IsError {
		return map[string]any{"error": decoded}
	}
	return map[string]any{"output": decoded}
}

// processGeminiResponse converts a Gemini response to a ChatResponse
func (p *GeminiProvider) processGeminiResponse(result *genai.GenerateContentResponse) (*ChatResponse, error) {
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in Gemini response")
	}

	candidate := result.Candidates[0]
	response := &ChatResponse{FinishReason: string(candidate.FinishReason)}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				response.Content += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.New().String()
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				response.ToolCalls = append(response.ToolCalls, ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}
	}

	if result.UsageMetadata != nil {
		response.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(result.UsageMetadata.TotalTokenCount),
		}
	}

	return response, nil
}

// convertSchemaToGemini converts a JSON Schema map into genai.Schema
func convertSchemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}
	switch schema["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	}

	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = enum
	case []any:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if v, ok := toFloat(schema["minimum"]); ok {
		out.Minimum = &v
	}
	if v, ok := toFloat(schema["maximum"]); ok {
		out.Maximum = &v
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = convertSchemaToGemini(items)
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = convertSchemaToGemini(prop)
			}
		}
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}

	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
