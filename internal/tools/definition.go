package tools

import "context"

// Result is the JSON-serializable value a tool returns. A result carrying an
// "error" key is a soft failure the agent can read and react to.
type Result map[string]any

// Annotations are hints about a tool's behavior
type Annotations struct {
	Title    string `json:"title,omitempty"`
	ReadOnly bool   `json:"readOnlyHint,omitempty"`
}

// Executor runs a tool against coerced arguments. Returning an error is a
// hard failure.
type Executor func(ctx context.Context, args Args) (Result, error)

// Definition describes one operation in the catalog
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Annotations Annotations
	Execute     Executor
}

// SoftError builds a soft-failure result
func SoftError(msg string) Result {
	return Result{"error": msg}
}

// ErrorMessage returns the soft-failure message carried by the result, if any
func (r Result) ErrorMessage() (string, bool) {
	if r == nil {
		return "", false
	}
	msg, ok := r["error"].(string)
	return msg, ok && msg != ""
}
