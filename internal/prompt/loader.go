package prompt

import (
	"strings"

	"github.com/Conceptual-Machines/magda-composer/pkg/embedded"
)

type Loader struct{}

func NewPromptLoader() *Loader {
	return &Loader{}
}

// GetSystemPrompt loads the main system prompt
func (l *Loader) GetSystemPrompt() string {
	return strings.TrimSpace(string(embedded.SystemPromptTxt))
}

// GetWorkflowInstructions loads the step-by-step composing workflow
func (l *Loader) GetWorkflowInstructions() string {
	return strings.TrimSpace(string(embedded.WorkflowInstructionsTxt))
}

// GetArrangementHeuristics loads arrangement and mixing rules of thumb
func (l *Loader) GetArrangementHeuristics() string {
	return strings.TrimSpace(string(embedded.ArrangementHeuristicsTxt))
}

// GetKeyEmotionalQualities loads key emotional qualities CSV
func (l *Loader) GetKeyEmotionalQualities() string {
	return strings.TrimSpace(string(embedded.KeyEmotionalQualitiesCsv))
}
