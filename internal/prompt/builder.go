package prompt

import (
	"fmt"
	"strings"

	"github.com/Conceptual-Machines/magda-composer/internal/tools"
)

// CompletionMarker ends an agent run when sent without tool calls
const CompletionMarker = "COMPOSITION_COMPLETE"

// Builder builds prompts for the composer agent
type Builder struct {
	loader *Loader
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder() *Builder {
	return &Builder{loader: NewPromptLoader()}
}

// BuildSystemPrompt combines the embedded prompt sections with the
// verification thresholds the agent must reach.
func (b *Builder) BuildSystemPrompt() string {
	sections := []string{
		b.loader.GetSystemPrompt(),
		b.loader.GetWorkflowInstructions(),
		b.verificationSection(),
		b.loader.GetArrangementHeuristics(),
		"Key Emotional Qualities (CSV):\n" + b.loader.GetKeyEmotionalQualities(),
	}
	return strings.Join(sections, "\n\n")
}

func (b *Builder) verificationSection() string {
	return fmt.Sprintf(`VERIFICATION TARGETS
- At least %d bars (aim for %d or more).
- At least %d notes in total and at least %d notes on every track.
- At least %.0f%% of melodic notes in the detected key.`,
		tools.MinBars, tools.RecommendedBars, tools.MinTotalNotes, tools.MinNotesPerTrack, tools.MinInKeyPercentage)
}

// BuildObjectiveMessage is the first user message of a run
func (b *Builder) BuildObjectiveMessage(objective string, state tools.Result) string {
	var sb strings.Builder
	sb.WriteString("OBJECTIVE:\n")
	sb.WriteString(strings.TrimSpace(objective))
	if state != nil {
		if n, ok := state["noteCount"].(int); ok && n > 0 {
			fmt.Fprintf(&sb, "\n\nThe composition already has %d notes on %v tracks. Build on it.", n, state["trackCount"])
		}
	}
	sb.WriteString("\n\nStart composing now using the tools.")
	return sb.String()
}

// BuildNudgeMessage is sent when the model replies without tool calls or the marker
func (b *Builder) BuildNudgeMessage() string {
	return fmt.Sprintf("Keep going with tool calls. If verify_composition reports ready=true, reply with %s.", CompletionMarker)
}
