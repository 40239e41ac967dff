package observability

import (
	"context"
	"log"
	"time"

	langfuse "github.com/henomis/langfuse-go"
	"github.com/henomis/langfuse-go/model"
)

// Langfuse wraps the Langfuse client with our configuration
type Langfuse struct {
	client  *langfuse.Langfuse
	enabled bool
	ctx     context.Context
}

// NewLangfuse creates a client. The SDK reads LANGFUSE_HOST,
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY from the environment.
func NewLangfuse(ctx context.Context, enabled bool, secretKey, host string) *Langfuse {
	if !enabled || secretKey == "" {
		log.Println("⚠️  Langfuse not configured (LANGFUSE_ENABLED=false or LANGFUSE_SECRET_KEY not set)")
		return &Langfuse{enabled: false, ctx: ctx}
	}

	lf := langfuse.New(ctx)
	log.Printf("✅ Langfuse initialized (host: %s)", host)
	return &Langfuse{
		client:  lf,
		enabled: true,
		ctx:     ctx,
	}
}

// IsEnabled returns whether Langfuse is enabled
func (c *Langfuse) IsEnabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// StartTrace starts a new trace in Langfuse
func (c *Langfuse) StartTrace(ctx context.Context, name string, metadata map[string]interface{}) *Trace {
	if !c.IsEnabled() {
		return &Trace{enabled: false, ctx: ctx}
	}

	trace, err := c.client.Trace(&model.Trace{
		Name:     name,
		Metadata: metadata,
	})
	if err != nil {
		log.Printf("⚠️  Failed to create Langfuse trace: %v", err)
		return &Trace{enabled: false, ctx: ctx}
	}

	return &Trace{
		trace:   trace,
		enabled: true,
		ctx:     ctx,
		client:  c.client,
	}
}

// Trace represents a Langfuse trace
type Trace struct {
	trace   *model.Trace
	enabled bool
	ctx     context.Context
	client  *langfuse.Langfuse
}

// ID returns the trace id, empty when tracing is disabled
func (t *Trace) ID() string {
	if !t.enabled || t.trace == nil {
		return ""
	}
	return t.trace.ID
}

// Generation creates a new generation span within the trace
func (t *Trace) Generation(name string, metadata map[string]interface{}) *Generation {
	if !t.enabled {
		return &Generation{enabled: false, ctx: t.ctx}
	}

	now := time.Now()
	gen, err := t.client.Generation(&model.Generation{
		TraceID:   t.trace.ID,
		Name:      name,
		StartTime: &now,
		Metadata:  metadata,
	}, nil)
	if err != nil {
		log.Printf("⚠️  Failed to create Langfuse generation: %v", err)
		return &Generation{enabled: false, ctx: t.ctx}
	}

	return &Generation{
		generation: gen,
		enabled:    true,
		ctx:        t.ctx,
		client:     t.client,
	}
}

// Event records a point-in-time observation, used for tool calls
func (t *Trace) Event(name string, input, output interface{}, level string) {
	if !t.enabled {
		return
	}

	now := time.Now()
	_, err := t.client.Event(&model.Event{
		TraceID:   t.trace.ID,
		Name:      name,
		StartTime: &now,
		Input:     input,
		Output:    output,
		Level:     model.ObservationLevel(level),
	}, nil)
	if err != nil {
		log.Printf("⚠️  Failed to create Langfuse event: %v", err)
	}
}

// Finish completes the trace and flushes data to Langfuse
func (t *Trace) Finish() {
	if t.enabled && t.client != nil {
		// Flush waits for all queued events to be sent
		t.client.Flush(t.ctx)
	}
}

// Generation represents a Langfuse generation span
type Generation struct {
	generation *model.Generation
	enabled    bool
	ctx        context.Context
	client     *langfuse.Langfuse
}

// Input sets the input for the generation
func (g *Generation) Input(input interface{}) {
	if g.enabled && g.generation != nil {
		g.generation.Input = input
	}
}

// Output sets the output for the generation
func (g *Generation) Output(output interface{}) {
	if g.enabled && g.generation != nil {
		g.generation.Output = output
	}
}

// Usage sets token usage and cost for the generation
func (g *Generation) Usage(modelName string, inputTokens, outputTokens, totalTokens int) {
	if g.enabled && g.generation != nil {
		g.generation.Model = modelName
		g.generation.Usage = model.Usage{
			Input:     inputTokens,
			Output:    outputTokens,
			Total:     totalTokens,
			Unit:      model.ModelUsageUnitTokens,
			TotalCost: CalculateCost(modelName, inputTokens, outputTokens),
		}
	}
}

// Metadata adds metadata to the generation
func (g *Generation) Metadata(metadata map[string]interface{}) {
	if g.enabled && g.generation != nil {
		if g.generation.Metadata == nil {
			g.generation.Metadata = make(map[string]interface{})
		}
		if md, ok := g.generation.Metadata.(map[string]interface{}); ok {
			for k, v := range metadata {
				md[k] = v
			}
		} else {
			g.generation.Metadata = metadata
		}
	}
}

// SetLevel sets the level of the generation
func (g *Generation) SetLevel(level string) {
	if g.enabled && g.generation != nil {
		g.generation.Level = model.ObservationLevel(level)
	}
}

// Finish completes the generation and sends it to Langfuse
func (g *Generation) Finish() {
	if g.enabled && g.generation != nil && g.client != nil {
		now := time.Now()
		g.generation.EndTime = &now
		if _, err := g.client.GenerationEnd(g.generation); err != nil {
			log.Printf("⚠️  Failed to end Langfuse generation: %v", err)
		}
	}
}
