package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/llm"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/observability"
	"github.com/Conceptual-Machines/magda-composer/internal/prompt"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
)

const (
	DefaultMaxTurns  = 40
	DefaultCallDelay = 120 * time.Millisecond
)

var ErrAlreadyRunning = errors.New("agent run already in progress")

// State of the agent run lifecycle
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Invoker is the slice of the tool runtime the loop drives
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any, source runtime.Source) runtime.Envelope
	Tools() []runtime.ToolInfo
	SetRunActive(active bool)
	SetScene(label string)
}

// Recorder receives per-turn and per-run measurements
type Recorder interface {
	RecordAgentTurn(ctx context.Context, model string, inputTokens, outputTokens, totalTokens int, duration time.Duration)
	RecordAgentRun(state string, turns int, duration time.Duration)
}

// ProviderResolver picks a provider for a run's model or provider override
type ProviderResolver func(ctx context.Context, model, provider string) (llm.Provider, error)

// StateFunc reports the current composition for the opening message
type StateFunc func(ctx context.Context) tools.Result

// Config bounds a run
type Config struct {
	Model     string
	MaxTurns  int
	CallDelay time.Duration
}

// RunRequest starts a run
type RunRequest struct {
	Objective string `json:"objective" binding:"required"`
	Model     string `json:"model,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// Status is the observable state of the current or last run
type Status struct {
	State      State      `json:"state"`
	RunID      uint64     `json:"runId"`
	Objective  string     `json:"objective,omitempty"`
	Model      string     `json:"model,omitempty"`
	Turn       int        `json:"turn"`
	MaxTurns   int        `json:"maxTurns"`
	ToolCalls  int        `json:"toolCalls"`
	Message    string     `json:"message,omitempty"`
	Usage      llm.Usage  `json:"usage"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Agent drives an LLM through the tool runtime until it signals completion,
// is stopped, or hits the turn cap.
type Agent struct {
	mu       sync.Mutex
	invoker  Invoker
	provider llm.Provider
	resolve  ProviderResolver
	prompts  *prompt.Builder
	cfg      Config
	recorder Recorder
	langfuse *observability.Langfuse
	state    StateFunc
	now      func() time.Time

	runID     atomic.Uint64
	status    Status
	cancel    context.CancelFunc
	done      chan struct{}
	listeners map[int]func(Status)
	nextSub   int
}

// Option configures an Agent
type Option func(*Agent)

// WithRecorder attaches a metrics sink
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithLangfuse traces every run
func WithLangfuse(lf *observability.Langfuse) Option {
	return func(a *Agent) { a.langfuse = lf }
}

// WithProviderResolver allows per-run model and provider overrides
func WithProviderResolver(fn ProviderResolver) Option {
	return func(a *Agent) { a.resolve = fn }
}

// WithStateFunc supplies the composition summary for the opening message
func WithStateFunc(fn StateFunc) Option {
	return func(a *Agent) { a.state = fn }
}

// New creates an idle agent
func New(invoker Invoker, provider llm.Provider, cfg Config, opts ...Option) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.CallDelay < 0 {
		cfg.CallDelay = 0
	}
	a := &Agent{
		invoker:   invoker,
		provider:  provider,
		prompts:   prompt.NewPromptBuilder(),
		cfg:       cfg,
		now:       time.Now,
		status:    Status{State: StateIdle, MaxTurns: cfg.MaxTurns},
		listeners: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status returns the current run status
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Subscribe registers fn for status changes; the returned func unsubscribes
func (a *Agent) Subscribe(fn func(Status)) func() {
	a.mu.Lock()
	a.nextSub++
	id := a.nextSub
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Start launches a run in the background. Any non-running state may start
// a new run.
func (a *Agent) Start(ctx context.Context, req RunRequest) (uint64, error) {
	objective := strings.TrimSpace(req.Objective)
	if objective == "" {
		return 0, fmt.Errorf("objective is required")
	}

	a.mu.Lock()
	if a.status.State == StateRunning {
		a.mu.Unlock()
		return 0, ErrAlreadyRunning
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	provider := a.provider
	if (req.Model != "" || req.Provider != "") && a.resolve != nil {
		p, err := a.resolve(ctx, model, req.Provider)
		if err != nil {
			a.mu.Unlock()
			return 0, fmt.Errorf("failed to resolve provider: %w", err)
		}
		provider = p
	}
	if provider == nil {
		a.mu.Unlock()
		return 0, fmt.Errorf("no LLM provider configured")
	}

	id := a.runID.Add(1)
	runCtx, cancel := context.WithCancel(context.Background())
	started := a.now()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.status = Status{
		State:     StateRunning,
		RunID:     id,
		Objective: objective,
		Model:     model,
		MaxTurns:  a.cfg.MaxTurns,
		StartedAt: &started,
	}
	done := a.done
	a.mu.Unlock()

	a.invoker.SetRunActive(true)
	a.invoker.SetScene(objective)
	a.notify()

	logger.Info("Agent run started", logger.Fields{
		"run_id":   id,
		"model":    model,
		"provider": provider.Name(),
	})

	go a.run(runCtx, id, provider, model, objective, done)
	return id, nil
}

// Stop cancels the current run. It is safe to call in any state.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.status.State != StateRunning {
		a.mu.Unlock()
		return
	}
	// Invalidate the in-flight loop before it can resume
	a.runID.Add(1)
	if a.cancel != nil {
		a.cancel()
	}
	finished := a.now()
	a.status.State = StateStopped
	a.status.Message = "stopped by request"
	a.status.FinishedAt = &finished
	status := a.status
	a.mu.Unlock()

	a.invoker.SetRunActive(false)
	a.notify()
	a.recordRun(status)
	logger.Info("Agent run stopped", logger.Fields{"run_id": status.RunID})
}

// Wait blocks until the current run's loop exits or ctx ends
func (a *Agent) Wait(ctx context.Context) Status {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return a.Status()
}

func (a *Agent) current(id uint64) bool {
	return a.runID.Load() == id
}

func (a *Agent) update(id uint64, fn func(*Status)) {
	a.mu.Lock()
	if !a.current(id) {
		a.mu.Unlock()
		return
	}
	fn(&a.status)
	a.mu.Unlock()
	a.notify()
}

func (a *Agent) finish(id uint64, state State, msg string) {
	a.mu.Lock()
	if !a.current(id) {
		a.mu.Unlock()
		return
	}
	finished := a.now()
	a.status.State = state
	a.status.Message = msg
	a.status.FinishedAt = &finished
	if a.cancel != nil {
		a.cancel()
	}
	status := a.status
	a.mu.Unlock()

	a.invoker.SetRunActive(false)
	a.notify()
	a.recordRun(status)

	fields := logger.Fields{"run_id": id, "state": string(state), "turns": status.Turn, "tool_calls": status.ToolCalls}
	if state == StateError {
		logger.Error("Agent run failed", errors.New(msg), fields)
	} else {
		logger.Info("Agent run finished", fields)
	}
}

func (a *Agent) recordRun(s Status) {
	if a.recorder == nil || s.StartedAt == nil || s.FinishedAt == nil {
		return
	}
	a.recorder.RecordAgentRun(string(s.State), s.Turn, s.FinishedAt.Sub(*s.StartedAt))
}

func (a *Agent) notify() {
	a.mu.Lock()
	status := a.status
	subs := make([]func(Status), 0, len(a.listeners))
	for _, fn := range a.listeners {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

func (a *Agent) run(ctx context.Context, id uint64, provider llm.Provider, model, objective string, done chan struct{}) {
	defer close(done)

	var state tools.Result
	if a.state != nil {
		state = a.state(ctx)
	}
	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Content: a.prompts.BuildObjectiveMessage(objective, state),
	}}
	specs := toolSpecs(a.invoker.Tools())
	systemPrompt := a.prompts.BuildSystemPrompt()

	trace := a.langfuse.StartTrace(ctx, "composer-run", map[string]interface{}{
		"run_id":    id,
		"model":     model,
		"objective": objective,
	})
	defer trace.Finish()

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		if !a.current(id) {
			return
		}
		a.update(id, func(s *Status) { s.Turn = turn })

		gen := trace.Generation(fmt.Sprintf("turn-%d", turn), map[string]interface{}{"turn": turn})
		gen.Input(messages[len(messages)-1])

		turnStart := a.now()
		resp, err := provider.Chat(ctx, &llm.ChatRequest{
			Model:        model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        specs,
		})
		if !a.current(id) {
			gen.Finish()
			return
		}
		if err != nil {
			gen.SetLevel("ERROR")
			gen.Output(err.Error())
			gen.Finish()
			a.finish(id, StateError, fmt.Sprintf("LLM request failed: %v", err))
			return
		}

		gen.Output(resp)
		gen.Usage(model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens)
		gen.Finish()
		if a.recorder != nil {
			a.recorder.RecordAgentTurn(ctx, model, resp.Usage.InputTokens, resp.Usage.OutputTokens,
				resp.Usage.TotalTokens, a.now().Sub(turnStart))
		}
		a.update(id, func(s *Status) {
			s.Usage.InputTokens += resp.Usage.InputTokens
			s.Usage.OutputTokens += resp.Usage.OutputTokens
			s.Usage.TotalTokens += resp.Usage.TotalTokens
		})

		messages = append(messages, resp.AssistantMessage())

		if len(resp.ToolCalls) == 0 {
			if strings.Contains(resp.Content, prompt.CompletionMarker) {
				a.finish(id, StateCompleted, "composition complete")
				return
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: a.prompts.BuildNudgeMessage()})
			continue
		}

		for i, call := range resp.ToolCalls {
			if i > 0 {
				if err := sleepCtx(ctx, a.cfg.CallDelay); err != nil {
					return
				}
			}
			if !a.current(id) {
				return
			}

			env := a.invoker.Invoke(ctx, call.Name, call.Arguments, runtime.SourceAgent)
			if !a.current(id) {
				return
			}

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    toolResultContent(env),
				IsError:    !env.OK,
			})
			level := "DEFAULT"
			if !env.OK {
				level = "WARNING"
			}
			trace.Event("tool:"+call.Name, call.Arguments, env, level)
			a.update(id, func(s *Status) { s.ToolCalls++ })
		}

		if err := sleepCtx(ctx, a.cfg.CallDelay); err != nil {
			return
		}
	}

	a.finish(id, StateStopped, fmt.Sprintf("stopped after reaching the %d turn limit", a.cfg.MaxTurns))
}

func toolSpecs(infos []runtime.ToolInfo) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(infos))
	for _, info := range infos {
		specs = append(specs, llm.ToolSpec{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
		})
	}
	return specs
}

// toolResultContent is the JSON string fed back to the model for one call
func toolResultContent(env runtime.Envelope) string {
	payload := map[string]any{"ok": env.OK}
	if env.Data != nil {
		payload["result"] = env.Data
	}
	if env.Error != "" {
		payload["error"] = env.Error
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
