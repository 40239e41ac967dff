package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/google/uuid"
)

const (
	maxLogEntries  = 200
	maxListedTools = 12
	maxLoggedArgs  = 240
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrClosed       = errors.New("runtime closed")
)

// defaultAliases maps names models commonly invent to catalog tools
var defaultAliases = map[string]string{
	"set_bpm":           "set_tempo",
	"tempo":             "set_tempo",
	"set_meter":         "set_time_signature",
	"time_signature":    "set_time_signature",
	"create_track":      "set_instrument",
	"add_track":         "set_instrument",
	"set_track_volume":  "set_volume",
	"set_panning":       "set_pan",
	"add_reverb":        "set_reverb",
	"add_delay":         "set_delay",
	"add_distortion":    "set_distortion",
	"add_eq":            "set_eq",
	"set_synth":         "customize_instrument",
	"play_note":         "add_note",
	"add_melody":        "add_notes",
	"add_sequence":      "add_notes",
	"play_chord":        "add_chord",
	"add_drums":         "add_percussion_bar",
	"add_drum_pattern":  "add_percussion_bar",
	"add_beat":          "add_percussion_bar",
	"humanize":          "humanize_track",
	"clear":             "clear_track",
	"get_scale":         "get_scale_notes",
	"get_chord":         "get_chord_notes",
	"list_families":     "list_instruments",
	"get_state":         "get_composition_state",
	"get_composition":   "get_composition_state",
	"verify":            "verify_composition",
	"check_composition": "verify_composition",
}

type job struct {
	ctx      context.Context
	name     string
	args     map[string]any
	source   Source
	fn       func()
	done     chan Envelope
	enqueued time.Time
	// claim decides between the worker starting fn and the caller giving up
	claim atomic.Int32
}

const (
	jobPending int32 = iota
	jobStarted
	jobAbandoned
)

// Runtime owns the tool catalog and executes calls one at a time in FIFO
// order on a single worker goroutine. Subscribers are notified on that
// worker, so they must not call Invoke synchronously.
type Runtime struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	closed  bool
	stopped chan struct{}

	defs       map[string]tools.Definition
	order      []string
	normalized map[string]string
	aliases    map[string]string

	metrics    Metrics
	runActive  bool
	runStarted time.Time
	logs       []LogEntry
	history    []ToolCallRecord
	scene      string
	bridge     Bridge

	subMu        sync.Mutex
	nextSubID    int
	snapshotSubs map[int]func(Snapshot)
	toolCallSubs map[int]func(ToolCallRecord)
	notifyMu     sync.Mutex

	recorder MetricsRecorder
	now      func() time.Time
}

// Option configures a Runtime
type Option func(*Runtime)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithRecorder forwards per-call metrics to an external sink
func WithRecorder(rec MetricsRecorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// WithAliases adds to the static alias table
func WithAliases(aliases map[string]string) Option {
	return func(r *Runtime) {
		for k, v := range aliases {
			r.aliases[normalizeName(k)] = v
		}
	}
}

// New starts a runtime with an empty catalog
func New(opts ...Option) *Runtime {
	r := &Runtime{
		stopped:      make(chan struct{}),
		defs:         make(map[string]tools.Definition),
		normalized:   make(map[string]string),
		aliases:      make(map[string]string, len(defaultAliases)),
		snapshotSubs: make(map[int]func(Snapshot)),
		toolCallSubs: make(map[int]func(ToolCallRecord)),
		now:          time.Now,
	}
	r.cond = sync.NewCond(&r.mu)
	for k, v := range defaultAliases {
		r.aliases[normalizeName(k)] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// normalizeName lowercases and strips everything but letters and digits
func normalizeName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// RegisterAll atomically replaces the whole catalog
func (r *Runtime) RegisterAll(defs []tools.Definition) {
	r.mu.Lock()
	r.defs = make(map[string]tools.Definition, len(defs))
	r.normalized = make(map[string]string, len(defs))
	r.order = r.order[:0]
	for _, d := range defs {
		if _, dup := r.defs[d.Name]; !dup {
			r.order = append(r.order, d.Name)
		}
		r.defs[d.Name] = d
		r.normalized[normalizeName(d.Name)] = d.Name
	}
	bridge := r.bridge
	r.appendLog(LevelInfo, fmt.Sprintf("Registered %d tools", len(r.order)))
	r.mu.Unlock()

	logger.Info("Tools registered", logger.Fields{"count": len(defs)})

	if bridge != nil {
		if err := bridge.Register(r.Tools(), r.Invoke); err != nil {
			logger.Error("Failed to register tools with bridge", err, nil)
		}
	}
	r.publishSnapshot()
}

// InstallBridge hands the current catalog to a registration surface and
// keeps it updated on future RegisterAll calls.
func (r *Runtime) InstallBridge(b Bridge) error {
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()

	if err := b.Register(r.Tools(), r.Invoke); err != nil {
		return fmt.Errorf("failed to install tool bridge: %w", err)
	}
	r.publishSnapshot()
	return nil
}

// Tools describes the registered catalog in registration order
func (r *Runtime) Tools() []ToolInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toolInfosLocked()
}

func (r *Runtime) toolInfosLocked() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		d := r.defs[name]
		infos = append(infos, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Schema.JSONSchema(),
			Annotations: d.Annotations,
		})
	}
	return infos
}

// Submit enqueues a call and returns a channel that receives its envelope
func (r *Runtime) Submit(ctx context.Context, name string, args map[string]any, source Source) <-chan Envelope {
	done := make(chan Envelope, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		done <- Envelope{OK: false, Error: ErrClosed.Error()}
		return done
	}
	r.queue = append(r.queue, &job{
		ctx:      ctx,
		name:     name,
		args:     args,
		source:   source,
		done:     done,
		enqueued: r.now(),
	})
	r.metrics.QueueDepth++
	r.cond.Signal()
	r.mu.Unlock()

	r.publishSnapshot()
	return done
}

// Invoke runs a tool and waits for its envelope. It never returns a Go
// error: unknown tools and executor failures come back as ok=false.
func (r *Runtime) Invoke(ctx context.Context, name string, args map[string]any, source Source) Envelope {
	select {
	case env := <-r.Submit(ctx, name, args, source):
		return env
	case <-ctx.Done():
		return Envelope{OK: false, Error: ctx.Err().Error()}
	}
}

// Exec runs fn on the worker between tool calls, giving it exclusive
// access to state the tools mutate. It is not recorded as a tool call.
func (r *Runtime) Exec(ctx context.Context, fn func()) error {
	done := make(chan Envelope, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	j := &job{ctx: ctx, fn: fn, done: done, enqueued: r.now()}
	r.queue = append(r.queue, j)
	r.cond.Signal()
	r.mu.Unlock()

	select {
	case env := <-done:
		return execError(env)
	case <-ctx.Done():
		if j.claim.CompareAndSwap(jobPending, jobAbandoned) {
			return ctx.Err()
		}
		// fn already started; report what it did
		return execError(<-done)
	}
}

func execError(env Envelope) error {
	if !env.OK {
		return errors.New(env.Error)
	}
	return nil
}

// Close stops accepting calls; queued calls still run
func (r *Runtime) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.cond.Broadcast()
	}
	r.mu.Unlock()
	<-r.stopped
}

func (r *Runtime) loop() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			close(r.stopped)
			return
		}
		j := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		if j.fn == nil && r.metrics.QueueDepth > 0 {
			r.metrics.QueueDepth--
		}
		r.mu.Unlock()

		if j.fn != nil {
			if (j.ctx != nil && j.ctx.Err() != nil) || !j.claim.CompareAndSwap(jobPending, jobStarted) {
				j.done <- Envelope{OK: false, Error: "canceled before execution"}
				continue
			}
			j.done <- r.runFn(j.fn)
			continue
		}
		j.done <- r.execute(j)
	}
}

func (r *Runtime) runFn(fn func()) (env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			env = Envelope{OK: false, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()
	fn()
	return Envelope{OK: true}
}

func (r *Runtime) resolve(name string) (tools.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.defs[name]; ok {
		return d, nil
	}
	key := normalizeName(name)
	if target, ok := r.aliases[key]; ok {
		if d, ok := r.defs[target]; ok {
			return d, nil
		}
	}
	if canonical, ok := r.normalized[key]; ok {
		return r.defs[canonical], nil
	}

	available := r.order
	suffix := ""
	if len(available) > maxListedTools {
		suffix = fmt.Sprintf(" (and %d more)", len(available)-maxListedTools)
		available = available[:maxListedTools]
	}
	return tools.Definition{}, fmt.Errorf("%w: %q. Available tools: %s%s",
		ErrToolNotFound, name, strings.Join(available, ", "), suffix)
}

func (r *Runtime) execute(j *job) Envelope {
	start := r.now()
	rec := ToolCallRecord{
		ID:        uuid.New().String(),
		Tool:      j.name,
		Arguments: j.args,
		Source:    j.source,
		Timestamp: start,
	}

	def, err := r.resolve(j.name)
	if err != nil {
		rec.Error = err.Error()
		return r.complete(rec, start)
	}
	if def.Name != j.name {
		rec.Tool = def.Name
		rec.Requested = j.name
	}
	rec.ReadOnly = def.Annotations.ReadOnly

	if j.ctx != nil && j.ctx.Err() != nil {
		rec.Error = fmt.Sprintf("call canceled before execution: %v", j.ctx.Err())
		return r.complete(rec, start)
	}

	args := def.Schema.Coerce(j.args)
	rec.Arguments = args
	r.log(LevelInfo, fmt.Sprintf("→ %s %s", def.Name, truncate(compactJSON(args), maxLoggedArgs)))

	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, execErr := r.call(ctx, def, args)
	switch {
	case execErr != nil:
		rec.Error = execErr.Error()
	default:
		rec.Result = res
		if msg, soft := res.ErrorMessage(); soft {
			rec.Error = msg
		} else {
			rec.OK = true
		}
	}
	return r.complete(rec, start)
}

// call runs the executor, turning panics into errors so the queue survives
func (r *Runtime) call(ctx context.Context, def tools.Definition, args tools.Args) (res tools.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", def.Name, p)
		}
	}()
	if def.Execute == nil {
		return nil, fmt.Errorf("tool %s has no executor", def.Name)
	}
	res, err = def.Execute(ctx, args)
	if err == nil && res == nil {
		res = tools.Result{}
	}
	return res, err
}

func (r *Runtime) complete(rec ToolCallRecord, start time.Time) Envelope {
	elapsed := r.now().Sub(start)
	rec.ElapsedMs = float64(elapsed.Microseconds()) / 1000

	r.mu.Lock()
	r.metrics.TotalCalls++
	if rec.OK {
		r.metrics.SuccessCalls++
	} else {
		r.metrics.FailedCalls++
	}
	r.history = append(r.history, rec)
	r.mu.Unlock()

	if rec.OK {
		r.log(LevelInfo, fmt.Sprintf("✓ %s (%.1fms)", rec.Tool, rec.ElapsedMs))
	} else {
		r.log(LevelError, fmt.Sprintf("✗ %s: %s", rec.Tool, rec.Error))
	}

	if r.recorder != nil {
		r.recorder.RecordToolCall(rec.Tool, string(rec.Source), rec.OK, elapsed)
	}

	r.notifyToolCall(rec)
	r.publishSnapshot()

	env := Envelope{OK: rec.OK, Data: rec.Result, Error: rec.Error}
	return env
}

// SetRunActive marks the start or end of an agent run. Activation resets
// metrics; it is the only reset trigger.
func (r *Runtime) SetRunActive(active bool) {
	r.mu.Lock()
	if active {
		r.metrics = Metrics{QueueDepth: r.pendingToolJobsLocked()}
		r.runStarted = r.now()
		r.history = nil
		r.appendLog(LevelInfo, "Run started")
	} else if r.runActive {
		r.metrics.RuntimeMs = r.now().Sub(r.runStarted).Milliseconds()
		r.appendLog(LevelInfo, "Run finished")
	}
	r.runActive = active
	r.mu.Unlock()

	r.publishSnapshot()
}

func (r *Runtime) pendingToolJobsLocked() int {
	n := 0
	for _, j := range r.queue {
		if j.fn == nil {
			n++
		}
	}
	return n
}

// RestoreFromHistory rebuilds metrics and the log from a persisted run
// without executing any tools.
func (r *Runtime) RestoreFromHistory(m Metrics, records []ToolCallRecord) {
	r.mu.Lock()
	m.QueueDepth = r.pendingToolJobsLocked()
	r.metrics = m
	r.runActive = false
	r.history = append([]ToolCallRecord(nil), records...)
	r.logs = nil
	r.appendLog(LevelInfo, fmt.Sprintf("Restored %d tool calls from history", len(records)))
	for _, rec := range records {
		if rec.OK {
			r.appendLog(LevelInfo, fmt.Sprintf("↺ %s (%.1fms)", rec.Tool, rec.ElapsedMs))
		} else {
			r.appendLog(LevelError, fmt.Sprintf("↺ %s: %s", rec.Tool, rec.Error))
		}
	}
	r.mu.Unlock()

	r.publishSnapshot()
}

// History returns a copy of the tool-call records
func (r *Runtime) History() []ToolCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCallRecord(nil), r.history...)
}

// Metrics returns the current counters
func (r *Runtime) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsLocked()
}

func (r *Runtime) metricsLocked() Metrics {
	m := r.metrics
	if r.runActive {
		m.RuntimeMs = r.now().Sub(r.runStarted).Milliseconds()
	}
	return m
}

// SetScene labels the current session, e.g. the objective being composed
func (r *Runtime) SetScene(label string) {
	r.mu.Lock()
	r.scene = label
	r.mu.Unlock()
	r.publishSnapshot()
}

// Snapshot returns the full observable state
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	native := false
	if r.bridge != nil {
		native = r.bridge.Native()
	}
	return Snapshot{
		Tools:         r.toolInfosLocked(),
		Logs:          append([]LogEntry(nil), r.logs...),
		Metrics:       r.metricsLocked(),
		Scene:         r.scene,
		NativeSupport: native,
		RunActive:     r.runActive,
	}
}

// SubscribeSnapshot registers fn for every state change and immediately
// delivers the current snapshot. The returned func unsubscribes.
func (r *Runtime) SubscribeSnapshot(fn func(Snapshot)) func() {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.snapshotSubs[id] = fn
	r.subMu.Unlock()

	r.notifyMu.Lock()
	fn(r.Snapshot())
	r.notifyMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.snapshotSubs, id)
		r.subMu.Unlock()
	}
}

// SubscribeToolCalls registers fn for every finished call
func (r *Runtime) SubscribeToolCalls(fn func(ToolCallRecord)) func() {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.toolCallSubs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.toolCallSubs, id)
		r.subMu.Unlock()
	}
}

func (r *Runtime) notifyToolCall(rec ToolCallRecord) {
	r.subMu.Lock()
	subs := make([]func(ToolCallRecord), 0, len(r.toolCallSubs))
	for _, fn := range r.toolCallSubs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	for _, fn := range subs {
		fn(rec)
	}
}

func (r *Runtime) publishSnapshot() {
	r.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(r.snapshotSubs))
	for _, fn := range r.snapshotSubs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	snap := r.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

func (r *Runtime) log(level LogLevel, msg string) {
	r.mu.Lock()
	r.appendLog(level, msg)
	r.mu.Unlock()
}

// appendLog adds to the ring buffer and mirrors to the process logger
func (r *Runtime) appendLog(level LogLevel, msg string) {
	r.logs = append(r.logs, LogEntry{Time: r.now(), Level: level, Message: msg})
	if over := len(r.logs) - maxLogEntries; over > 0 {
		r.logs = append(r.logs[:0:0], r.logs[over:]...)
	}

	fields := logger.Fields{"component": "runtime"}
	switch level {
	case LevelError:
		logger.Warn(msg, fields)
	default:
		logger.Debug(msg, fields)
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
