package runtime

import (
	"context"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/tools"
)

// Source identifies who issued a tool call
type Source string

const (
	SourceManual Source = "manual"
	SourceAgent  Source = "agent"
	SourceReplay Source = "replay"
)

// Envelope is the result of every invocation; it never carries a Go error
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// ToolCallRecord is the append-only history entry for a finished call
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Requested string         `json:"requested,omitempty"`
	Arguments map[string]any `json:"arguments"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	ElapsedMs float64        `json:"elapsedMs"`
	OK        bool           `json:"ok"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ReadOnly  bool           `json:"readOnly,omitempty"`
}

// Metrics are reset only when a run becomes active
type Metrics struct {
	TotalCalls   int   `json:"totalCalls"`
	SuccessCalls int   `json:"successCalls"`
	FailedCalls  int   `json:"failedCalls"`
	QueueDepth   int   `json:"queueDepth"`
	RuntimeMs    int64 `json:"runtimeMs"`
}

// LogLevel of a runtime log entry
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one line of the runtime log stream
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// ToolInfo is the transport-neutral description of a registered tool
type ToolInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	InputSchema map[string]any    `json:"inputSchema"`
	Annotations tools.Annotations `json:"annotations"`
}

// Snapshot is pushed to subscribers on every state change
type Snapshot struct {
	Tools         []ToolInfo `json:"tools"`
	Logs          []LogEntry `json:"logs"`
	Metrics       Metrics    `json:"metrics"`
	Scene         string     `json:"scene"`
	NativeSupport bool       `json:"nativeSupport"`
	RunActive     bool       `json:"runActive"`
}

// Bridge is a registration surface the runtime installs its tools into,
// such as an HTTP tool endpoint. Native reports whether the host provides
// tool registration natively rather than through a polyfill.
type Bridge interface {
	Native() bool
	Register(tools []ToolInfo, invoke InvokeFunc) error
}

// InvokeFunc is the invocation entrypoint handed to a Bridge
type InvokeFunc func(ctx context.Context, name string, args map[string]any, source Source) Envelope

// MetricsRecorder receives per-call measurements
type MetricsRecorder interface {
	RecordToolCall(tool string, source string, ok bool, elapsed time.Duration)
}
