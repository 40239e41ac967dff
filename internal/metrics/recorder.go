package metrics

import (
	"context"
	"time"
)

// Recorder fans measurements out to Sentry and CloudWatch. Either sink may be nil.
type Recorder struct {
	sentry     *SentryMetrics
	cloudwatch *Client
}

// NewRecorder combines the metric sinks
func NewRecorder(s *SentryMetrics, cw *Client) *Recorder {
	return &Recorder{sentry: s, cloudwatch: cw}
}

// RecordToolCall implements the runtime's metrics hook
func (r *Recorder) RecordToolCall(tool, source string, ok bool, elapsed time.Duration) {
	if r.sentry != nil {
		r.sentry.RecordToolCall(tool, source, ok, elapsed)
	}
	r.cloudwatch.RecordToolCall(tool, source, ok, elapsed)
}

// RecordAgentTurn records token usage for one LLM turn
func (r *Recorder) RecordAgentTurn(ctx context.Context, model string, inputTokens, outputTokens, totalTokens int, _ time.Duration) {
	if r.sentry != nil {
		r.sentry.RecordTokenUsage(ctx, model, totalTokens, inputTokens, outputTokens)
	}
	r.cloudwatch.RecordTokenUsage(model, totalTokens, inputTokens, outputTokens)
}

// RecordAgentRun records a finished run
func (r *Recorder) RecordAgentRun(state string, turns int, duration time.Duration) {
	if r.sentry != nil {
		r.sentry.RecordAgentRun(state, turns, duration)
	}
	r.cloudwatch.RecordAgentRun(state, turns, duration)
}

// RecordAPIRequest records an HTTP request
func (r *Recorder) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if r.sentry != nil {
		r.sentry.RecordAPIRequest(ctx, endpoint, statusCode, duration)
	}
	r.cloudwatch.RecordAPIRequest(endpoint, statusCode, duration)
}
