package share

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/google/uuid"
)

// RunVersion is written into every shared run
const RunVersion = 1

var ErrInvalidRun = errors.New("invalid shared run")

// Replay describes the agent run that produced a shared composition
type Replay struct {
	Seed      int64     `json:"seed"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Run is the persisted form of a session: the composition plus everything
// needed to show how it was made.
type Run struct {
	Version     int                      `json:"version"`
	ID          string                   `json:"id"`
	Composition *composition.Composition `json:"composition"`
	Objective   string                   `json:"objective,omitempty"`
	Model       string                   `json:"model,omitempty"`
	Metrics     runtime.Metrics          `json:"metrics"`
	History     []runtime.ToolCallRecord `json:"history"`
	Replay      *Replay                  `json:"replay,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
}

// NewRun snapshots a session. comp is cloned so the caller keeps ownership.
func NewRun(comp *composition.Composition, objective, model string, m runtime.Metrics, history []runtime.ToolCallRecord) *Run {
	r := &Run{
		Version:   RunVersion,
		ID:        uuid.NewString(),
		Objective: objective,
		Model:     model,
		Metrics:   m,
		History:   append([]runtime.ToolCallRecord(nil), history...),
		CreatedAt: time.Now().UTC(),
	}
	if comp != nil {
		r.Composition = comp.Clone()
	}
	return r
}

// Code returns the compact URL code of the run's composition
func (r *Run) Code() (string, error) {
	return Encode(r.Composition)
}

// MarshalRun encodes a run as JSON
func MarshalRun(r *Run) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil run", ErrInvalidRun)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	return data, nil
}

// UnmarshalRun decodes and repairs a run
func UnmarshalRun(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if r.Composition == nil {
		return nil, fmt.Errorf("%w: missing composition", ErrInvalidRun)
	}
	if r.Version == 0 {
		r.Version = RunVersion
	}
	r.Composition.Normalize()
	return &r, nil
}
