package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/gyrelabs/gyre/internal/spiral"
)

// ErrValidation means the job payload was malformed. Such jobs are
// rejected before the admission check and never queued.
var ErrValidation = errors.New("invalid job payload")

// State is a job's position in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateLocked    State = "locked"
	StateExecuting State = "executing"
	StateCommitted State = "committed"
	StateRequeued  State = "requeued"
	StateFailed    State = "failed"
)

// Terminal reports whether the state ends the job's lifecycle.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// MaxNodesPerJob bounds how many nodes one generation job may append.
const MaxNodesPerJob = 1000

// Payload is the tagged variant carried by a job. Kind selects which of
// the kind-specific bodies must be present; the pipeline never branches
// on untyped shapes at runtime.
type Payload struct {
	Kind     string           `json:"kind"`
	Generate *GeneratePayload `json:"generate,omitempty"`
}

// GeneratePayload requests Count new nodes on one spiral. Seed makes the
// generated geometry reproducible; zero means derive one from the clock.
type GeneratePayload struct {
	SpiralType string `json:"spiral_type"`
	Count      int    `json:"count"`
	Seed       int64  `json:"seed,omitempty"`
}

// Validate checks the payload shape at the admission boundary.
func (p Payload) Validate() error {
	switch p.Kind {
	case "generate":
		g := p.Generate
		if g == nil {
			return fmt.Errorf("%w: generate body required", ErrValidation)
		}
		if !spiral.ValidType(g.SpiralType) {
			return fmt.Errorf("%w: unknown spiral type %q", ErrValidation, g.SpiralType)
		}
		if g.Count < 1 || g.Count > MaxNodesPerJob {
			return fmt.Errorf("%w: count %d out of range [1,%d]", ErrValidation, g.Count, MaxNodesPerJob)
		}
		return nil
	case "":
		return fmt.Errorf("%w: kind required", ErrValidation)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, p.Kind)
	}
}

// Job is a transient work item. The pipeline owns its state transitions;
// callers read snapshots via Pipeline.Job.
type Job struct {
	ID         string        `json:"job_id"`
	TraceID    string        `json:"trace_id"`
	Payload    Payload       `json:"payload"`
	State      State         `json:"state"`
	Attempts   int           `json:"attempts"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}
