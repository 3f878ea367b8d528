package pipeline

import (
	"fmt"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/uuid"
)

// Stage names a pipeline step.
type Stage string

const (
	StageTransforming Stage = "transforming"
	StageLoading      Stage = "loading"
	StageMigrating    Stage = "migrating"
)

// State is the orchestrator state machine position.
type State string

const (
	StateIdle         State = "idle"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateMigrating    State = "migrating"
	StateDone         State = "done"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Outcome tags a stage result.
type Outcome string

const (
	Success            Outcome = "success"
	FatalError         Outcome = "fatal_error"
	RecoverableWarning Outcome = "recoverable_warning"
	Skipped            Outcome = "skipped"
)

// StageResult is what one stage produced.
type StageResult struct {
	Stage      Stage     `json:"stage"`
	Outcome    Outcome   `json:"outcome"`
	Count      int64     `json:"count"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Report summarises a run.
type Report struct {
	RunID       uuid.UUID        `json:"run_id"`
	Range       domain.DateRange `json:"range"`
	State       State            `json:"state"`
	Transitions []State          `json:"transitions"`
	Stages      []StageResult    `json:"stages"`
	Warnings    []string         `json:"warnings,omitempty"`
}

func (r *Report) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Succeeded reports whether the run reached the success terminal state.
func (r Report) Succeeded() bool {
	return r.State == StateSucceeded
}

// Stage returns the result for s, if that stage ran.
func (r Report) Stage(s Stage) (StageResult, bool) {
	for _, result := range r.Stages {
		if result.Stage == s {
			return result, true
		}
	}
	return StageResult{}, false
}

// StageError identifies the fatal stage and wraps its cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
