// Package pipeline sequences the transform, warehouse load and secondary
// migration stages for one date range.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Transformer re-materialises structured rows for a range.
type Transformer interface {
	Transform(ctx context.Context, r domain.DateRange) (int64, error)
}

// Loader rebuilds the data mart for a range.
type Loader interface {
	Load(ctx context.Context, r domain.DateRange) (int64, error)
}

// Migrator mirrors structured rows into the secondary store.
type Migrator interface {
	Migrate(ctx context.Context, r domain.DateRange) (int64, error)
}

// RunRecorder persists stage results.
type RunRecorder interface {
	Record(ctx context.Context, entry domain.PipelineRunEntry) error
}

// Options tune a single run.
type Options struct {
	SkipSecondaryMigration bool
}

// Orchestrator runs the stages in order. Transforming and Loading failures
// abort the run; a Migrating failure is downgraded to a warning.
type Orchestrator struct {
	transformer Transformer
	loader      Loader
	migrator    Migrator
	recorder    RunRecorder
	logger      *zap.Logger
	now         func() time.Time
	newID       func() uuid.UUID

	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every stage result through rec.
func WithRecorder(rec RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for stage timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New constructs an orchestrator. migrator may be nil, in which case the
// migration stage is always skipped.
func New(transformer Transformer, loader Loader, migrator Migrator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transformer: transformer,
		loader:      loader,
		migrator:    migrator,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.New,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline pass over r. The returned Report is populated even
// when err is non-nil; err is a *StageError for stage failures.
func (o *Orchestrator) Run(ctx context.Context, r domain.DateRange, opts Options) (Report, error) {
	if !o.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer o.mu.Unlock()

	r = r.OrDefault()
	report := Report{RunID: o.newID(), Range: r, State: StateIdle}
	logger := o.logger.With(zap.String("run_id", report.RunID.String()), zap.Stringer("range", r))
	logger.Info("pipeline run started", zap.Bool("skip_secondary_migration", opts.SkipSecondaryMigration))

	fatal := []struct {
		stage Stage
		state State
		run   func(context.Context, domain.DateRange) (int64, error)
	}{
		{StageTransforming, StateTransforming, o.transformer.Transform},
		{StageLoading, StateLoading, o.loader.Load},
	}

	for _, step := range fatal {
		report.transition(step.state)
		result := o.runStage(ctx, step.stage, r, step.run)
		if result.Err != nil {
			result.Outcome = FatalError
		}
		report.Stages = append(report.Stages, result)
		o.record(ctx, logger, report.RunID, r, result)

		if result.Err != nil {
			report.transition(StateFailed)
			logger.Error("pipeline stage failed", zap.String("stage", string(step.stage)), zap.Error(result.Err))
			return report, &StageError{Stage: step.stage, Err: result.Err}
		}
	}

	migration := o.migrate(ctx, logger, &report, r, opts)
	report.Stages = append(report.Stages, migration)
	o.record(ctx, logger, report.RunID, r, migration)
	if migration.Outcome == RecoverableWarning {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", StageMigrating, migration.Err))
	}

	report.transition(StateDone)
	report.transition(StateSucceeded)
	logger.Info("pipeline run succeeded", zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// migrate only enters StateMigrating when the migrator is actually called.
func (o *Orchestrator) migrate(ctx context.Context, logger *zap.Logger, report *Report, r domain.DateRange, opts Options) StageResult {
	if opts.SkipSecondaryMigration || o.migrator == nil {
		now := o.now()
		logger.Info("secondary migration skipped")
		return StageResult{Stage: StageMigrating, Outcome: Skipped, StartedAt: now, FinishedAt: now}
	}

	report.transition(StateMigrating)
	result := o.runStage(ctx, StageMigrating, r, o.migrator.Migrate)
	if result.Err != nil {
		result.Outcome = RecoverableWarning
		logger.Warn("secondary migration failed, continuing", zap.Error(result.Err))
	}
	return result
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, r domain.DateRange, run func(context.Context, domain.DateRange) (int64, error)) StageResult {
	result := StageResult{Stage: stage, StartedAt: o.now()}
	count, err := run(ctx, r)
	result.FinishedAt = o.now()
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		return result
	}
	result.Outcome = Success
	result.Count = count
	o.logger.Debug("pipeline stage finished", zap.String("stage", string(stage)), zap.Int64("count", count))
	return result
}

// record never fails the run; a broken run log is only worth a warning.
func (o *Orchestrator) record(ctx context.Context, logger *zap.Logger, runID uuid.UUID, r domain.DateRange, result StageResult) {
	if o.recorder == nil {
		return
	}
	entry := domain.PipelineRunEntry{
		ID:           o.newID(),
		RunID:        runID,
		Stage:        string(result.Stage),
		Outcome:      string(result.Outcome),
		RangeStart:   r.Start,
		RangeEnd:     r.End,
		RecordCount:  result.Count,
		ErrorMessage: result.Error,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	}
	if err := o.recorder.Record(ctx, entry); err != nil {
		logger.Warn("failed to record pipeline stage", zap.String("stage", entry.Stage), zap.Error(err))
	}
}
