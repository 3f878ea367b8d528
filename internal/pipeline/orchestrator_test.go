package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStage struct {
	mu     sync.Mutex
	calls  []domain.DateRange
	count  int64
	err    error
	during func()
}

func (f *fakeStage) run(ctx context.Context, r domain.DateRange) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, r)
	f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	return f.count, f.err
}

func (f *fakeStage) called() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type transformStage struct{ *fakeStage }

func (s transformStage) Transform(ctx context.Context, r domain.DateRange) (int64, error) {
	return s.run(ctx, r)
}

type loadStage struct{ *fakeStage }

func (s loadStage) Load(ctx context.Context, r domain.DateRange) (int64, error) {
	return s.run(ctx, r)
}

type migrateStage struct{ *fakeStage }

func (s migrateStage) Migrate(ctx context.Context, r domain.DateRange) (int64, error) {
	return s.run(ctx, r)
}

type memoryRecorder struct {
	entries []domain.PipelineRunEntry
	err     error
}

func (m *memoryRecorder) Record(ctx context.Context, entry domain.PipelineRunEntry) error {
	m.entries = append(m.entries, entry)
	return m.err
}

type harness struct {
	transform *fakeStage
	load      *fakeStage
	migrate   *fakeStage
	recorder  *memoryRecorder
}

func newHarness() *harness {
	return &harness{
		transform: &fakeStage{count: 4},
		load:      &fakeStage{count: 3},
		migrate:   &fakeStage{count: 4},
		recorder:  &memoryRecorder{},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(
		transformStage{h.transform},
		loadStage{h.load},
		migrateStage{h.migrate},
		WithRecorder(h.recorder),
	)
}

func outcomes(report Report) []Outcome {
	var out []Outcome
	for _, s := range report.Stages {
		out = append(out, s.Outcome)
	}
	return out
}

func TestRunSucceedsThroughAllStages(t *testing.T) {
	h := newHarness()
	report, err := h.orchestrator().Run(context.Background(), domain.DateRange{}, Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if !report.Succeeded() {
		t.Fatalf("expected success, got state %s", report.State)
	}
	wantTransitions := []State{StateTransforming, StateLoading, StateMigrating, StateDone, StateSucceeded}
	if diff := cmp.Diff(wantTransitions, report.Transitions); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Outcome{Success, Success, Success}, outcomes(report)); diff != "" {
		t.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
	}
	if h.transform.calls[0] != domain.DefaultDateRange() {
		t.Fatalf("expected default range, got %s", h.transform.calls[0])
	}
	if got, _ := report.Stage(StageTransforming); got.Count != 4 {
		t.Fatalf("expected transform count 4, got %d", got.Count)
	}
	if len(h.recorder.entries) != 3 {
		t.Fatalf("expected 3 recorded stages, got %d", len(h.recorder.entries))
	}
	for _, entry := range h.recorder.entries {
		if entry.RunID != report.RunID {
			t.Fatalf("recorded entry has run id %s, want %s", entry.RunID, report.RunID)
		}
	}
}

func TestRunStopsOnTransformFailure(t *testing.T) {
	h := newHarness()
	cause := errors.Join(domain.ErrConstraintViolation, errors.New("age out of range"))
	h.transform.err = cause

	report, err := h.orchestrator().Run(context.Background(), domain.DefaultDateRange(), Options{})

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTransforming {
		t.Fatalf("expected transforming stage error, got %v", err)
	}
	if !errors.Is(err, domain.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation to be visible through stage error")
	}
	if report.State != StateFailed {
		t.Fatalf("expected failed state, got %s", report.State)
	}
	if h.load.called() != 0 || h.migrate.called() != 0 {
		t.Fatalf("later stages must not run after a fatal transform")
	}
	if diff := cmp.Diff([]Outcome{FatalError}, outcomes(report)); diff != "" {
		t.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
	}
	if len(h.recorder.entries) != 1 || h.recorder.entries[0].ErrorMessage == "" {
		t.Fatalf("expected the failure to be recorded with a message, got %+v", h.recorder.entries)
	}
}

func TestRunStopsOnLoadFailure(t *testing.T) {
	h := newHarness()
	h.load.err = errors.New("mart unavailable")

	report, err := h.orchestrator().Run(context.Background(), domain.DefaultDateRange(), Options{})

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageLoading {
		t.Fatalf("expected loading stage error, got %v", err)
	}
	if h.migrate.called() != 0 {
		t.Fatalf("migration must not run after a fatal load")
	}
	wantTransitions := []State{StateTransforming, StateLoading, StateFailed}
	if diff := cmp.Diff(wantTransitions, report.Transitions); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}
}

func TestRunTreatsMigrationFailureAsWarning(t *testing.T) {
	h := newHarness()
	h.migrate.err = errors.New("secondary store unreachable")

	report, err := h.orchestrator().Run(context.Background(), domain.DefaultDateRange(), Options{})
	if err != nil {
		t.Fatalf("migration failure must not fail the run: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("expected success, got %s", report.State)
	}
	if diff := cmp.Diff([]Outcome{Success, Success, RecoverableWarning}, outcomes(report)); diff != "" {
		t.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", report.Warnings)
	}
}

func TestRunSkipsMigrationWhenAsked(t *testing.T) {
	h := newHarness()

	report, err := h.orchestrator().Run(context.Background(), domain.DefaultDateRange(), Options{SkipSecondaryMigration: true})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if h.migrate.called() != 0 {
		t.Fatalf("migration should have been skipped")
	}
	if got, ok := report.Stage(StageMigrating); !ok || got.Outcome != Skipped {
		t.Fatalf("expected skipped migration result, got %+v", got)
	}
	wantTransitions := []State{StateTransforming, StateLoading, StateDone, StateSucceeded}
	if diff := cmp.Diff(wantTransitions, report.Transitions); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}
}

func TestRunSkipsMigrationWithoutMigrator(t *testing.T) {
	h := newHarness()
	o := New(transformStage{h.transform}, loadStage{h.load}, nil)

	report, err := o.Run(context.Background(), domain.DefaultDateRange(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got, _ := report.Stage(StageMigrating); got.Outcome != Skipped {
		t.Fatalf("expected skipped migration, got %s", got.Outcome)
	}
}

func TestRecorderFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness()
	h.recorder.err = errors.New("run log table missing")

	report, err := h.orchestrator().Run(context.Background(), domain.DefaultDateRange(), Options{})
	if err != nil {
		t.Fatalf("recorder failure leaked into run error: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("expected success, got %s", report.State)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	h := newHarness()
	started := make(chan struct{})
	release := make(chan struct{})
	h.transform.during = func() {
		close(started)
		<-release
	}
	o := h.orchestrator()

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), domain.DefaultDateRange(), Options{})
		done <- err
	}()

	<-started
	if _, err := o.Run(context.Background(), domain.DefaultDateRange(), Options{}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first run did not finish")
	}
}

func TestStageTimestampsUseClock(t *testing.T) {
	h := newHarness()
	fixed := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	o := New(transformStage{h.transform}, loadStage{h.load}, migrateStage{h.migrate}, WithClock(func() time.Time { return fixed }))

	report, err := o.Run(context.Background(), domain.DefaultDateRange(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	for _, stage := range report.Stages {
		if !stage.StartedAt.Equal(fixed) || !stage.FinishedAt.Equal(fixed) {
			t.Fatalf("stage %s did not use injected clock", stage.Stage)
		}
	}
}
