package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingPinger struct {
	failures int
	calls    int
}

func (p *countingPinger) Ping(ctx context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitUntilReadySucceedsAfterRetries(t *testing.T) {
	p := &countingPinger{failures: 2}
	if !WaitUntilReady(context.Background(), p, 5, time.Millisecond, nil) {
		t.Fatalf("expected dependency to become ready")
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.calls)
	}
}

func TestWaitUntilReadyExhaustsBudget(t *testing.T) {
	p := &countingPinger{failures: 100}
	if WaitUntilReady(context.Background(), p, 4, time.Millisecond, nil) {
		t.Fatalf("expected readiness to fail")
	}
	if p.calls != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", p.calls)
	}
}

func TestWaitUntilReadyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &countingPinger{failures: 100}
	start := time.Now()
	if WaitUntilReady(ctx, p, 10, time.Hour, nil) {
		t.Fatalf("expected readiness to fail on cancelled context")
	}
	if p.calls != 1 {
		t.Fatalf("expected a single attempt before giving up, got %d", p.calls)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected cancellation to cut the wait short")
	}
}
