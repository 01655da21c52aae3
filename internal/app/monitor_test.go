package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/piflow/transfer-service/internal/domain"
)

// monitorRunnerStub scripts per-cycle outcomes for the monitor.
type monitorRunnerStub struct {
	authErr error
	results []error
	calls   int
}

func (s *monitorRunnerStub) Authenticate(ctx context.Context) (*domain.Session, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return &domain.Session{UID: "user-123", WalletAddress: "GDTESTWALLETADDRESSABC123456"}, nil
}

func (s *monitorRunnerStub) CheckAndTransfer(ctx context.Context, session *domain.Session) error {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

// fakeClock drives the monitor without real delays; sleeping advances time.
type fakeClock struct {
	current time.Time
	slept   []time.Duration
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.current = c.current.Add(d)
	return ctx.Err()
}

func newTestMonitor(runner CycleRunner, target time.Time, clock *fakeClock) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := domain.TransferPolicy{
		Amount:           1650.0,
		Fee:              0.01,
		AllowedRecipient: "GDTESTWALLETADDRESSABC123456",
		TargetTime:       target,
	}
	m := NewMonitor(runner, policy, logger)
	m.SetClock(clock.now, clock.sleep)
	return m
}

func TestMonitorStopsOnSuccess(t *testing.T) {
	runner := &monitorRunnerStub{results: []error{nil}}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected a single cycle, got %d", runner.calls)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("successful first cycle must not sleep, slept %v", clock.slept)
	}
}

func TestMonitorFailsPastDeadline(t *testing.T) {
	runner := &monitorRunnerStub{
		results: []error{domain.ErrInsufficientBalance},
	}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 16, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	err := monitor.Run(context.Background())
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected the final attempt failure to surface, got %v", err)
	}
	// One final attempt at the deadline, then no further retries or sleeps.
	if runner.calls != 1 {
		t.Fatalf("expected exactly one final attempt, got %d", runner.calls)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("loop must not sleep past the deadline, slept %v", clock.slept)
	}
}

func TestMonitorWaitsFiveMinutesFarFromDeadline(t *testing.T) {
	runner := &monitorRunnerStub{
		results: []error{domain.ErrInsufficientBalance, domain.ErrInsufficientBalance, nil},
	}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("expected three cycles, got %d", runner.calls)
	}
	for i, d := range clock.slept {
		if d != 5*time.Minute {
			t.Fatalf("sleep %d = %v, want 5m", i, d)
		}
	}
}

func TestMonitorTightensNearDeadline(t *testing.T) {
	runner := &monitorRunnerStub{
		results: []error{domain.ErrInsufficientBalance, nil},
	}
	// Three minutes before the target.
	clock := &fakeClock{current: time.Date(2025, 7, 20, 15, 35, 9, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Minute {
		t.Fatalf("expected a single 1m sleep near the deadline, got %v", clock.slept)
	}
}

func TestMonitorWorkflowFailureUsesTimeBasedWait(t *testing.T) {
	// A cycle that ran the workflow but ended in an expected failure waits
	// on the deadline-based schedule, same as an insufficient balance.
	runner := &monitorRunnerStub{
		results: []error{domain.ErrPaymentCancelled, nil},
	}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 5*time.Minute {
		t.Fatalf("expected a single 5m wait far from the deadline, got %v", clock.slept)
	}
}

func TestMonitorWorkflowFailureTightensNearDeadline(t *testing.T) {
	runner := &monitorRunnerStub{
		results: []error{domain.ErrVerificationTimeout, nil},
	}
	// Three minutes before the target.
	clock := &fakeClock{current: time.Date(2025, 7, 20, 15, 35, 9, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Minute {
		t.Fatalf("expected a single 1m wait near the deadline, got %v", clock.slept)
	}
}

func TestMonitorAbsorbsTransientErrors(t *testing.T) {
	runner := &monitorRunnerStub{
		results: []error{errors.New("connection reset"), nil},
	}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	if err := monitor.Run(context.Background()); err != nil {
		t.Fatalf("transient cycle errors must not end the loop, got %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Minute {
		t.Fatalf("expected a single 1m recovery sleep, got %v", clock.slept)
	}
}

func TestMonitorAuthenticationFailureIsFatal(t *testing.T) {
	runner := &monitorRunnerStub{authErr: domain.ErrAuthenticationFailed}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	err := monitor.Run(context.Background())
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure to surface, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("no cycles must run without a session, got %d", runner.calls)
	}
}

func TestMonitorStopsOnCancelledContext(t *testing.T) {
	runner := &monitorRunnerStub{results: []error{domain.ErrInsufficientBalance}}
	clock := &fakeClock{current: time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)}
	monitor := newTestMonitor(runner, time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC), clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := monitor.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
