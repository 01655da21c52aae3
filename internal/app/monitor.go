/**
 * @description
 * The deadline monitoring loop for the transfer-service. It authenticates
 * once, then repeatedly evaluates the balance gate and the target time,
 * invoking the payment workflow when funds are available and choosing the
 * next sleep interval otherwise.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piflow/transfer-service/internal/domain"
	"github.com/piflow/transfer-service/pkg/piclient"
)

const (
	// longCheckInterval is the wait between balance checks while more than
	// five minutes remain before the target time.
	longCheckInterval = 5 * time.Minute
	// shortCheckInterval is used close to the target time and after
	// transient cycle errors.
	shortCheckInterval = time.Minute
)

// CycleRunner defines the check-and-transfer operations the monitor drives.
type CycleRunner interface {
	Authenticate(ctx context.Context) (*domain.Session, error)
	CheckAndTransfer(ctx context.Context, session *domain.Session) error
}

// Monitor is the top-level control loop. It owns the session for the lifetime
// of the run and holds no other state beyond the deadline comparison.
type Monitor struct {
	runner CycleRunner
	policy domain.TransferPolicy
	logger *slog.Logger
	now    func() time.Time
	sleep  SleepFunc
}

// NewMonitor creates a monitor for the given runner and policy.
func NewMonitor(runner CycleRunner, policy domain.TransferPolicy, logger *slog.Logger) *Monitor {
	return &Monitor{
		runner: runner,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  ContextSleep,
	}
}

// SetClock overrides the time source and sleep. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time, sleep SleepFunc) {
	m.now = now
	m.sleep = sleep
}

// Run executes the monitoring loop until the transfer succeeds, the target
// time passes without success, or the context is cancelled. Authentication
// failure is fatal: there is no point continuing without a session.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("starting balance monitoring loop", "target_time", m.policy.TargetTime, "required_balance", m.policy.RequiredBalance())

	session, err := m.runner.Authenticate(ctx)
	if err != nil {
		m.logger.Error("initial authentication failed", "error", err)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			m.logger.Info("monitoring loop cancelled")
			return err
		}

		now := m.now()
		if !now.Before(m.policy.TargetTime) {
			// Target time reached: one final attempt, then stop either way.
			m.logger.Info("target time reached, attempting final transfer")
			if err := m.runner.CheckAndTransfer(ctx, session); err != nil {
				m.logger.Error("final transfer attempt failed", "error", err)
				return fmt.Errorf("target time passed without a successful transfer: %w", err)
			}
			m.logger.Info("final transfer successful")
			return nil
		}

		err := m.runner.CheckAndTransfer(ctx, session)
		if err == nil {
			m.logger.Info("transfer successful before target time")
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Every expected attempt failure falls through to the time-based
		// wait; the fixed one-minute recovery sleep is reserved for
		// unexpected faults.
		delay := shortCheckInterval
		if IsAttemptFailure(err) {
			if remaining := m.policy.TargetTime.Sub(now); remaining > longCheckInterval {
				delay = longCheckInterval
			}
			m.logger.Info("waiting before next balance check", "delay", delay, "error", err)
		} else {
			// Transient fault: absorb, wait a minute, and keep the loop alive.
			m.logger.Error("check-and-transfer cycle failed", "error", err)
		}

		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// IsAttemptFailure reports whether err is one of the expected ways a
// check-and-transfer cycle can end without a completed transfer, as opposed
// to an unexpected internal or transport fault.
func IsAttemptFailure(err error) bool {
	return errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrRecipientNotAllowed) ||
		errors.Is(err, domain.ErrPaymentCancelled) ||
		errors.Is(err, domain.ErrVerificationTimeout) ||
		piclient.IsAPIError(err)
}
