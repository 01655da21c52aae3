/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct drives one payment through its remote lifecycle
 * (create -> approve -> await verification -> complete), coordinating between
 * the Pi Platform client and the transfer policy.
 *
 * Key features:
 * - Enforces the recipient guard before any payment creation reaches the wire.
 * - Bounded status polling so the workflow never blocks indefinitely.
 * - Best-effort unlock confirmation that finalizes stale incomplete payments
 *   left over from earlier runs.
 *
 * @dependencies
 * - context, errors, fmt, log/slog, time: Standard Go libraries.
 * - github.com/google/uuid: For per-attempt transfer references.
 * - internal/domain: Domain models and error kinds.
 * - pkg/piclient: Pi Platform API communication.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/piflow/transfer-service/internal/domain"
	"github.com/piflow/transfer-service/pkg/piclient"
)

const (
	// statusPollInterval is how long the workflow waits between payment
	// status polls while awaiting on-chain verification.
	statusPollInterval = 10 * time.Second
	// maxStatusPolls bounds the verification wait to ~10 minutes.
	maxStatusPolls = 60
)

// PlatformClient defines the Pi Platform operations the service depends on.
type PlatformClient interface {
	GetMe(ctx context.Context) (*piclient.User, error)
	GetWalletBalance(ctx context.Context, walletAddress string) (*piclient.Balance, error)
	ListIncompletePayments(ctx context.Context) ([]piclient.Payment, error)
	CreatePayment(ctx context.Context, args piclient.PaymentArgs) (*piclient.Payment, error)
	ApprovePayment(ctx context.Context, paymentID string) error
	GetPayment(ctx context.Context, paymentID string) (*piclient.Payment, error)
	CompletePayment(ctx context.Context, paymentID string) error
}

// SleepFunc blocks for the given duration or until the context is cancelled.
// Injectable so tests can simulate time without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Service provides the payment workflow and its supporting operations.
type Service struct {
	client PlatformClient
	policy domain.TransferPolicy
	logger *slog.Logger
	sleep  SleepFunc
}

// NewService creates a new transfer service instance.
func NewService(client PlatformClient, policy domain.TransferPolicy, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		policy: policy,
		logger: logger,
		sleep:  ContextSleep,
	}
}

// SetSleepFunc overrides the sleep used between status polls. Intended for tests.
func (s *Service) SetSleepFunc(sleep SleepFunc) {
	s.sleep = sleep
}

// Authenticate performs the identity lookup and builds the session. It is
// called once per run; the resulting session is immutable.
func (s *Service) Authenticate(ctx context.Context) (*domain.Session, error) {
	user, err := s.client.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}

	s.logger.Info("user authenticated", "username", user.Username, "uid", user.UID)
	return &domain.Session{
		UID:           user.UID,
		Username:      user.Username,
		WalletAddress: user.WalletAddress,
	}, nil
}

// FetchBalance takes a fresh snapshot of the session wallet's available funds.
func (s *Service) FetchBalance(ctx context.Context, session *domain.Session) (domain.BalanceSnapshot, error) {
	balance, err := s.client.GetWalletBalance(ctx, session.WalletAddress)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	return domain.BalanceSnapshot{
		Available: balance.Available,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// ConfirmUnlock sweeps payments left incomplete by earlier runs and
// opportunistically completes any the platform still reports as not
// developer-completed. Individual completion failures are logged and do not
// block a new transfer attempt; already-completed payments are skipped, so
// running the sweep repeatedly is a no-op.
func (s *Service) ConfirmUnlock(ctx context.Context) error {
	pending, err := s.client.ListIncompletePayments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending payments: %w", err)
	}

	for _, payment := range pending {
		if payment.Status.DeveloperCompleted {
			continue
		}
		if err := s.client.CompletePayment(ctx, payment.Identifier); err != nil {
			s.logger.Warn("failed to complete stale pending payment", "payment_id", payment.Identifier, "error", err)
			continue
		}
		s.logger.Info("completed stale pending payment", "payment_id", payment.Identifier)
	}
	return nil
}

// ExecuteTransfer drives one payment through the full lifecycle for the
// policy's fixed amount and recipient. It returns nil only when the payment
// reached developer-completed; every other outcome is a kinded error. A
// payment that was approved but not completed here is left for a later run's
// unlock sweep to reconcile.
func (s *Service) ExecuteTransfer(ctx context.Context, session *domain.Session, recipient string) error {
	if err := s.policy.ValidateRecipient(recipient); err != nil {
		s.logger.Error("transfer denied by recipient guard", "recipient", recipient)
		return err
	}

	s.logger.Info("initiating transfer", "amount", s.policy.Amount, "recipient", recipient)

	payment, err := s.client.CreatePayment(ctx, piclient.PaymentArgs{
		Amount: s.policy.Amount,
		Memo:   fmt.Sprintf("Automated transfer of %g Pi - scheduled for %s", s.policy.Amount, s.policy.TargetTime.Format(time.RFC3339)),
		Metadata: map[string]any{
			"transfer_type":  "automated_transfer",
			"transfer_ref":   uuid.NewString(),
			"scheduled_time": s.policy.TargetTime.Format(time.RFC3339),
			"recipient":      recipient,
		},
		UID: session.UID,
	})
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	s.logger.Info("payment created", "payment_id", payment.Identifier)

	if err := s.client.ApprovePayment(ctx, payment.Identifier); err != nil {
		return fmt.Errorf("failed to approve payment %s: %w", payment.Identifier, err)
	}
	s.logger.Info("payment approved", "payment_id", payment.Identifier)

	return s.awaitCompletion(ctx, payment.Identifier)
}

// awaitCompletion polls the payment status on a fixed interval until the
// transaction is verified, the payment is cancelled, or the attempt budget is
// exhausted. Completion is attempted at most once per poll; a failed
// completion on a verified payment ends this attempt and relies on the next
// cycle's unlock sweep rather than an inner retry, because the platform's
// idempotency semantics for duplicate completion calls are unspecified.
func (s *Service) awaitCompletion(ctx context.Context, paymentID string) error {
	for attempt := 0; attempt < maxStatusPolls; attempt++ {
		payment, err := s.client.GetPayment(ctx, paymentID)
		if err != nil {
			s.logger.Warn("failed to fetch payment status", "payment_id", paymentID, "attempt", attempt+1, "error", err)
		} else {
			status := payment.Status
			if status.Cancelled || status.UserCancelled {
				s.logger.Error("payment cancelled before completion", "payment_id", paymentID, "user_cancelled", status.UserCancelled)
				return fmt.Errorf("%w: %s", domain.ErrPaymentCancelled, paymentID)
			}
			if status.TransactionVerified && !status.DeveloperCompleted {
				if err := s.client.CompletePayment(ctx, paymentID); err != nil {
					return fmt.Errorf("failed to complete verified payment %s: %w", paymentID, err)
				}
				s.logger.Info("transfer completed", "payment_id", paymentID, "txid", paymentTxID(payment))
				return nil
			}
		}

		if err := s.sleep(ctx, statusPollInterval); err != nil {
			return err
		}
	}

	s.logger.Error("payment verification polling exhausted", "payment_id", paymentID, "attempts", maxStatusPolls)
	return fmt.Errorf("%w: %s", domain.ErrVerificationTimeout, paymentID)
}

// CheckAndTransfer runs one full check-and-transfer cycle: unlock sweep,
// balance gate, then the payment workflow when funds suffice.
func (s *Service) CheckAndTransfer(ctx context.Context, session *domain.Session) error {
	if err := s.ConfirmUnlock(ctx); err != nil {
		// Best-effort: a failed sweep must not block a new attempt.
		s.logger.Warn("unlock confirmation failed", "error", err)
	}

	snapshot, err := s.FetchBalance(ctx, session)
	if err != nil {
		return err
	}
	s.logger.Info("balance checked", "available", snapshot.Available, "required", s.policy.RequiredBalance())

	if !snapshot.Sufficient(s.policy) {
		s.logger.Info("insufficient balance for transfer", "shortfall", snapshot.Shortfall(s.policy))
		return fmt.Errorf("%w: need %.6f more Pi", domain.ErrInsufficientBalance, snapshot.Shortfall(s.policy))
	}

	return s.ExecuteTransfer(ctx, session, s.policy.AllowedRecipient)
}

func paymentTxID(payment *piclient.Payment) string {
	if payment.Transaction == nil {
		return ""
	}
	return payment.Transaction.TxID
}
