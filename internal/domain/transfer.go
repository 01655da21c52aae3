/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the entities used throughout the service's business
 * logic: the authenticated session, the immutable transfer policy, and
 * point-in-time balance snapshots.
 *
 * @notes
 * - Amounts are expressed in Pi as float64 because that is how the platform
 *   API reports them; the service never does arithmetic on them beyond the
 *   single required-balance comparison.
 * - TransferPolicy is constructed once at startup and passed by value; no
 *   component reads configuration ambiently.
 */

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Session holds the identity established by the first successful identity
// lookup. It is created once per run and never mutated afterwards.
type Session struct {
	UID           string
	Username      string
	WalletAddress string
}

// TransferPolicy is the immutable configuration for the one transfer this
// service is allowed to perform.
type TransferPolicy struct {
	Amount           float64   // Pi to transfer
	Fee              float64   // estimated transaction fee
	AllowedRecipient string    // the only wallet address funds may be sent to
	TargetTime       time.Time // absolute deadline for the transfer
}

// RequiredBalance is the available balance needed before a transfer attempt.
func (p TransferPolicy) RequiredBalance() float64 {
	return p.Amount + p.Fee
}

// ValidateRecipient rejects any destination that is not exactly the allowed
// address. The comparison is case-sensitive with no normalization. This is
// the service's sole safety invariant and must run before every payment
// creation.
func (p TransferPolicy) ValidateRecipient(recipient string) error {
	if recipient != p.AllowedRecipient {
		return fmt.Errorf("%w: %q is not the allowed address", ErrRecipientNotAllowed, recipient)
	}
	return nil
}

// BalanceSnapshot is a point-in-time read of available funds. Snapshots are
// never cached; every evaluation fetches a fresh one.
type BalanceSnapshot struct {
	Available float64
	FetchedAt time.Time
}

// Sufficient reports whether the snapshot covers the policy's required balance.
func (b BalanceSnapshot) Sufficient(p TransferPolicy) bool {
	return b.Available >= p.RequiredBalance()
}

// Shortfall is how much Pi is still missing, zero when funds are sufficient.
func (b BalanceSnapshot) Shortfall(p TransferPolicy) float64 {
	short := p.RequiredBalance() - b.Available
	if short < 0 {
		return 0
	}
	return short
}

// Sentinel errors for the distinct failure kinds callers branch on. Platform
// rejections and network failures are carried separately by the client layer.
var (
	// ErrRecipientNotAllowed marks a guard rejection; it is always fatal to
	// the attempt and is logged as a security-relevant event.
	ErrRecipientNotAllowed = errors.New("recipient is not the allowed address")
	// ErrInsufficientBalance means the balance gate blocked the attempt.
	ErrInsufficientBalance = errors.New("insufficient available balance")
	// ErrPaymentCancelled means the payment was cancelled by the user or the
	// platform; a new payment must be created to retry.
	ErrPaymentCancelled = errors.New("payment was cancelled")
	// ErrVerificationTimeout means status polling exhausted its attempts
	// without seeing the transaction verified.
	ErrVerificationTimeout = errors.New("payment verification timed out")
	// ErrAuthenticationFailed means the identity lookup failed.
	ErrAuthenticationFailed = errors.New("platform authentication failed")
)
