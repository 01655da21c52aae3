/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's trigger
 * endpoint. Handlers parse incoming requests, run one check-and-transfer
 * cycle, and write the HTTP response. They act as the bridge between the web
 * layer and the workflow logic.
 *
 * @dependencies
 * - context, encoding/json, log/slog, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For the workflow and error kinds.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/piflow/transfer-service/internal/app"
	"github.com/piflow/transfer-service/internal/domain"
)

// lockRetryInterval is how often a waiting trigger re-checks the single
// transfer slot while another cycle is in flight.
const lockRetryInterval = 250 * time.Millisecond

// CycleRunnerFactory builds a check-and-transfer runner bound to the access
// token supplied by a trigger request.
type CycleRunnerFactory func(accessToken string) app.CycleRunner

// TransferHandlers holds the dependencies the trigger handlers use.
type TransferHandlers struct {
	newRunner CycleRunnerFactory
	lock      app.TriggerLock
	logger    *slog.Logger
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(newRunner CycleRunnerFactory, lock app.TriggerLock, logger *slog.Logger) *TransferHandlers {
	return &TransferHandlers{
		newRunner: newRunner,
		lock:      lock,
		logger:    logger,
	}
}

// transferRequest is the trigger payload.
type transferRequest struct {
	AccessToken string `json:"accessToken"`
}

// TransferHandler runs one synchronous check-and-transfer cycle for the
// supplied access token. Concurrent invocations are serialized through the
// trigger lock so at most one payment workflow is in flight at a time.
func (h *TransferHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.AccessToken) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No access token"})
		return
	}

	ctx := r.Context()
	if err := h.acquireSlot(ctx); err != nil {
		h.logger.Error("trigger could not acquire transfer slot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "transfer slot unavailable"})
		return
	}
	defer func() {
		// The request context may already be cancelled by the time the
		// cycle finishes; release with a fresh context so the slot is
		// never leaked.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.lock.Release(releaseCtx, app.TransferSlotKey); err != nil {
			h.logger.Warn("failed to release transfer slot", "error", err)
		}
	}()

	runner := h.newRunner(req.AccessToken)

	session, err := runner.Authenticate(ctx)
	if err != nil {
		h.logger.Error("trigger authentication failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
		return
	}

	if err := runner.CheckAndTransfer(ctx, session); err != nil {
		if isWorkflowFailure(err) {
			h.logger.Info("triggered transfer cycle did not complete", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
			return
		}
		h.logger.Error("triggered transfer cycle failed unexpectedly", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// acquireSlot waits for the single transfer slot, polling the lock until the
// request context is cancelled.
func (h *TransferHandlers) acquireSlot(ctx context.Context) error {
	for {
		acquired, err := h.lock.TryAcquire(ctx, app.TransferSlotKey)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if err := app.ContextSleep(ctx, lockRetryInterval); err != nil {
			return err
		}
	}
}

// isWorkflowFailure reports whether the cycle ended in one of the expected
// attempt-failure kinds, as opposed to an unexpected internal error.
func isWorkflowFailure(err error) bool {
	return app.IsAttemptFailure(err) || errors.Is(err, domain.ErrAuthenticationFailed)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
