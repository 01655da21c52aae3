/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the
 * trigger endpoint, associates it with its handler, and applies standard
 * middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TransferRoutes creates and returns the router for the trigger endpoint.
func TransferRoutes(h *TransferHandlers) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts. The
	// timeout must cover a full workflow invocation, which can poll for
	// verification for up to ten minutes.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Minute))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/transfer", h.TransferHandler)

	return r
}
