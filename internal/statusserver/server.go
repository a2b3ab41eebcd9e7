// Package statusserver exposes a minimal HTTP health/progress surface
// over a running Generator Orchestrator (C6), adapted from the teacher's
// internal/dashboard server: the same chi middleware stack and always-
// public /health convention, stripped of the HTML dashboard templates
// and auth token (this surface carries no position data, so there is
// nothing here worth gating behind a token).
package statusserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/generator"
)

// New builds an *http.Server exposing /health and /status for the given
// orchestrator. It does not call ListenAndServe; the caller owns the
// server's lifecycle (matching the teacher's dashboard.Server.Start /
// Shutdown split).
func New(addr string, orch *generator.Orchestrator, logger *logrus.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orch.Status()); err != nil {
			logger.WithError(err).Error("statusserver: failed to encode status")
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
