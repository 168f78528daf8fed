package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

var errNotReady = errors.New("store unavailable")

// HandleHealthz answers liveness probes. It does not touch dependencies.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error {
			if h.ping == nil {
				return nil
			}
			if err := h.ping(ctx); err != nil {
				return fmt.Errorf("%w: %v", errNotReady, err)
			}
			return nil
		}},
		{"fairness", func() error {
			if h.engine.Status().Commitment == "" {
				return errors.New("no server seed commitment")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the engine's derived state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}
