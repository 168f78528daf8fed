// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatroll/cycle"
)

const (
	leaderboardSize  = 100
	rollHistorySize  = 10
	liveCheckTimeout = 5 * time.Second
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine *cycle.Engine
	store  cycle.Store
	feed   cycle.Feed
	// ping checks the backing store; nil means always ready.
	ping func(context.Context) error
	now  func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(engine *cycle.Engine, store cycle.Store, feed cycle.Feed, ping func(context.Context) error) *Handlers {
	return &Handlers{
		engine: engine,
		store:  store,
		feed:   feed,
		ping:   ping,
		now:    time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", slog.Any("err", err), slog.String("component", "http"))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err), slog.String("component", "http"))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
