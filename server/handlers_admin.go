package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatroll/telemetry"
)

const maxAdminBody = 64 << 10

type rollWinnerRequest struct {
	Winner    string     `json:"winner"`
	Prize     int64      `json:"prize"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// HandleAdminRollWinner records an operator-entered winner.
func (h *Handlers) HandleAdminRollWinner(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req rollWinnerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Winner == "" || req.Prize < 0 {
		http.Error(w, "winner is required and prize must not be negative", http.StatusBadRequest)
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	d, err := h.engine.RecordManualDraw(r.Context(), req.Winner, req.Prize, at)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("manual draw via admin", slog.String("winner", d.Winner), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "draw": d})
}

// HandleAdminReconcile runs the overdue-cycle check immediately.
func (h *Handlers) HandleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	closed, err := h.engine.CatchUpIfOverdue(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	st := h.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"closed":          closed,
		"lastClosedCycle": st.LastClosedCycle,
	})
}
