package server

import (
	"net/http"
	"time"

	"github.com/onnwee/chatroll/cycle"
)

type rollInfoResponse struct {
	NextRollTime  time.Time   `json:"nextRollTime"`
	TimeUntilRoll int64       `json:"timeUntilRoll"`
	LatestRoll    *cycle.Draw `json:"latestRoll"`
}

// HandleRollInfo returns the next draw time and the latest draw, if any.
func (h *Handlers) HandleRollInfo(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	latest, err := h.store.LatestDraw(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s := h.engine.Schedule()
	now := h.now()
	writeJSON(w, http.StatusOK, rollInfoResponse{
		NextRollTime:  s.NextBoundary(now).UTC(),
		TimeUntilRoll: s.TimeLeft(now).Milliseconds(),
		LatestRoll:    latest,
	})
}

// HandleRollHistory returns the most recent draws, newest first.
func (h *Handlers) HandleRollHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	draws, err := h.store.ListDraws(r.Context(), rollHistorySize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if draws == nil {
		draws = []cycle.Draw{}
	}
	writeJSON(w, http.StatusOK, draws)
}

type seedResponse struct {
	Commitment   string    `json:"commitment"`
	PreviousSeed string    `json:"previousSeed,omitempty"`
	Nonce        uint64    `json:"nonce"`
	NextRollTime time.Time `json:"nextRollTime"`
}

// HandleCurrentSeed publishes the commitment of the active server seed and
// reveals the seed it replaced. The active seed itself is never exposed.
func (h *Handlers) HandleCurrentSeed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	st := h.engine.Status()
	writeJSON(w, http.StatusOK, seedResponse{
		Commitment:   st.Commitment,
		PreviousSeed: st.PreviousSeed,
		Nonce:        st.Nonce,
		NextRollTime: st.NextBoundary.UTC(),
	})
}
