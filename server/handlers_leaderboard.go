package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/chatroll/chat"
	"github.com/onnwee/chatroll/engagement"
	"github.com/onnwee/chatroll/schedule"
)

// HandleLeaderboard returns the live ranking of the open cycle.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	top, err := h.store.Top(r.Context(), leaderboardSize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if top == nil {
		top = []engagement.Participant{}
	}
	writeJSON(w, http.StatusOK, top)
}

// HandlePreviousLeaderboard returns the most recent frozen snapshot.
func (h *Handlers) HandlePreviousLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := h.store.LatestSnapshot(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"entries":    []any{},
			"resetDate":  nil,
			"weekNumber": nil,
			"message":    "No previous leaderboard found",
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type timerResponse struct {
	TimeLeft  int64     `json:"timeLeft"`
	NextReset time.Time `json:"nextReset"`
	schedule.Countdown
}

// HandleTimer returns the countdown to the next boundary.
func (h *Handlers) HandleTimer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s := h.engine.Schedule()
	now := h.now()
	left := s.TimeLeft(now)
	writeJSON(w, http.StatusOK, timerResponse{
		TimeLeft:  left.Milliseconds(),
		NextReset: s.NextBoundary(now).UTC(),
		Countdown: schedule.Split(left),
	})
}

// HandleLiveStatus reports whether the streamer is live. Feeds that have
// not completed their first check answer with known=false.
func (h *Handlers) HandleLiveStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), liveCheckTimeout)
	defer cancel()
	live, err := h.feed.IsLive(ctx)
	switch {
	case errors.Is(err, chat.ErrLiveUnknown):
		writeJSON(w, http.StatusOK, map[string]any{"isLive": false, "known": false})
	case err != nil:
		writeError(w, r, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"isLive": live, "known": true})
	}
}
