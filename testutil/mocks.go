package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// MockServer routes requests by exact path to registered handlers and
// answers 404 otherwise.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockServer starts a MockServer that is closed with the test.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// KickMessage is one chat message served by MockKickServer.
type KickMessage struct {
	ID        string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// MockKickServer mocks the public Kick channel endpoints.
type MockKickServer struct{ *MockServer }

// NewMockKickServer creates a new mock Kick server.
func NewMockKickServer(t *testing.T) *MockKickServer {
	t.Helper()
	return &MockKickServer{NewMockServer(t)}
}

// MockMessages serves msgs from /api/v2/channels/{channelID}/messages.
func (m *MockKickServer) MockMessages(channelID string, msgs []KickMessage) {
	m.Handlers["/api/v2/channels/"+channelID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		out := make([]map[string]any, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, map[string]any{
				"id":         msg.ID,
				"content":    msg.Content,
				"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
				"sender":     map[string]any{"username": msg.Sender},
			})
		}
		writeJSON(w, map[string]any{"data": map[string]any{"messages": out}})
	}
}

// MockLive serves the live flag from /api/v1/channels/{slug}.
func (m *MockKickServer) MockLive(slug string, live bool) {
	m.Handlers["/api/v1/channels/"+slug] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"slug": slug, "livestream": map[string]any{"is_live": live}})
	}
}

// MockStatus makes path answer with status and an empty body.
func (m *MockServer) MockStatus(path string, status int) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

// MockTwitchServer mocks the Twitch Helix and token endpoints.
type MockTwitchServer struct{ *MockServer }

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	return &MockTwitchServer{NewMockServer(t)}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}
