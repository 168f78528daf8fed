package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatroll/testutil"
)

func newTestClient(t *testing.T, srv *testutil.MockTwitchServer, token string) *HelixClient {
	t.Helper()
	rewrite := &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: srv.URL}}
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: rewrite}
	ts.SetToken(token, time.Now().Add(time.Hour))
	return &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: rewrite, Backoff: time.Millisecond}
}

func TestHelixClient_GetStreams(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_login"); got != "livechannel" {
			t.Errorf("user_login=%q want livechannel", got)
		}
		if got := r.Header.Get("Client-Id"); got != "test-client-id" {
			t.Errorf("Client-Id=%q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"title": "Live Now", "type": "live", "started_at": "2024-10-15T14:30:00Z"}},
		})
	}
	client := newTestClient(t, srv, "test-token")

	streams, err := client.GetStreams(context.Background(), "livechannel")
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 || streams[0].Title != "Live Now" {
		t.Fatalf("streams = %+v", streams)
	}
	if want := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC); !streams[0].StartedAt.Equal(want) {
		t.Errorf("started_at = %v", streams[0].StartedAt)
	}
}

func TestHelixClient_IsLive(t *testing.T) {
	tests := []struct {
		name    string
		streams []map[string]any
		want    bool
	}{
		{"offline", nil, false},
		{"live", []map[string]any{{"type": "live"}}, true},
		{"rerun only", []map[string]any{{"type": "rerun"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockTwitchServer(t)
			srv.MockStreamsResponse(tt.streams)
			got, err := newTestClient(t, srv, "tok").IsLive(context.Background(), "chan")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("IsLive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHelixClient_401RefreshRetry(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.MockOAuthTokenResponse("fresh-token", 3600)
	attempts := 0
	srv.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"type": "live"}}})
	}
	client := newTestClient(t, srv, "stale-token")

	live, err := client.IsLive(context.Background(), "chan")
	if err != nil || !live {
		t.Fatalf("IsLive = %v, %v", live, err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestHelixClient_RetriesServerErrors(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	attempts := 0
	srv.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		attempts++
		switch attempts {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		}
	}
	streams, err := newTestClient(t, srv, "tok").GetStreams(context.Background(), "chan")
	if err != nil {
		t.Fatalf("GetStreams() unexpected error after retries = %v", err)
	}
	if len(streams) != 0 || attempts != 3 {
		t.Errorf("streams=%d attempts=%d", len(streams), attempts)
	}
}

func TestHelixClient_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.MockStatus("/helix/streams", http.StatusServiceUnavailable)
	_, err := newTestClient(t, srv, "tok").GetStreams(context.Background(), "chan")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want 503", err)
	}
}

func TestHelixClient_ClientErrorNotRetried(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	attempts := 0
	srv.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}
	if _, err := newTestClient(t, srv, "tok").GetStreams(context.Background(), "chan"); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if _, err := newTestClient(t, srv, "tok").GetStreams(context.Background(), ""); err == nil {
		t.Error("expected error for empty login")
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := strings.TrimPrefix(t.host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
