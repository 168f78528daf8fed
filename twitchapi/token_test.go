package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chatroll/testutil"
)

func tokenServer(t *testing.T, tokens ...string) (*testutil.MockTwitchServer, *atomic.Int32) {
	t.Helper()
	srv := testutil.NewMockTwitchServer(t)
	var calls atomic.Int32
	srv.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		tok := tokens[len(tokens)-1]
		if n <= len(tokens) {
			tok = tokens[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "expires_in": 3600, "token_type": "bearer"})
	}
	return srv, &calls
}

func TestTokenSource_GetCached(t *testing.T) {
	srv, calls := tokenServer(t, "test-token-123")
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret",
		HTTPClient: &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: srv.URL}}}

	for i := 0; i < 3; i++ {
		tok, err := ts.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if tok != "test-token-123" {
			t.Errorf("Get() = %s, want test-token-123", tok)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 API call, got %d", n)
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	srv, calls := tokenServer(t, "first", "second")
	ts := &TokenSource{ClientID: "c", ClientSecret: "s",
		HTTPClient: &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: srv.URL}}}

	if tok, _ := ts.Get(context.Background()); tok != "first" {
		t.Fatalf("first Get = %q", tok)
	}
	ts.Invalidate()
	if tok, _ := ts.Get(context.Background()); tok != "second" {
		t.Errorf("Get after Invalidate = %q, want second", tok)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestTokenSource_SetTokenSkipsFetch(t *testing.T) {
	ts := &TokenSource{}
	ts.SetToken("seeded", time.Now().Add(time.Hour))
	tok, err := ts.Get(context.Background())
	if err != nil || tok != "seeded" {
		t.Errorf("Get() = %q, %v", tok, err)
	}

	ts.SetToken("nearly-expired", time.Now().Add(10*time.Second))
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("expected refresh (and missing credentials error) for a token inside the expiry buffer")
	}
}

func TestTokenSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			},
			want: "twitch token request failed",
		},
		{
			name: "empty token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "", "expires_in": 3600})
			},
			want: "empty access_token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockTwitchServer(t)
			srv.Handlers["/oauth2/token"] = tt.handler
			ts := &TokenSource{ClientID: "c", ClientSecret: "s",
				HTTPClient: &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: srv.URL}}}
			_, err := ts.Get(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Get() error = %v, want %q", err, tt.want)
			}
		})
	}

	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("missing credentials error = %v", err)
	}
}
