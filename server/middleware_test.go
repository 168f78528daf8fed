package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chatroll/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		cfg            authConfig
		reqUser        string
		reqPass        string
		reqToken       string
		expectedStatus int
	}{
		{"no auth configured - allows request", authConfig{}, "", "", "", http.StatusOK},
		{"valid basic auth", authConfig{adminUsername: "admin", adminPassword: "s3cret", enabled: true}, "admin", "s3cret", "", http.StatusOK},
		{"invalid basic auth", authConfig{adminUsername: "admin", adminPassword: "s3cret", enabled: true}, "admin", "nope", "", http.StatusUnauthorized},
		{"missing credentials", authConfig{adminUsername: "admin", adminPassword: "s3cret", enabled: true}, "", "", "", http.StatusUnauthorized},
		{"valid token", authConfig{adminToken: "tok", enabled: true}, "", "", "tok", http.StatusOK},
		{"invalid token", authConfig{adminToken: "tok", enabled: true}, "", "", "bad", http.StatusUnauthorized},
		{"token wins over bad basic", authConfig{adminUsername: "admin", adminPassword: "s3cret", adminToken: "tok", enabled: true}, "x", "y", "tok", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			handler := adminAuth(okHandler(), &cfg)

			req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
			if tt.reqUser != "" || tt.reqPass != "" {
				req.SetBasicAuth(tt.reqUser, tt.reqPass)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		enabled bool
	}{
		{"nothing set", config.Config{}, false},
		{"username only", config.Config{AdminUsername: "admin"}, false},
		{"basic pair", config.Config{AdminUsername: "admin", AdminPassword: "pw"}, true},
		{"token", config.Config{AdminToken: "tok"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loadAuthConfig(&tt.cfg).enabled; got != tt.enabled {
				t.Errorf("enabled = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 100 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("a different IP has its own budget")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(context.Background(), &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 50; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := &ipRateLimiter{visitors: map[string]*visitor{}, cfg: &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Millisecond}}
	limiter.visitors["10.0.0.1"] = &visitor{lastClean: time.Now().Add(-time.Second)}
	limiter.visitors["10.0.0.2"] = &visitor{lastClean: time.Now()}
	limiter.cleanup()
	if _, ok := limiter.visitors["10.0.0.1"]; ok {
		t.Error("stale visitor should be removed")
	}
	if _, ok := limiter.visitors["10.0.0.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote    string
		forwarded string
		want      string
	}{
		{"192.168.1.1:1234", "", "192.168.1.1"},
		{"192.168.1.1", "", "192.168.1.1"},
		{"[2001:db8::1]:443", "", "2001:db8::1"},
		{"2001:db8::1", "", "2001:db8::1"},
		{"10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})
	handler := rateLimitMiddleware(okHandler(), limiter)

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
		req.RemoteAddr = "192.168.1.1:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q, want 60", rr.Header().Get("Retry-After"))
		}
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
	}{
		{"permissive mode allows all origins", true, nil, "https://example.com", "*"},
		{"restricted mode with matching origin", false, []string{"https://example.com"}, "https://example.com", "https://example.com"},
		{"restricted mode with non-matching origin", false, []string{"https://example.com"}, "https://evil.com", ""},
		{"wildcard subdomain matching", false, []string{"*.example.com"}, "https://app.example.com", "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := withCORSConfig(okHandler(), &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowedOrigins})
			req := httptest.NewRequest(http.MethodGet, "/leaderboard", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
			if !tt.permissive && tt.expectAllowOrigin != "" && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true for restricted mode")
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/admin/roll-winner", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
}

func TestLoadCORSConfig(t *testing.T) {
	no := false
	cfg := &config.Config{Env: "dev", CORSPermissive: &no, CORSAllowedOrigins: []string{" https://a.example ", "", "https://b.example"}}
	got := loadCORSConfig(cfg)
	if got.permissive {
		t.Error("explicit CORS_PERMISSIVE=false should win over dev mode")
	}
	if len(got.allowedOrigins) != 2 || got.allowedOrigins[0] != "https://a.example" {
		t.Errorf("allowedOrigins = %q", got.allowedOrigins)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://example.com", "*.chatroll.tv"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://example.com", true},
		{"https://other.com", false},
		{"https://www.chatroll.tv", true},
		{"https://chatroll.tv", true},
		{"https://chatroll.tv.evil.com", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
