// Package twitchapi contains the small slice of the Twitch Helix API the
// Twitch feed needs: stream (live) status, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const helixBase = "https://api.twitch.tv"

const maxAttempts = 3

// HelixClient calls Helix with an app token.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// Backoff is the wait before retrying a 429 or 5xx answer.
	Backoff time.Duration
}

// Stream is one live stream entry.
type Stream struct {
	ID        string    `json:"id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetStreams lists the live streams of login. An empty result means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, errors.New("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/helix/streams?user_login="+login, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// IsLive reports whether login currently has a live stream.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return false, err
	}
	for _, s := range streams {
		if s.Type == "" || s.Type == "live" {
			return true, nil
		}
	}
	return false, nil
}

// get performs a Helix GET. A 401 invalidates the cached token and retries
// with a fresh one; 429 and 5xx answers are retried after Backoff.
func (hc *HelixClient) get(ctx context.Context, path string, v any) error {
	backoff := hc.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		status := resp.Status
		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(v)
			closeBody(resp)
			return err
		case resp.StatusCode == http.StatusUnauthorized:
			closeBody(resp)
			hc.AppTokenSource.Invalidate()
			lastErr = fmt.Errorf("helix %s: %s", path, status)
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			closeBody(resp)
			lastErr = fmt.Errorf("helix %s: %s", path, status)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			closeBody(resp)
			return fmt.Errorf("helix %s: %s: %s", path, status, string(b))
		}
	}
	return lastErr
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
