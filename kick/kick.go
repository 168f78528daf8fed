// Package kick polls a Kick channel's public chat and live status over HTTP.
// Client implements cycle.Feed.
package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatroll/cycle"
	"github.com/onnwee/chatroll/telemetry"
)

// DefaultBaseURL is the public Kick site.
const DefaultBaseURL = "https://kick.com"

// The public endpoints reject requests without a browser-like agent.
const userAgent = "Mozilla/5.0"

// ErrStatus is wrapped by every non-2xx response error.
var ErrStatus = errors.New("kick: unexpected status")

// Client talks to the Kick channel endpoints.
type Client struct {
	BaseURL    string
	ChannelID  string
	Slug       string
	HTTPClient *http.Client
}

var _ cycle.Feed = (*Client)(nil)

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

type chatMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Sender    struct {
		Username string `json:"username"`
	} `json:"sender"`
}

// FetchMessages returns the channel's recent message window. The endpoint
// has no paging; the engine dedupes against its own cursor.
func (c *Client) FetchMessages(ctx context.Context, _ cycle.Cursor) ([]cycle.Message, error) {
	if c.ChannelID == "" {
		return nil, errors.New("kick: channel id empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "kick", "kick.fetch_messages", attribute.String("kick.channel_id", c.ChannelID))
	defer span.End()

	var body struct {
		Data struct {
			Messages []chatMessage `json:"messages"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/v2/channels/"+url.PathEscape(c.ChannelID)+"/messages", &body); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	out := make([]cycle.Message, 0, len(body.Data.Messages))
	for _, m := range body.Data.Messages {
		// An unparseable timestamp leaves CreatedAt zero; the engine skips the
		// message as malformed and keeps the rest of the batch.
		at, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
		if err != nil {
			slog.Debug("kick message has bad created_at", slog.String("component", "kick"), slog.String("id", m.ID), slog.Any("err", err))
			at = time.Time{}
		}
		out = append(out, cycle.Message{ID: m.ID, Sender: m.Sender.Username, Content: m.Content, CreatedAt: at})
	}
	span.SetAttributes(attribute.Int("kick.messages", len(out)))
	telemetry.SetSpanSuccess(span)
	return out, nil
}

// IsLive reports livestream.is_live for the channel slug. A channel with no
// livestream object is offline.
func (c *Client) IsLive(ctx context.Context) (bool, error) {
	if c.Slug == "" {
		return false, errors.New("kick: channel slug empty")
	}
	var body struct {
		Livestream *struct {
			IsLive bool `json:"is_live"`
		} `json:"livestream"`
	}
	if err := c.getJSON(ctx, "/api/v1/channels/"+url.PathEscape(c.Slug), &body); err != nil {
		return false, err
	}
	return body.Livestream != nil && body.Livestream.IsLive, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrStatus, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("kick: decode %s: %w", path, err)
	}
	return nil
}
