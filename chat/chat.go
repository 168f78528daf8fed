package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatroll/cycle"
)

// DefaultBufferSize is the number of recent messages kept per channel.
const DefaultBufferSize = 500

// ErrLiveUnknown is returned by IsLive until the first status check.
var ErrLiveUnknown = errors.New("chat: live status not known yet")

// Buffer is a bounded ring of recent chat messages.
type Buffer struct {
	mu   sync.Mutex
	ring []cycle.Message
	next int
	full bool

	live      bool
	liveKnown bool
}

var _ cycle.Feed = (*Buffer)(nil)

// NewBuffer returns a ring holding at most size messages.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{ring: make([]cycle.Message, size)}
}

// Push appends m, evicting the oldest message when the ring is full.
func (b *Buffer) Push(m cycle.Message) {
	b.mu.Lock()
	b.ring[b.next] = m
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// FetchMessages returns the buffered messages, oldest first.
func (b *Buffer) FetchMessages(context.Context, cycle.Cursor) ([]cycle.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]cycle.Message, b.next)
		copy(out, b.ring[:b.next])
		return out, nil
	}
	out := make([]cycle.Message, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out, nil
}

// IsLive returns the flag last published by SetLive.
func (b *Buffer) IsLive(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.liveKnown {
		return false, ErrLiveUnknown
	}
	return b.live, nil
}

// SetLive publishes the channel's live status.
func (b *Buffer) SetLive(live bool) {
	b.mu.Lock()
	b.live, b.liveKnown = live, true
	b.mu.Unlock()
}

func (b *Buffer) handlePrivmsg(msg twitch.PrivateMessage) {
	at := msg.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	b.Push(cycle.Message{ID: msg.ID, Sender: msg.User.Name, Content: msg.Message, CreatedAt: at})
}

// IRCConfig holds the bot credentials for Record.
type IRCConfig struct {
	Channel    string
	Username   string
	OAuthToken string
}

// Record connects to Twitch IRC, joins the channel and pushes every message
// into b until ctx is canceled.
func (b *Buffer) Record(ctx context.Context, cfg IRCConfig) error {
	if cfg.Channel == "" || cfg.Username == "" || cfg.OAuthToken == "" {
		return errors.New("chat: twitch irc credentials incomplete")
	}
	client := twitch.NewClient(cfg.Username, cfg.OAuthToken)
	client.OnPrivateMessage(b.handlePrivmsg)
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", cfg.Channel))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	client.Join(cfg.Channel)
	err := client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}
