package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/chatroll/spam"
	"github.com/onnwee/chatroll/telemetry"
)

const tracerName = "cycle"

// Tick is one iteration of the poll loop:
//  1. close the cycle if its boundary has passed (within grace) and stop;
//  2. stop if the channel is offline;
//  3. fetch, dedupe against the cursor, filter and count;
//  4. advance the cursor to the last message seen.
//
// Feed failures end the tick without touching any state.
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { telemetry.ObserveTick(time.Since(start)) }()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "cycle.tick")
	defer span.End()

	now := e.now()
	if n, at, due := e.pending(now); due {
		if now.Sub(at) <= e.opts.Grace {
			if _, err := e.closeCycle(ctx, n, at, TriggerPoll); err != nil && !errors.Is(err, ErrCloseInFlight) {
				telemetry.RecordError(span, err)
				e.logger.Error("cycle close failed", slog.Int64("cycle", n), slog.Any("err", err))
			}
		} else {
			e.warnOverdue(n, at, now)
		}
		return
	}

	liveCtx, cancel := context.WithTimeout(ctx, e.opts.IOTimeout)
	live, err := e.feed.IsLive(liveCtx)
	cancel()
	if err != nil {
		telemetry.FeedFailed("live")
		e.logger.Warn("live status check failed", slog.Any("err", err))
		return
	}
	if !live {
		e.logger.Debug("channel offline; skipping message polling")
		return
	}

	e.mu.Lock()
	since := e.cursor
	if since.IsZero() {
		since = e.tail
	}
	e.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.IOTimeout)
	msgs, err := e.feed.FetchMessages(fetchCtx, since)
	cancel()
	if err != nil {
		telemetry.FeedFailed("fetch")
		telemetry.RecordError(span, err)
		e.logger.Warn("message fetch failed", slog.Any("err", err))
		return
	}
	e.ingest(ctx, since, msgs)
	telemetry.SetSpanSuccess(span)
}

// ingest applies one fetched batch. Ingestion and closes never overlap; a
// batch fetched before a close that beat it counts toward the new cycle.
func (e *Engine) ingest(ctx context.Context, since Cursor, msgs []Message) {
	fresh := selectNew(msgs, since)
	if len(fresh) == 0 {
		return
	}
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	var last *Message
	var accepted int
	for i := range fresh {
		if ctx.Err() != nil {
			break
		}
		m := fresh[i]
		last = &fresh[i]

		sender := strings.TrimSpace(m.Sender)
		if sender == "" || m.Content == "" || m.CreatedAt.IsZero() {
			telemetry.MessageProcessed("malformed")
			e.logger.Debug("skipping malformed message", slog.String("id", m.ID))
			continue
		}
		if e.isIgnored(sender) {
			telemetry.MessageProcessed("ignored")
			continue
		}
		if reason := e.filter.Check(sender, m.Content, m.CreatedAt); reason != spam.ReasonNone {
			telemetry.MessageProcessed("spam")
			e.logger.Debug("spam filtered", slog.String("user", sender), slog.String("reason", string(reason)))
			continue
		}
		incCtx, cancel := context.WithTimeout(ctx, e.opts.IOTimeout)
		err := e.store.Increment(incCtx, sender)
		cancel()
		if err != nil {
			telemetry.MessageProcessed("error")
			e.logger.Warn("increment failed", slog.String("user", sender), slog.Any("err", err))
			continue
		}
		telemetry.MessageProcessed("accepted")
		accepted++
	}
	if last == nil {
		return
	}

	e.mu.Lock()
	e.cursor = Cursor{ID: last.ID, CreatedAt: last.CreatedAt}
	e.tail = Cursor{}
	e.mu.Unlock()
	e.logger.Debug("batch ingested", slog.Int("seen", len(fresh)), slog.Int("accepted", accepted))
}

// selectNew orders msgs by creation time and drops everything at or before
// the cursor. When the cursor id is present in the batch the cut is made
// right after it; otherwise only messages strictly newer than the cursor
// timestamp are kept.
func selectNew(msgs []Message, since Cursor) []Message {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if since.IsZero() {
		return sorted
	}
	if since.ID != "" {
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i].ID == since.ID {
				return sorted[i+1:]
			}
		}
	}
	out := sorted[:0:0]
	for _, m := range sorted {
		if m.CreatedAt.After(since.CreatedAt) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) isIgnored(sender string) bool {
	_, ok := e.ignored[strings.ToLower(sender)]
	return ok
}

func (e *Engine) warnOverdue(n int64, at, now time.Time) {
	e.mu.Lock()
	first := e.warnedFor != n
	e.warnedFor = n
	e.mu.Unlock()
	if first {
		e.logger.Warn("boundary passed beyond grace window; waiting for reconciler",
			slog.Int64("cycle", n), slog.Time("boundary", at), slog.Duration("late_by", now.Sub(at)))
	}
}

// BootstrapCursor points an unset cursor at the newest message currently in
// the feed, so backlog from before startup is not counted.
func (e *Engine) BootstrapCursor(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.IOTimeout)
	defer cancel()
	msgs, err := e.feed.FetchMessages(fetchCtx, Cursor{})
	if err != nil {
		return err
	}
	sorted := selectNew(msgs, Cursor{})
	if len(sorted) == 0 {
		return nil
	}
	newest := sorted[len(sorted)-1]
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor.IsZero() {
		e.cursor = Cursor{ID: newest.ID, CreatedAt: newest.CreatedAt}
		e.logger.Info("message cursor bootstrapped", slog.String("id", newest.ID))
	}
	return nil
}
