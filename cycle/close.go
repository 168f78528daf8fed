package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatroll/fairness"
	"github.com/onnwee/chatroll/telemetry"
)

const closeTimeoutFactor = 4

// Trigger names what asked for a cycle close.
type Trigger string

const (
	TriggerPoll      Trigger = "poll"
	TriggerReconcile Trigger = "reconcile"
)

// CatchUpIfOverdue closes the most recent boundary if it has not been closed
// yet. Missed intermediate cycles collapse into this one close. A second call
// right after a successful close is a no-op. It reports whether a close ran.
func (e *Engine) CatchUpIfOverdue(ctx context.Context) (bool, error) {
	n, at, due := e.pending(e.now())
	if !due {
		return false, nil
	}
	e.logger.Info("overdue cycle detected", slog.Int64("cycle", n), slog.Time("boundary", at))
	closed, err := e.closeCycle(ctx, n, at, TriggerReconcile)
	if errors.Is(err, ErrCloseInFlight) {
		return false, nil
	}
	return closed, err
}

// closeCycle is the executor. Only one run may be in flight; a concurrent
// trigger gets ErrCloseInFlight. The draw uses the ranking that is frozen
// into the snapshot, before the participants are wiped.
func (e *Engine) closeCycle(ctx context.Context, n int64, boundary time.Time, trigger Trigger) (bool, error) {
	if !e.guard.TryAcquire(1) {
		telemetry.CloseDropped(string(trigger))
		e.logger.Debug("cycle close already running; dropping trigger", slog.String("trigger", string(trigger)))
		return false, ErrCloseInFlight
	}
	defer e.guard.Release(1)
	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, closeTimeoutFactor*e.opts.IOTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "cycle.close",
		attribute.Int64("cycle.index", n),
		attribute.String("cycle.trigger", string(trigger)),
	)
	defer span.End()
	start := time.Now()

	e.mu.Lock()
	already := e.hasClosed && n <= e.lastClosed
	e.mu.Unlock()
	if already {
		return false, nil
	}

	ranking, err := e.store.Top(ctx, e.opts.SnapshotSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("read ranking: %w", err)
	}

	closedAt := e.now()
	closure := Closure{CycleIndex: n, Boundary: boundary, ClosedAt: closedAt}
	if len(ranking) > 0 {
		entries := make([]SnapshotEntry, len(ranking))
		for i, p := range ranking {
			entries[i] = SnapshotEntry{Identity: p.Identity, Count: p.Count, Rank: i + 1}
		}
		closure.Snapshot = &Snapshot{CycleIndex: n, ResetAt: closedAt, Entries: entries}
	}

	prev := e.fair.Snapshot()
	pool := ranking
	if len(pool) > e.opts.DrawPoolSize {
		pool = pool[:e.opts.DrawPoolSize]
	}
	if len(pool) > 0 {
		res, err := e.fair.Draw(strconv.FormatInt(boundary.UnixMilli(), 10), len(pool))
		if err != nil {
			e.restoreFairness(prev)
			telemetry.RecordError(span, err)
			return false, fmt.Errorf("draw for cycle %d: %w", n, err)
		}
		idx := n
		closure.Draw = &Draw{
			ID:         uuid.NewString(),
			Winner:     pool[res.Index].Identity,
			Prize:      e.opts.Prize,
			Timestamp:  closedAt,
			ServerSeed: res.ServerSeed,
			ClientSeed: res.ClientSeed,
			Nonce:      res.Nonce,
			Hash:       res.Hash,
			CycleIndex: &idx,
			Candidates: len(pool),
		}
	}
	if err := e.fair.Rotate(); err != nil {
		e.restoreFairness(prev)
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("rotate server seed: %w", err)
	}
	closure.Fairness = e.fair.Snapshot()

	err = e.store.CloseCycle(ctx, closure)
	switch {
	case errors.Is(err, ErrAlreadyClosed):
		// Another instance closed it first; adopt the persisted seed.
		e.adoptFairness(ctx, prev)
		e.markClosed(n)
		e.logger.Info("cycle already closed elsewhere", slog.Int64("cycle", n))
		return false, nil
	case err != nil:
		e.restoreFairness(prev)
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("persist cycle %d: %w", n, err)
	}

	e.markClosed(n)
	telemetry.CycleClosed(string(trigger), closure.Outcome(), time.Since(start))
	telemetry.SetSpanSuccess(span)

	attrs := []any{
		slog.Int64("cycle", n),
		slog.String("trigger", string(trigger)),
		slog.Time("boundary", boundary),
		slog.Int("ranked", len(ranking)),
		slog.String("outcome", closure.Outcome()),
		slog.String("next_commitment", fairness.Commitment(closure.Fairness.ServerSeed)),
	}
	if closure.Draw != nil {
		attrs = append(attrs, slog.String("winner", closure.Draw.Winner), slog.Int("candidates", closure.Draw.Candidates))
	}
	e.logger.Info("cycle closed", attrs...)
	return true, nil
}

// markClosed records n as closed and clears per-cycle ingestion state.
func (e *Engine) markClosed(n int64) {
	e.mu.Lock()
	e.lastClosed = n
	e.hasClosed = true
	if !e.cursor.IsZero() {
		e.tail = e.cursor
	}
	e.cursor = Cursor{}
	e.mu.Unlock()
	e.filter.Reset()
}

// adoptFairness loads the state persisted by the instance that won the close.
// When it cannot be read or is invalid, prev is restored so the engine never
// keeps a rotated seed that was not persisted.
func (e *Engine) adoptFairness(ctx context.Context, prev fairness.Snapshot) {
	snap, ok, err := e.store.LoadFairness(ctx)
	if err == nil && !ok {
		err = errors.New("no persisted fairness state")
	}
	if err == nil {
		err = e.fair.Load(snap)
	}
	if err != nil {
		e.logger.Error("adopt persisted fairness state failed; keeping previous seed", slog.Any("err", err))
		e.restoreFairness(prev)
	}
}

func (e *Engine) restoreFairness(prev fairness.Snapshot) {
	if err := e.fair.Load(prev); err != nil {
		e.logger.Error("restore fairness state failed", slog.Any("err", err))
	}
}

// RecordManualDraw stores an operator-entered winner. It does not consume
// the fairness state.
func (e *Engine) RecordManualDraw(ctx context.Context, winner string, prize int64, at time.Time) (Draw, error) {
	if winner == "" {
		return Draw{}, errors.New("winner is required")
	}
	if prize < 0 {
		return Draw{}, errors.New("prize must not be negative")
	}
	if at.IsZero() {
		at = e.now()
	}
	d := Draw{
		ID:         uuid.NewString(),
		Winner:     winner,
		Prize:      prize,
		Timestamp:  at,
		ServerSeed: ManualSeed,
		ClientSeed: ManualSeed,
		Hash:       ManualSeed,
		Manual:     true,
	}
	if err := e.store.InsertDraw(ctx, d); err != nil {
		return Draw{}, fmt.Errorf("insert manual draw: %w", err)
	}
	e.logger.Info("manual draw recorded", slog.String("winner", winner), slog.Int64("prize", prize))
	return d, nil
}
