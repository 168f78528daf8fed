package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/chatroll/fairness"
	"github.com/onnwee/chatroll/schedule"
	"github.com/onnwee/chatroll/spam"
)

// Options tunes an Engine. Zero values fall back to the defaults below.
type Options struct {
	Schedule schedule.Schedule
	// Grace is how far past a boundary the poll loop still closes the cycle
	// itself. Later than that the reconciler takes over.
	Grace time.Duration
	// IOTimeout bounds every feed and store call made by a tick.
	IOTimeout time.Duration
	// DrawPoolSize is the number of top participants eligible for the draw.
	DrawPoolSize int
	// SnapshotSize is the ranking depth frozen into history.
	SnapshotSize int
	Prize        int64
	IgnoredUsers []string
	// Now overrides the clock in tests.
	Now func() time.Time
}

const (
	DefaultGrace        = 60 * time.Second
	DefaultIOTimeout    = 5 * time.Second
	DefaultDrawPoolSize = 15
	DefaultSnapshotSize = 100
	DefaultPrize        = 10
)

// DefaultIgnoredUsers are known bot senders on the default feed.
var DefaultIgnoredUsers = []string{"BotRix", "KickBot"}

func (o *Options) applyDefaults() {
	if o.Schedule.Period <= 0 {
		o.Schedule = schedule.Default()
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.DrawPoolSize <= 0 {
		o.DrawPoolSize = DefaultDrawPoolSize
	}
	if o.SnapshotSize <= 0 {
		o.SnapshotSize = DefaultSnapshotSize
	}
	if o.SnapshotSize < o.DrawPoolSize {
		o.SnapshotSize = o.DrawPoolSize
	}
	if o.Prize <= 0 {
		o.Prize = DefaultPrize
	}
	if o.IgnoredUsers == nil {
		o.IgnoredUsers = DefaultIgnoredUsers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine owns the leaderboard state and drives ingestion and cycle closes.
type Engine struct {
	opts    Options
	store   Store
	feed    Feed
	filter  *spam.Filter
	fair    *fairness.State
	guard   *semaphore.Weighted
	ignored map[string]struct{}
	logger  *slog.Logger

	// batchMu serializes ingestion with cycle closes so that no increment
	// lands between the ranking read and the wipe.
	batchMu sync.Mutex

	mu         sync.Mutex
	cursor     Cursor
	lastClosed int64
	hasClosed  bool
	// tail is the last message seen before the cursor was cleared by a
	// close. It drops replays of the prior cycle until the cursor moves.
	tail      Cursor
	warnedFor int64
}

// New builds an Engine, loading the last closed cycle and the fairness state
// from the store. A fresh fairness state is generated and persisted when none
// exists yet.
func New(ctx context.Context, store Store, feed Feed, filter *spam.Filter, opts Options) (*Engine, error) {
	opts.applyDefaults()
	if err := opts.Schedule.Validate(); err != nil {
		return nil, err
	}
	if filter == nil {
		f, err := spam.New(spam.DefaultHistorySize)
		if err != nil {
			return nil, err
		}
		filter = f
	}
	e := &Engine{
		opts:      opts,
		store:     store,
		feed:      feed,
		filter:    filter,
		guard:     semaphore.NewWeighted(1),
		ignored:   make(map[string]struct{}, len(opts.IgnoredUsers)),
		logger:    slog.Default().With(slog.String("component", "cycle")),
		warnedFor: -1,
	}
	for _, u := range opts.IgnoredUsers {
		e.ignored[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}

	idx, ok, err := store.LastClosedCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last closed cycle: %w", err)
	}
	e.lastClosed, e.hasClosed = idx, ok

	snap, ok, err := store.LoadFairness(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fairness state: %w", err)
	}
	if ok {
		if e.fair, err = fairness.Restore(snap); err != nil {
			return nil, err
		}
	} else {
		if e.fair, err = fairness.NewState(); err != nil {
			return nil, err
		}
		if err := store.SaveFairness(ctx, e.fair.Snapshot()); err != nil {
			return nil, fmt.Errorf("persist initial fairness state: %w", err)
		}
		e.logger.Info("generated initial server seed", slog.String("commitment", e.fair.Commitment()))
	}
	return e, nil
}

func (e *Engine) now() time.Time { return e.opts.Now() }

// Schedule returns the boundary schedule the engine runs on.
func (e *Engine) Schedule() schedule.Schedule { return e.opts.Schedule }

// pending returns the boundary that has passed without being closed.
func (e *Engine) pending(now time.Time) (n int64, at time.Time, due bool) {
	n, at, ok := e.opts.Schedule.LastBoundary(now)
	if !ok {
		return 0, time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasClosed && n <= e.lastClosed {
		return 0, time.Time{}, false
	}
	return n, at, true
}

// Status is a read-only view for the HTTP surface.
type Status struct {
	NextBoundary    time.Time     `json:"nextBoundary"`
	TimeLeft        time.Duration `json:"timeLeft"`
	LastClosedCycle *int64        `json:"lastClosedCycle"`
	Cursor          Cursor        `json:"cursor"`
	Commitment      string        `json:"commitment"`
	PreviousSeed    string        `json:"previousSeed,omitempty"`
	Nonce           uint64        `json:"nonce"`
	SpamHistory     int           `json:"spamHistory"`
}

// Status returns the current derived view.
func (e *Engine) Status() Status {
	now := e.now()
	snap := e.fair.Snapshot()
	st := Status{
		NextBoundary: e.opts.Schedule.NextBoundary(now),
		TimeLeft:     e.opts.Schedule.TimeLeft(now),
		Commitment:   fairness.Commitment(snap.ServerSeed),
		PreviousSeed: snap.PreviousSeed,
		Nonce:        snap.Nonce,
		SpamHistory:  e.filter.Len(),
	}
	e.mu.Lock()
	st.Cursor = e.cursor
	if e.hasClosed {
		v := e.lastClosed
		st.LastClosedCycle = &v
	}
	e.mu.Unlock()
	return st
}

// Cursor returns the current message cursor.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// StartPollLoop runs Tick every interval until ctx is canceled.
func (e *Engine) StartPollLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info("poll loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("poll loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// StartReconciler runs CatchUpIfOverdue immediately and then every interval
// until ctx is canceled.
func (e *Engine) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	e.reconcileLogged(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileLogged(ctx)
		}
	}
}

func (e *Engine) reconcileLogged(ctx context.Context) {
	if _, err := e.CatchUpIfOverdue(ctx); err != nil {
		e.logger.Warn("reconcile failed", slog.Any("err", err))
	}
}
