package chat

import (
	"context"
	"log/slog"
	"time"
)

// StreamChecker reports whether a Twitch login is live.
type StreamChecker interface {
	IsLive(ctx context.Context, login string) (bool, error)
}

// Watcher keeps a Buffer's live flag current and runs the IRC recorder only
// while the channel is live.
type Watcher struct {
	Buffer   *Buffer
	Checker  StreamChecker
	Channel  string
	Interval time.Duration
	// Record runs the recorder until its context is canceled.
	Record func(ctx context.Context) error
}

// Run polls until ctx is canceled. Status errors keep the previous state.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := slog.Default().With(slog.String("component", "chat_watcher"), slog.String("channel", w.Channel))

	var recCancel context.CancelFunc
	var recDone chan struct{} // nil while no recorder runs
	stop := func() {
		if recCancel != nil {
			recCancel()
		}
		recCancel, recDone = nil, nil
	}
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("chat watcher started", slog.Duration("interval", interval))
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		live, err := w.Checker.IsLive(checkCtx, w.Channel)
		cancel()
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.Debug("stream status check failed", slog.Any("err", err))
			}
		case live && recCancel == nil:
			w.Buffer.SetLive(true)
			recCtx, c := context.WithCancel(ctx)
			done := make(chan struct{})
			recCancel, recDone = c, done
			logger.Info("stream live; starting chat recorder")
			go func() {
				defer close(done)
				if err := w.Record(recCtx); err != nil {
					logger.Warn("chat recorder exited", slog.Any("err", err))
				}
			}()
		case !live:
			w.Buffer.SetLive(false)
			if recCancel != nil {
				logger.Info("stream ended; stopping chat recorder")
				stop()
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("chat watcher stopped")
			return
		case <-recDone:
			// Recorder died on its own; restart no sooner than the next tick.
			stop()
			select {
			case <-ctx.Done():
				logger.Info("chat watcher stopped")
				return
			case <-ticker.C:
			}
		case <-ticker.C:
		}
	}
}
