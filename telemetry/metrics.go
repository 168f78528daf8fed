// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesProcessed *prometheus.CounterVec // label: result
	FeedFailures      *prometheus.CounterVec // label: op
	CyclesClosed      *prometheus.CounterVec // labels: trigger, outcome
	ClosesDropped     *prometheus.CounterVec // label: trigger
	PollTicks         prometheus.Counter

	// Histograms (seconds)
	TickDuration  prometheus.Observer
	CloseDuration prometheus.Observer

	// Gauges
	LastCloseGauge prometheus.Gauge // unix seconds of the last successful close
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatroll_messages_processed_total", Help: "Chat messages processed by outcome"}, []string{"result"})
		FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatroll_feed_failures_total", Help: "Failed feed calls by operation"}, []string{"op"})
		CyclesClosed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatroll_cycles_closed_total", Help: "Closed leaderboard cycles"}, []string{"trigger", "outcome"})
		ClosesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatroll_cycle_close_dropped_total", Help: "Close triggers dropped because a close was already running"}, []string{"trigger"})
		PollTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "chatroll_poll_ticks_total", Help: "Poll loop iterations"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatroll_tick_duration_seconds", Help: "Poll tick duration seconds", Buckets: prometheus.DefBuckets})
		CloseDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatroll_cycle_close_duration_seconds", Help: "Cycle close duration seconds", Buckets: prometheus.DefBuckets})
		LastCloseGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatroll_last_close_timestamp_seconds", Help: "Unix time of the last successful cycle close"})
	})
}

// MessageProcessed counts one message with its outcome (accepted, spam, ignored, malformed, error).
func MessageProcessed(result string) {
	if MessagesProcessed != nil {
		MessagesProcessed.WithLabelValues(result).Inc()
	}
}

// FeedFailed counts a failed feed call.
func FeedFailed(op string) {
	if FeedFailures != nil {
		FeedFailures.WithLabelValues(op).Inc()
	}
}

// ObserveTick records one poll tick.
func ObserveTick(d time.Duration) {
	if PollTicks != nil {
		PollTicks.Inc()
	}
	if TickDuration != nil {
		TickDuration.Observe(d.Seconds())
	}
}

// CycleClosed records a successful close.
func CycleClosed(trigger, outcome string, d time.Duration) {
	if CyclesClosed != nil {
		CyclesClosed.WithLabelValues(trigger, outcome).Inc()
	}
	if CloseDuration != nil {
		CloseDuration.Observe(d.Seconds())
	}
	if LastCloseGauge != nil {
		LastCloseGauge.SetToCurrentTime()
	}
}

// CloseDropped counts a trigger that lost the single-flight race.
func CloseDropped(trigger string) {
	if ClosesDropped != nil {
		ClosesDropped.WithLabelValues(trigger).Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
