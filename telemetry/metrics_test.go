package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if MessagesProcessed == nil || FeedFailures == nil || CyclesClosed == nil || ClosesDropped == nil {
		t.Fatal("counter vectors not initialized")
	}
	if TickDuration == nil || CloseDuration == nil {
		t.Fatal("histograms not initialized")
	}
	if LastCloseGauge == nil || PollTicks == nil {
		t.Fatal("gauges not initialized")
	}
}

func TestMessageProcessedCounts(t *testing.T) {
	Init()

	tests := []struct {
		result string
		n      int
	}{
		{"accepted", 3},
		{"spam", 2},
		{"ignored", 1},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			before := testutil.ToFloat64(MessagesProcessed.WithLabelValues(tt.result))
			for i := 0; i < tt.n; i++ {
				MessageProcessed(tt.result)
			}
			got := testutil.ToFloat64(MessagesProcessed.WithLabelValues(tt.result)) - before
			if got != float64(tt.n) {
				t.Errorf("%s delta = %v, want %d", tt.result, got, tt.n)
			}
		})
	}
}

func TestCycleClosedRecordsDuration(t *testing.T) {
	Init()

	before := testutil.ToFloat64(CyclesClosed.WithLabelValues("poll", "drawn"))
	CycleClosed("poll", "drawn", 250*time.Millisecond)
	if got := testutil.ToFloat64(CyclesClosed.WithLabelValues("poll", "drawn")) - before; got != 1 {
		t.Errorf("closed delta = %v, want 1", got)
	}
	if testutil.ToFloat64(LastCloseGauge) == 0 {
		t.Error("last close gauge not set")
	}

	metric := &dto.Metric{}
	h, ok := CloseDuration.(interface{ Write(*dto.Metric) error })
	if !ok {
		t.Fatal("close histogram does not expose Write")
	}
	if err := h.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("close duration not observed")
	}
}

func TestHelpersDoNotPanic(t *testing.T) {
	Init()
	ObserveTick(10 * time.Millisecond)
	FeedFailed("fetch")
	FeedFailed("live")
	CloseDropped("reconcile")
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Fatalf("empty context corr = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("corr = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("nil logger")
	}
}
