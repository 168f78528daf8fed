// Package schedule computes cycle boundaries for the weekly leaderboard.
//
// Boundaries are a pure function of wall-clock time and three constants: an
// absolute epoch, a fixed period and a fixed offset. Nothing here depends on
// process uptime, so every caller (poll loop, reconciler, HTTP handlers) sees
// the same boundary for any instant within the same cycle.
package schedule

import (
	"errors"
	"time"
)

// DefaultEpoch is the first boundary of the leaderboard (2025-07-01 00:00 UTC).
var DefaultEpoch = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)

// DefaultPeriod is one week.
const DefaultPeriod = 7 * 24 * time.Hour

// Schedule describes a recurring boundary series.
//
// Offset is the fixed timezone correction applied to every boundary, the
// first one included. Boundary n (n >= 0) is at Epoch + Offset + n*Period and
// closes cycle n.
type Schedule struct {
	Epoch  time.Time
	Period time.Duration
	Offset time.Duration
}

// Default returns the production schedule: weekly from DefaultEpoch, no offset.
func Default() Schedule {
	return Schedule{Epoch: DefaultEpoch, Period: DefaultPeriod}
}

// Validate reports whether the schedule can produce boundaries.
func (s Schedule) Validate() error {
	if s.Epoch.IsZero() {
		return errors.New("schedule epoch is zero")
	}
	if s.Period <= 0 {
		return errors.New("schedule period must be positive")
	}
	return nil
}

func (s Schedule) anchor() time.Time { return s.Epoch.Add(s.Offset) }

// Boundary returns the instant closing cycle n.
func (s Schedule) Boundary(n int64) time.Time {
	return s.anchor().Add(time.Duration(n) * s.Period)
}

// NextBoundary returns the first boundary strictly after now. Before the
// anchor it returns the anchor itself; exactly at a boundary it returns the
// following one, so repeated evaluation inside one tick is stable.
func (s Schedule) NextBoundary(now time.Time) time.Time {
	a := s.anchor()
	if now.Before(a) {
		return a
	}
	elapsed := int64(now.Sub(a) / s.Period)
	return s.Boundary(elapsed + 1)
}

// LastBoundary returns the most recent boundary at or before now and the
// index of the cycle it closes. ok is false before the anchor.
func (s Schedule) LastBoundary(now time.Time) (n int64, at time.Time, ok bool) {
	a := s.anchor()
	if now.Before(a) {
		return -1, time.Time{}, false
	}
	n = int64(now.Sub(a) / s.Period)
	return n, s.Boundary(n), true
}

// TimeLeft returns the duration until the next boundary, never negative.
func (s Schedule) TimeLeft(now time.Time) time.Duration {
	d := s.NextBoundary(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Countdown is a human-oriented breakdown of a remaining duration.
type Countdown struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// Split breaks d into whole days, hours, minutes and seconds.
func Split(d time.Duration) Countdown {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return Countdown{
		Days:    total / 86400,
		Hours:   (total % 86400) / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}
