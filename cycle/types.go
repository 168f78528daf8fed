// Package cycle runs the leaderboard: it ingests chat from a Feed into the
// accumulator, closes cycles at schedule boundaries and performs the
// provably-fair draw for each closed cycle.
//
// All mutable scheduler state (cursor, fairness seed/nonce, spam history,
// last closed cycle) is owned by an Engine. The poll loop, the reconciler and
// manual triggers all go through the same Engine methods.
package cycle

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/chatroll/engagement"
	"github.com/onnwee/chatroll/fairness"
)

var (
	// ErrCloseInFlight is returned when a close is already running. The
	// losing trigger is dropped, not queued.
	ErrCloseInFlight = errors.New("cycle close already in flight")
	// ErrAlreadyClosed is returned by a Store when the closure marker for a
	// cycle already exists.
	ErrAlreadyClosed = errors.New("cycle already closed")
)

// Message is one chat message as delivered by a Feed.
type Message struct {
	ID        string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Cursor is the last message seen by the poll loop. The zero value is unset.
type Cursor struct {
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// Feed is the upstream chat source. Implementations may use since as a hint;
// the engine re-applies the cursor on whatever is returned.
type Feed interface {
	FetchMessages(ctx context.Context, since Cursor) ([]Message, error)
	IsLive(ctx context.Context) (bool, error)
}

// SnapshotEntry is one ranked row of a closed cycle.
type SnapshotEntry struct {
	Identity string `json:"username"`
	Count    int64  `json:"messageCount"`
	Rank     int    `json:"rank"`
}

// Snapshot is the frozen ranking of a closed cycle.
type Snapshot struct {
	CycleIndex int64           `json:"weekNumber"`
	ResetAt    time.Time       `json:"resetDate"`
	Entries    []SnapshotEntry `json:"entries"`
}

// Draw is a published draw result. Manual overrides carry "manual" in the
// seed and hash fields.
type Draw struct {
	ID         string    `json:"id"`
	Winner     string    `json:"winner"`
	Prize      int64     `json:"prize"`
	Timestamp  time.Time `json:"timestamp"`
	ServerSeed string    `json:"serverSeed"`
	ClientSeed string    `json:"clientSeed"`
	Nonce      uint64    `json:"nonce"`
	Hash       string    `json:"hash"`
	CycleIndex *int64    `json:"cycleIndex,omitempty"`
	Candidates int       `json:"candidates,omitempty"`
	Manual     bool      `json:"manual"`
}

// ManualSeed marks the seed and hash fields of a manual draw.
const ManualSeed = "manual"

// Outcome of a closed cycle.
const (
	OutcomeDrawn  = "drawn"
	OutcomeNoDraw = "no_draw"
)

// Closure is everything written atomically when a cycle closes.
type Closure struct {
	CycleIndex int64
	Boundary   time.Time
	ClosedAt   time.Time
	// Snapshot is nil when the ranking was empty.
	Snapshot *Snapshot
	// Draw is nil when there were no eligible participants.
	Draw *Draw
	// Fairness is the rotated state to persist.
	Fairness fairness.Snapshot
}

// Outcome returns OutcomeDrawn or OutcomeNoDraw.
func (c Closure) Outcome() string {
	if c.Draw != nil {
		return OutcomeDrawn
	}
	return OutcomeNoDraw
}

// Store is the durable side of the engine.
//
// CloseCycle must be atomic: the closure marker (unique per cycle index), the
// snapshot, the draw, the participant wipe and the fairness state either all
// land or none do. It returns ErrAlreadyClosed when the marker exists.
type Store interface {
	engagement.Accumulator

	CloseCycle(ctx context.Context, c Closure) error
	// LastClosedCycle returns the highest closed cycle index; ok is false
	// when no cycle has been closed yet.
	LastClosedCycle(ctx context.Context) (index int64, ok bool, err error)
	LoadFairness(ctx context.Context) (snap fairness.Snapshot, ok bool, err error)
	SaveFairness(ctx context.Context, snap fairness.Snapshot) error

	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	LatestDraw(ctx context.Context) (*Draw, error)
	ListDraws(ctx context.Context, limit int) ([]Draw, error)
	InsertDraw(ctx context.Context, d Draw) error
}
