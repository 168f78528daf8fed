// Package memstore is a process-local cycle.Store. State is lost on restart;
// use it for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/chatroll/cycle"
	"github.com/onnwee/chatroll/engagement"
	"github.com/onnwee/chatroll/fairness"
)

// Store keeps participants, closures, snapshots and draws in memory.
type Store struct {
	*engagement.Memory

	mu        sync.Mutex
	closed    map[int64]struct{}
	last      int64
	hasClosed bool
	fair      *fairness.Snapshot
	snapshots []cycle.Snapshot
	draws     []cycle.Draw
}

var _ cycle.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{Memory: engagement.NewMemory(), closed: make(map[int64]struct{})}
}

// CloseCycle implements cycle.Store.
func (s *Store) CloseCycle(ctx context.Context, c cycle.Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.closed[c.CycleIndex]; ok {
		return cycle.ErrAlreadyClosed
	}
	if err := s.Memory.Clear(ctx); err != nil {
		return err
	}
	s.closed[c.CycleIndex] = struct{}{}
	if !s.hasClosed || c.CycleIndex > s.last {
		s.last, s.hasClosed = c.CycleIndex, true
	}
	if c.Snapshot != nil {
		s.snapshots = append(s.snapshots, cloneSnapshot(*c.Snapshot))
	}
	if c.Draw != nil {
		s.draws = append(s.draws, *c.Draw)
	}
	f := c.Fairness
	s.fair = &f
	return nil
}

// LastClosedCycle implements cycle.Store.
func (s *Store) LastClosedCycle(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasClosed, nil
}

// LoadFairness implements cycle.Store.
func (s *Store) LoadFairness(context.Context) (fairness.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fair == nil {
		return fairness.Snapshot{}, false, nil
	}
	return *s.fair, true, nil
}

// SaveFairness implements cycle.Store.
func (s *Store) SaveFairness(_ context.Context, snap fairness.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fair = &snap
	return nil
}

// LatestSnapshot returns the most recent snapshot or nil.
func (s *Store) LatestSnapshot(context.Context) (*cycle.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, nil
	}
	snap := cloneSnapshot(s.snapshots[len(s.snapshots)-1])
	return &snap, nil
}

// LatestDraw returns the most recent draw or nil.
func (s *Store) LatestDraw(ctx context.Context) (*cycle.Draw, error) {
	draws, err := s.ListDraws(ctx, 1)
	if err != nil || len(draws) == 0 {
		return nil, err
	}
	return &draws[0], nil
}

// ListDraws returns up to limit draws, newest first. limit <= 0 means all.
func (s *Store) ListDraws(_ context.Context, limit int) ([]cycle.Draw, error) {
	s.mu.Lock()
	out := make([]cycle.Draw, 0, len(s.draws))
	for i := len(s.draws) - 1; i >= 0; i-- {
		out = append(out, s.draws[i])
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertDraw records a draw outside a closure (manual override).
func (s *Store) InsertDraw(_ context.Context, d cycle.Draw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws = append(s.draws, d)
	return nil
}

func cloneSnapshot(s cycle.Snapshot) cycle.Snapshot {
	s.Entries = append([]cycle.SnapshotEntry(nil), s.Entries...)
	return s
}
