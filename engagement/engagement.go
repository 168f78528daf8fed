// Package engagement defines the per-user message accumulator behind the
// leaderboard.
//
// Ranking order is count descending. Ties are broken by first-seen order: the
// identity whose first accepted message was recorded earlier in the cycle
// ranks higher. Every implementation must honour this, since the top of the
// ranking is the draw pool.
package engagement

import (
	"context"
	"sort"
	"sync"
)

// Participant is one leaderboard row.
type Participant struct {
	Identity string `json:"username"`
	Count    int64  `json:"messageCount"`
}

// Accumulator counts accepted messages per identity.
type Accumulator interface {
	// Increment creates the identity at 1 or adds one. Safe for concurrent callers.
	Increment(ctx context.Context, identity string) error
	// Top returns up to k participants in ranking order.
	Top(ctx context.Context, k int) ([]Participant, error)
	// Clear removes every participant.
	Clear(ctx context.Context) error
}

type entry struct {
	count int64
	seq   uint64
}

// Memory is an in-process Accumulator.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
}

// NewMemory returns an empty in-process accumulator.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

// Increment implements Accumulator.
func (m *Memory) Increment(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[identity]; ok {
		e.count++
		return nil
	}
	m.nextSeq++
	m.entries[identity] = &entry{count: 1, seq: m.nextSeq}
	return nil
}

// Top implements Accumulator.
func (m *Memory) Top(_ context.Context, k int) ([]Participant, error) {
	m.mu.RLock()
	type row struct {
		Participant
		seq uint64
	}
	rows := make([]row, 0, len(m.entries))
	for id, e := range m.entries {
		rows = append(rows, row{Participant{Identity: id, Count: e.count}, e.seq})
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].seq < rows[j].seq
	})
	if k >= 0 && len(rows) > k {
		rows = rows[:k]
	}
	out := make([]Participant, len(rows))
	for i, r := range rows {
		out[i] = r.Participant
	}
	return out, nil
}

// Clear implements Accumulator.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
	m.nextSeq = 0
	return nil
}

// Len returns the number of participants.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
