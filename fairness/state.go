package fairness

import (
	"errors"
	"fmt"
	"sync"
)

// Result is everything needed to verify one draw.
type Result struct {
	ServerSeed string
	ClientSeed string
	Nonce      uint64
	Index      int
	Roll       float64
	Hash       string
}

// Snapshot is the persisted form of State.
type Snapshot struct {
	ServerSeed   string `json:"server_seed"`
	PreviousSeed string `json:"previous_seed,omitempty"`
	Nonce        uint64 `json:"nonce"`
}

// State owns the active server seed and nonce. The nonce is consumed by every
// draw and only goes back to zero together with a fresh seed, so a
// (seed, nonce) pair is never used twice.
type State struct {
	mu       sync.Mutex
	seed     string
	previous string
	nonce    uint64
	newSeed  func() (string, error)
}

// NewState returns a State with a freshly generated seed.
func NewState() (*State, error) {
	s := &State{newSeed: NewServerSeed}
	seed, err := s.newSeed()
	if err != nil {
		return nil, err
	}
	s.seed = seed
	return s, nil
}

// Restore rebuilds a State from a persisted snapshot.
func Restore(snap Snapshot) (*State, error) {
	if snap.ServerSeed == "" {
		return nil, errors.New("fairness: snapshot has empty server seed")
	}
	return &State{seed: snap.ServerSeed, previous: snap.PreviousSeed, nonce: snap.Nonce, newSeed: NewServerSeed}, nil
}

// Snapshot returns the persisted form of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{ServerSeed: s.seed, PreviousSeed: s.previous, Nonce: s.nonce}
}

// Commitment returns the hash of the active seed.
func (s *State) Commitment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Commitment(s.seed)
}

// PreviousSeed returns the last superseded seed, safe to reveal.
func (s *State) PreviousSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

// Draw performs a draw over n candidates with the current nonce, then
// advances the nonce.
func (s *State) Draw(clientSeed string, n int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := Draw(s.seed, clientSeed, s.nonce, n)
	if err != nil {
		return Result{}, err
	}
	r := Result{
		ServerSeed: s.seed,
		ClientSeed: clientSeed,
		Nonce:      s.nonce,
		Index:      idx,
		Roll:       Roll(s.seed, clientSeed, s.nonce),
		Hash:       Hash(s.seed, clientSeed, s.nonce),
	}
	s.nonce++
	return r, nil
}

// Rotate retires the active seed and installs a fresh one with nonce 0.
func (s *State) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.newSeed()
	if err != nil {
		return err
	}
	if next == s.seed {
		return fmt.Errorf("fairness: rotation produced the active seed again")
	}
	s.previous = s.seed
	s.seed = next
	s.nonce = 0
	return nil
}

// Verify recomputes r over n candidates and reports whether it matches.
func Verify(r Result, n int) bool {
	idx, err := Draw(r.ServerSeed, r.ClientSeed, r.Nonce, n)
	if err != nil {
		return false
	}
	return idx == r.Index && Hash(r.ServerSeed, r.ClientSeed, r.Nonce) == r.Hash
}

// Load replaces the state in place with snap.
func (s *State) Load(snap Snapshot) error {
	if snap.ServerSeed == "" {
		return errors.New("fairness: snapshot has empty server seed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = snap.ServerSeed
	s.previous = snap.PreviousSeed
	s.nonce = snap.Nonce
	return nil
}
