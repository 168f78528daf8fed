package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/chatroll/crypto"
	"github.com/onnwee/chatroll/cycle"
	"github.com/onnwee/chatroll/engagement"
)

const fairnessKey = "fairness_state"

// Store is the Postgres implementation of cycle.Store.
type Store struct {
	db  *sql.DB
	enc crypto.Encryptor
}

var _ cycle.Store = (*Store)(nil)

// NewStore wraps db. When enc is nil the fairness state is stored in
// plaintext (encryption_version = 0).
func NewStore(db *sql.DB, enc crypto.Encryptor) *Store {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, server seed will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
	}
	return &Store{db: db, enc: enc}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Increment implements engagement.Accumulator.
func (s *Store) Increment(ctx context.Context, identity string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO participants(identity, message_count, updated_at) VALUES($1, 1, NOW())
		ON CONFLICT(identity) DO UPDATE SET message_count = participants.message_count + 1, updated_at = NOW()`, identity)
	return err
}

// Top implements engagement.Accumulator.
func (s *Store) Top(ctx context.Context, k int) ([]engagement.Participant, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT identity, message_count FROM participants
		ORDER BY message_count DESC, first_seen ASC LIMIT $1`, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engagement.Participant
	for rows.Next() {
		var p engagement.Participant
		if err := rows.Scan(&p.Identity, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Clear implements engagement.Accumulator.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM participants`)
	return err
}

// CloseCycle writes the closure marker, snapshot, draw, participant wipe and
// fairness state in one transaction.
func (s *Store) CloseCycle(ctx context.Context, c cycle.Closure) (err error) {
	value, version, err := s.encodeFairness(c.Fairness)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO cycle_closures(cycle_index, boundary, closed_at, outcome)
		VALUES($1,$2,$3,$4) ON CONFLICT(cycle_index) DO NOTHING`, c.CycleIndex, c.Boundary, c.ClosedAt, c.Outcome())
	if err != nil {
		return fmt.Errorf("insert closure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = cycle.ErrAlreadyClosed
		return err
	}

	if c.Snapshot != nil {
		entries, jerr := json.Marshal(c.Snapshot.Entries)
		if jerr != nil {
			err = jerr
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO leaderboard_snapshots(cycle_index, reset_at, entries) VALUES($1,$2,$3)`,
			c.Snapshot.CycleIndex, c.Snapshot.ResetAt, entries); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	if c.Draw != nil {
		if err = insertDraw(ctx, tx, *c.Draw); err != nil {
			return fmt.Errorf("insert draw: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM participants`); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	if err = upsertKV(ctx, tx, fairnessKey, value, version); err != nil {
		return fmt.Errorf("save fairness state: %w", err)
	}
	return tx.Commit()
}

// LastClosedCycle implements cycle.Store.
func (s *Store) LastClosedCycle(ctx context.Context) (int64, bool, error) {
	var idx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cycle_index) FROM cycle_closures`).Scan(&idx); err != nil {
		return 0, false, err
	}
	return idx.Int64, idx.Valid, nil
}

// LatestSnapshot returns the snapshot of the most recently closed cycle
// that had participants, or nil.
func (s *Store) LatestSnapshot(ctx context.Context) (*cycle.Snapshot, error) {
	var snap cycle.Snapshot
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT cycle_index, reset_at, entries FROM leaderboard_snapshots
		ORDER BY cycle_index DESC LIMIT 1`).Scan(&snap.CycleIndex, &snap.ResetAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode snapshot entries: %w", err)
	}
	return &snap, nil
}

// LatestDraw returns the newest draw or nil.
func (s *Store) LatestDraw(ctx context.Context) (*cycle.Draw, error) {
	draws, err := s.ListDraws(ctx, 1)
	if err != nil || len(draws) == 0 {
		return nil, err
	}
	return &draws[0], nil
}

// ListDraws returns up to limit draws, newest first. limit <= 0 means all.
func (s *Store) ListDraws(ctx context.Context, limit int) ([]cycle.Draw, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, winner, prize, drawn_at, server_seed, client_seed, nonce, hash, cycle_index, candidates, manual
		FROM draws ORDER BY drawn_at DESC, created_at DESC LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cycle.Draw
	for rows.Next() {
		var d cycle.Draw
		var nonce int64
		var idx sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Winner, &d.Prize, &d.Timestamp, &d.ServerSeed, &d.ClientSeed, &nonce, &d.Hash, &idx, &d.Candidates, &d.Manual); err != nil {
			return nil, err
		}
		d.Nonce = uint64(nonce)
		if idx.Valid {
			v := idx.Int64
			d.CycleIndex = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDraw records a draw outside a closure (manual override).
func (s *Store) InsertDraw(ctx context.Context, d cycle.Draw) error {
	return insertDraw(ctx, s.db, d)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDraw(ctx context.Context, x execer, d cycle.Draw) error {
	var idx sql.NullInt64
	if d.CycleIndex != nil {
		idx = sql.NullInt64{Int64: *d.CycleIndex, Valid: true}
	}
	_, err := x.ExecContext(ctx, `INSERT INTO draws(id, winner, prize, drawn_at, server_seed, client_seed, nonce, hash, cycle_index, candidates, manual)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.Winner, d.Prize, d.Timestamp, d.ServerSeed, d.ClientSeed, int64(d.Nonce), d.Hash, idx, d.Candidates, d.Manual)
	return err
}
