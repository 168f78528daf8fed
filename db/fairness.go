package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onnwee/chatroll/crypto"
	"github.com/onnwee/chatroll/fairness"
)

// SaveFairness stores the fairness state in kv. If an encryptor is set the
// value is AES-GCM encrypted and marked encryption_version=1.
func (s *Store) SaveFairness(ctx context.Context, snap fairness.Snapshot) error {
	value, version, err := s.encodeFairness(snap)
	if err != nil {
		return err
	}
	return upsertKV(ctx, s.db, fairnessKey, value, version)
}

// LoadFairness reads the fairness state. Plaintext rows (version 0) are read
// as-is; encrypted rows need the encryptor.
func (s *Store) LoadFairness(ctx context.Context) (fairness.Snapshot, bool, error) {
	var value string
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT value, COALESCE(encryption_version, 0) FROM kv WHERE key = $1`, fairnessKey).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return fairness.Snapshot{}, false, nil
	}
	if err != nil {
		return fairness.Snapshot{}, false, err
	}
	if version == 1 {
		if s.enc == nil {
			return fairness.Snapshot{}, false, fmt.Errorf("fairness state is encrypted but ENCRYPTION_KEY not configured")
		}
		if value, err = crypto.DecryptString(s.enc, value); err != nil {
			return fairness.Snapshot{}, false, fmt.Errorf("decrypt fairness state: %w", err)
		}
	}
	var snap fairness.Snapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		return fairness.Snapshot{}, false, fmt.Errorf("decode fairness state: %w", err)
	}
	return snap, true, nil
}

func (s *Store) encodeFairness(snap fairness.Snapshot) (string, int, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", 0, err
	}
	if s.enc == nil {
		return string(raw), 0, nil
	}
	enc, err := crypto.EncryptString(s.enc, string(raw))
	if err != nil {
		return "", 0, fmt.Errorf("encrypt fairness state: %w", err)
	}
	return enc, 1, nil
}

func upsertKV(ctx context.Context, x execer, key, value string, version int) error {
	_, err := x.ExecContext(ctx, `INSERT INTO kv(key, value, encryption_version, updated_at) VALUES($1,$2,$3,NOW())
		ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, encryption_version = EXCLUDED.encryption_version, updated_at = NOW()`,
		key, value, version)
	return err
}
