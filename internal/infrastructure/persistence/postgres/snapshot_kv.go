package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT KEY-VALUE STORE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotKV implements timer.KeyValueStore on the timer_snapshots table.
// Every Put is a single-statement UPSERT, so readers see either the previous
// envelope or the new one.
type SnapshotKV struct {
	conn *Connection
}

// NewSnapshotKV creates a new SnapshotKV.
func NewSnapshotKV(conn *Connection) *SnapshotKV {
	return &SnapshotKV{conn: conn}
}

// Put stores value under key.
func (s *SnapshotKV) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO timer_snapshots (key, envelope, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET envelope = EXCLUDED.envelope, updated_at = NOW()
	`
	if _, err := s.conn.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Get returns the value under key.
func (s *SnapshotKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var envelope []byte
	err := s.conn.QueryRow(ctx,
		"SELECT envelope FROM timer_snapshots WHERE key = $1",
		key,
	).Scan(&envelope)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select snapshot: %w", err)
	}
	return envelope, true, nil
}

// Delete removes key.
func (s *SnapshotKV) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.Exec(ctx, "DELETE FROM timer_snapshots WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
