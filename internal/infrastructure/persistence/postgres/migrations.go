package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any error raised while applying the schema.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrationLockID is the advisory lock key held while migrating, so two
// daemons starting against one database do not apply a step twice.
const migrationLockID = 0x57554459 // "STUDY"

// Migrations returns the schema steps in the order they are applied.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_timer_snapshots", SQL: createTimerSnapshots},
		{Version: 2, Name: "create_study_logs", SQL: createStudyLogs},
	}
}

// Migrate applies every pending migration, each in its own transaction, and
// returns the versions it applied.
func Migrate(ctx context.Context, conn *Connection) ([]int, error) {
	if _, err := conn.Exec(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("%w: schema_migrations: %v", ErrMigrationFailed, err)
	}

	var applied []int
	for _, m := range Migrations() {
		done := false
		err := conn.inTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
				return err
			}

			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}

			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name,
			); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, m.Version, m.Name, err)
		}
		if done {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

const createSchemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

// ══════════════════════════════════════════════════════════════════════════════
// 001: TIMER SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// One row per snapshot key; the engine only ever uses one key.
const createTimerSnapshots = `
CREATE TABLE IF NOT EXISTS timer_snapshots (
    key VARCHAR(200) PRIMARY KEY,
    envelope BYTEA NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

// ══════════════════════════════════════════════════════════════════════════════
// 002: STUDY LOGS
// ══════════════════════════════════════════════════════════════════════════════

const createStudyLogs = `
CREATE TABLE IF NOT EXISTS study_logs (
    id UUID PRIMARY KEY,
    session_type VARCHAR(10) NOT NULL,
    duration_seconds INTEGER NOT NULL,
    course_id VARCHAR(100) NOT NULL DEFAULT '',
    course_name VARCHAR(255) NOT NULL DEFAULT '',
    ended_at TIMESTAMP WITH TIME ZONE NOT NULL,
    retroactive BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_session_type CHECK (session_type IN ('focus', 'break')),
    CONSTRAINT valid_duration CHECK (duration_seconds > 0)
);

CREATE INDEX IF NOT EXISTS idx_study_logs_ended_at ON study_logs(ended_at DESC);
CREATE INDEX IF NOT EXISTS idx_study_logs_course ON study_logs(course_id) WHERE course_id != '';
`
