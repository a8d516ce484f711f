package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/study-timer/internal/domain/history"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// HistoryRepository implements history.Repository for PostgreSQL.
type HistoryRepository struct {
	conn *Connection
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(conn *Connection) *HistoryRepository {
	return &HistoryRepository{conn: conn}
}

const historyColumns = `id, session_type, duration_seconds, course_id, course_name, ended_at, retroactive`

// Append inserts a log row. Replayed events with the same ID are ignored.
func (r *HistoryRepository) Append(ctx context.Context, log history.StudyLog) error {
	if err := log.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO study_logs (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.conn.Exec(ctx, query,
		log.ID,
		log.SessionType,
		log.DurationSeconds,
		log.CourseID,
		log.CourseName,
		log.EndedAt.UTC(),
		log.Retroactive,
	)
	if err != nil {
		return fmt.Errorf("insert study log: %w", err)
	}
	return nil
}

// Recent returns the latest logs, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]history.StudyLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Query(ctx,
		"SELECT "+historyColumns+" FROM study_logs ORDER BY ended_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent study logs: %w", err)
	}
	return scanLogs(rows)
}

// Since returns logs ended at or after from, oldest first.
func (r *HistoryRepository) Since(ctx context.Context, from time.Time) ([]history.StudyLog, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+historyColumns+" FROM study_logs WHERE ended_at >= $1 ORDER BY ended_at ASC",
		from.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query study logs since: %w", err)
	}
	return scanLogs(rows)
}

func scanLogs(rows pgx.Rows) ([]history.StudyLog, error) {
	defer rows.Close()

	var out []history.StudyLog
	for rows.Next() {
		var l history.StudyLog
		if err := rows.Scan(
			&l.ID,
			&l.SessionType,
			&l.DurationSeconds,
			&l.CourseID,
			&l.CourseName,
			&l.EndedAt,
			&l.Retroactive,
		); err != nil {
			return nil, fmt.Errorf("scan study log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
