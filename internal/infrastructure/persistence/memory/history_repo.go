package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/study-timer/internal/domain/history"
)

// HistoryRepository implements history.Repository in memory.
type HistoryRepository struct {
	mu   sync.RWMutex
	logs []history.StudyLog
	ids  map[string]struct{}
}

// NewHistoryRepository creates an empty repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{ids: make(map[string]struct{})}
}

// Append stores log unless its ID was already recorded.
func (r *HistoryRepository) Append(_ context.Context, log history.StudyLog) error {
	if err := log.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[log.ID]; dup {
		return nil
	}
	r.ids[log.ID] = struct{}{}
	r.logs = append(r.logs, log)
	return nil
}

// Recent returns up to limit logs, newest first.
func (r *HistoryRepository) Recent(_ context.Context, limit int) ([]history.StudyLog, error) {
	r.mu.RLock()
	out := make([]history.StudyLog, len(r.logs))
	copy(out, r.logs)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Since returns logs ended at or after from, oldest first.
func (r *HistoryRepository) Since(_ context.Context, from time.Time) ([]history.StudyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []history.StudyLog
	for _, l := range r.logs {
		if !l.EndedAt.Before(from) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	return out, nil
}
