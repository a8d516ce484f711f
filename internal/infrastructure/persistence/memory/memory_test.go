package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/history"
)

func TestKV_CopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()

	in := []byte("abc")
	require.NoError(t, kv.Put(ctx, "k", in))
	in[0] = 'z'

	out, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", string(out))

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	assert.Equal(t, 0, kv.Len())
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository()
	base := time.Unix(10_000, 0).UTC()

	logs := []history.StudyLog{
		{ID: "a", SessionType: "focus", DurationSeconds: 1500, EndedAt: base},
		{ID: "b", SessionType: "break", DurationSeconds: 300, EndedAt: base.Add(time.Hour)},
		{ID: "c", SessionType: "focus", DurationSeconds: 1500, EndedAt: base.Add(2 * time.Hour)},
	}
	for _, l := range logs {
		require.NoError(t, repo.Append(ctx, l))
	}
	require.NoError(t, repo.Append(ctx, logs[0]), "duplicate id is ignored")

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	since, err := repo.Since(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "b", since[0].ID)

	var sum history.Summary
	all, _ := repo.Recent(ctx, 0)
	for _, l := range all {
		sum.Add(l)
	}
	assert.Equal(t, 2, sum.FocusSessions)
	assert.Equal(t, 3000, sum.FocusSeconds)
	assert.Equal(t, 1, sum.BreakSessions)
}

func TestHistoryRepository_RejectsInvalid(t *testing.T) {
	repo := NewHistoryRepository()
	err := repo.Append(context.Background(), history.StudyLog{ID: "x"})
	assert.Error(t, err)
}
