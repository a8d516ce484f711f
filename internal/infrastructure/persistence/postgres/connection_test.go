package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig(t *testing.T) {
	pc, err := PoolConfig("postgres://timer:pw@db.local:5432/study_timer?sslmode=disable", Options{MaxConns: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, "db.local", pc.ConnConfig.Host)
	assert.Equal(t, "study_timer", pc.ConnConfig.Database)

	pc, err = PoolConfig("postgres://db.local/study_timer?pool_max_conns=7", Options{MaxConns: 2, MaxConnLifetime: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, time.Minute, pc.MaxConnLifetime)

	pc, err = PoolConfig("postgres://db.local/study_timer", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), pc.MaxConns)
}

func TestPoolConfig_BadURL(t *testing.T) {
	_, err := PoolConfig("postgres://db.local:notaport/x", Options{})
	assert.Error(t, err)
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.Len(t, migs, 2)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.SQL)
	}
	assert.True(t, strings.Contains(migs[0].SQL, "timer_snapshots"))
	assert.True(t, strings.Contains(migs[1].SQL, "study_logs"))
}

func TestClosedConnection(t *testing.T) {
	c := &Connection{}
	c.closed.Store(true)
	ctx := context.Background()

	assert.ErrorIs(t, c.Ping(ctx), ErrConnectionClosed)

	_, err := c.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = c.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	var n int
	assert.ErrorIs(t, c.QueryRow(ctx, "SELECT 1").Scan(&n), ErrConnectionClosed)

	assert.True(t, c.Stats().Closed)
	c.Close()

	_, err = Migrate(ctx, c)
	assert.ErrorIs(t, err, ErrMigrationFailed)
}
