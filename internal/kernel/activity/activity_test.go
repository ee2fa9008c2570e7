package activity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/store"
)

func newLog(t *testing.T) *activity.Log {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return activity.New(db)
}

func TestRecord_ThenListReturnsEntry(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "lock", "acquire", "db-mig", "", "alpha"))

	entries, err := l.List(ctx, activity.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "acquire", entries[0].Action)
}

func TestList_FiltersByTypeAndAgent(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "lock", "acquire", "db-mig", "", "alpha"))
	require.NoError(t, l.Record(ctx, "session", "start", "S1", "", "beta"))

	entries, err := l.List(ctx, activity.Filter{Type: "lock"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = l.List(ctx, activity.Filter{AgentID: "beta"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session", entries[0].Type)
}

func TestReclaim_RemovesOldRows(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "lock", "acquire", "db-mig", "", "alpha"))

	n, err := l.Reclaim(ctx, time.Nanosecond, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReclaim_EnforcesMaxCount(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, "lock", "acquire", "db-mig", "", "alpha"))
	}

	n, err := l.Reclaim(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := l.List(ctx, activity.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
