package reaper_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/kernel/locks"
	"github.com/kernald/kernald/internal/kernel/messaging"
	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernel/reaper"
	"github.com/kernald/kernald/internal/kernel/salvage"
	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/procutil"
	"github.com/kernald/kernald/internal/store"
)

func newReaper(t *testing.T) (*reaper.Reaper, *agents.Registry, *sessions.Registry, *salvage.Registry, *locks.Registry) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	scanner := procutil.NewScanner(2 * time.Second)
	portsReg := ports.New(db, scanner, 20000, 20100, nil, 3)
	locksReg := locks.New(db)
	agentsReg := agents.New(db, 10*time.Millisecond, 20*time.Millisecond)
	sessionsReg := sessions.New(db)
	salvageReg := salvage.New(db)
	broker := messaging.New(db, 1000, 7*24*time.Hour, 10, nil)
	activityLog := activity.New(db)

	cfg := reaper.Config{Interval: time.Minute, SnapshotNotes: 20, ActivityRetentionAge: 30 * 24 * time.Hour}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := reaper.New(portsReg, locksReg, agentsReg, sessionsReg, salvageReg, broker, activityLog, cfg, logger)
	return r, agentsReg, sessionsReg, salvageReg, locksReg
}

func TestSweep_CreatesResurrectionEntryForDeadAgentWithActiveSession(t *testing.T) {
	r, agentsReg, sessionsReg, salvageReg, _ := newReaper(t)
	ctx := context.Background()

	_, err := agentsReg.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent", Identity: "myapp:api"})
	require.NoError(t, err)

	_, err = sessionsReg.StartSession(ctx, sessions.StartOptions{Purpose: "work", CreatedBy: "alpha"})
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	r.Sweep(ctx)

	entries, err := salvageReg.Pending(ctx, "myapp", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].DeadAgentID)
}

func TestSweep_DoesNotDuplicateResurrectionEntryAcrossSweeps(t *testing.T) {
	r, agentsReg, sessionsReg, salvageReg, _ := newReaper(t)
	ctx := context.Background()

	_, err := agentsReg.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent", Identity: "myapp:api"})
	require.NoError(t, err)
	_, err = sessionsReg.StartSession(ctx, sessions.StartOptions{Purpose: "work", CreatedBy: "alpha"})
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	r.Sweep(ctx)
	r.Sweep(ctx)

	entries, err := salvageReg.Pending(ctx, "myapp", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSweep_RemovesExpiredLocks(t *testing.T) {
	r, _, _, _, locksReg := newReaper(t)
	ctx := context.Background()

	_, err := locksReg.Acquire(ctx, "l", locks.AcquireOptions{Owner: "A", TTL: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	r.Sweep(ctx)

	n, err := locksReg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
