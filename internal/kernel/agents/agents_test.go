package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/store"
)

func newRegistry(t *testing.T) *agents.Registry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return agents.New(db, 10*time.Minute, 20*time.Minute)
}

func TestRegister_FirstCallSetsRegisteredAt(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent", Identity: "myapp:api"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Agent.ID)
	assert.Equal(t, agents.StateActive, res.Agent.State)
}

func TestRegister_SecondCallRefreshesHeartbeatNotRegisteredAt(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent"})
	require.NoError(t, err)

	second, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent", Purpose: "refactor"})
	require.NoError(t, err)
	assert.Equal(t, first.Agent.RegisteredAt.UnixMilli(), second.Agent.RegisteredAt.UnixMilli())
	assert.Equal(t, "refactor", second.Agent.Purpose)
}

func TestHeartbeat_UnknownIDIsNotFound(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	err := r.Heartbeat(ctx, "ghost")
	require.Error(t, err)
}

func TestUnregister_RemovesRow(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent"})
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx, "alpha"))

	list, err := r.List(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_DerivesStateFromHeartbeatGap(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent"})
	require.NoError(t, err)

	list, err := r.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, agents.StateActive, list[0].State)
}

func TestList_FiltersByState(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "alpha", agents.RegisterOptions{Type: "coding-agent"})
	require.NoError(t, err)

	active, err := r.List(ctx, "", agents.StateActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	dead, err := r.List(ctx, "", agents.StateDead)
	require.NoError(t, err)
	assert.Empty(t, dead)
}
