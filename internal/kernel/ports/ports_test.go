package ports_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/procutil"
	"github.com/kernald/kernald/internal/store"
)

func newRegistry(t *testing.T) (*ports.Registry, *sql.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	scanner := procutil.NewScanner(2 * time.Second)
	return ports.New(db, scanner, 20000, 20100, nil, 3), db
}

func TestClaim_FreshIdentityGetsPort(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	res, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.GreaterOrEqual(t, res.Port, 20000)
	assert.LessOrEqual(t, res.Port, 20100)
}

func TestClaim_LiveOwnerIsIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	pid := os.Getpid()

	first, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{PID: &pid})
	require.NoError(t, err)
	require.False(t, first.Existing)

	second, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{PID: &pid})
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Port, second.Port)
}

func TestClaim_DeadOwnerIsReclaimed(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	deadPID := 999999999

	first, err := r.Claim(ctx, "myapp:web", ports.ClaimOptions{PID: &deadPID})
	require.NoError(t, err)
	require.False(t, first.Existing)

	second, err := r.Claim(ctx, "myapp:web", ports.ClaimOptions{})
	require.NoError(t, err)
	assert.False(t, second.Existing)
}

func TestClaim_DistinctIdentitiesGetDistinctPorts(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	a, err := r.Claim(ctx, "svc:a", ports.ClaimOptions{})
	require.NoError(t, err)
	b, err := r.Claim(ctx, "svc:b", ports.ClaimOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Port, b.Port)
}

func TestRelease_RemovesMatchingRows(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{})
	require.NoError(t, err)

	n, err := r.Release(ctx, "myapp:api")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := r.List(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRelease_WildcardPattern(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{})
	require.NoError(t, err)
	_, err = r.Claim(ctx, "myapp:web", ports.ClaimOptions{})
	require.NoError(t, err)
	_, err = r.Claim(ctx, "other:svc", ports.ClaimOptions{})
	require.NoError(t, err)

	n, err := r.Release(ctx, "myapp:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := r.List(ctx, "*")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "other:svc", list[0].Identity)
}

func TestReleaseExpired_RemovesOnlyPastExpiry(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_, err := r.Claim(ctx, "expired:svc", ports.ClaimOptions{Expires: &past})
	require.NoError(t, err)
	_, err = r.Claim(ctx, "fresh:svc", ports.ClaimOptions{Expires: &future})
	require.NoError(t, err)

	n, err := r.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := r.List(ctx, "*")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh:svc", list[0].Identity)
}

func TestSetEndpoint_MergesIntoMap(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Claim(ctx, "myapp:api", ports.ClaimOptions{})
	require.NoError(t, err)

	svc, err := r.SetEndpoint(ctx, "myapp:api", "local", "http://localhost:20000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:20000", svc.Endpoints["local"])

	svc, err = r.SetEndpoint(ctx, "myapp:api", "tunnel", "https://example.tunnel")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:20000", svc.Endpoints["local"])
	assert.Equal(t, "https://example.tunnel", svc.Endpoints["tunnel"])
}

func TestSetEndpoint_UnknownIdentityNotFound(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.SetEndpoint(ctx, "ghost:svc", "local", "http://localhost:1")
	require.Error(t, err)
}

func TestClaim_InvalidIdentityRejected(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Claim(ctx, "bad identity!", ports.ClaimOptions{})
	require.Error(t, err)
}

// TestClaim_ConcurrentSameIdentitySerializes exercises spec.md §5's
// guarantee that concurrent first-claims for the same brand-new
// identity serialize: exactly one caller wins with Existing=false, and
// every other caller observes Existing=true against the winner's
// port, never an error.
func TestClaim_ConcurrentSameIdentitySerializes(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*ports.ClaimResult, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Claim(ctx, "racer:svc", ports.ClaimOptions{})
		}(i)
	}
	wg.Wait()

	var winners, losers int
	var winningPort int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].Existing {
			losers++
			continue
		}
		winners++
		winningPort = results[i].Port
	}

	assert.Equal(t, 1, winners, "exactly one concurrent claimer should win the insert")
	assert.Equal(t, n-1, losers)
	for i := 0; i < n; i++ {
		if results[i].Existing {
			assert.Equal(t, winningPort, results[i].Port)
		}
	}
}
