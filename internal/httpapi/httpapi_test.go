package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/config"
	"github.com/kernald/kernald/internal/httpapi"
	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/kernel/changelog"
	"github.com/kernald/kernald/internal/kernel/locks"
	"github.com/kernald/kernald/internal/kernel/messaging"
	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernel/salvage"
	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/procutil"
	"github.com/kernald/kernald/internal/store"
)

// newTestRouter wires every registry against an in-memory database and
// returns a router with no rate limiter installed (Deps.RateLimit is
// left nil); the daemon itself always installs one.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterWithMaxSSEStreams(t, 10)
}

// newTestRouterWithMaxSSEStreams is newTestRouter with a caller-chosen
// per-source concurrent-SSE-stream cap, for exercising the cap itself.
func newTestRouterWithMaxSSEStreams(t *testing.T, maxSSEStreams int) http.Handler {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	scanner := procutil.NewScanner(2 * time.Second)
	deps := httpapi.Deps{
		Ports:     ports.New(db, scanner, 10000, 20000, nil, 5),
		Locks:     locks.New(db),
		Messaging: messaging.New(db, 1000, 24*time.Hour, maxSSEStreams, nil),
		Agents:    agents.New(db, time.Minute, 5*time.Minute),
		Sessions:  sessions.New(db),
		Salvage:   salvage.New(db),
		Activity:  activity.New(db),
		Changelog: changelog.New(db),
		Config: &config.Config{
			BindAddr:      "127.0.0.1:7717",
			DataDir:       t.TempDir(),
			PortRangeMin:  10000,
			PortRangeMax:  20000,
			StaleAfter:    time.Minute,
			DeadAfter:     5 * time.Minute,
			MaxSSEStreams: maxSSEStreams,
		},
		StartedAt: time.Now(),
	}
	return httpapi.NewRouter(deps)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}
