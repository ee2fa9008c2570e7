package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kernald/kernald/internal/config"
	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/kernel/changelog"
	"github.com/kernald/kernald/internal/kernel/locks"
	"github.com/kernald/kernald/internal/kernel/messaging"
	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernel/reaper"
	"github.com/kernald/kernald/internal/kernel/salvage"
	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/logging"
	"github.com/kernald/kernald/internal/metrics"
	"github.com/kernald/kernald/internal/ratelimit"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Deps collects every component the HTTP surface dispatches to.
type Deps struct {
	Ports     *ports.Registry
	Locks     *locks.Registry
	Messaging *messaging.Broker
	Agents    *agents.Registry
	Sessions  *sessions.Registry
	Salvage   *salvage.Registry
	Activity  *activity.Log
	Changelog *changelog.Log
	Reaper    *reaper.Reaper
	Config    *config.Config
	RateLimit *ratelimit.Limiter
	StartedAt time.Time
}

type api struct {
	deps Deps
}

// NewRouter builds the full chi router over deps.
func NewRouter(deps Deps) http.Handler {
	a := &api{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTPMiddleware)
	r.Use(metrics.HTTPMiddleware)
	if deps.RateLimit != nil {
		r.Use(deps.RateLimit.Middleware)
	}

	r.Get("/health", a.handleHealth)
	r.Get("/version", a.handleVersion)
	r.Get("/config", a.handleConfig)
	r.Handle("/metrics", promhttp.Handler())

	// Ports/services.
	r.Post("/claim", a.handleClaim)
	r.Post("/claim/{id}", a.handleClaim)
	r.Delete("/release", a.handleRelease)
	r.Delete("/release/{id}", a.handleRelease)
	r.Get("/services", a.handleListServices)
	r.Get("/services/{id}", a.handleGetService)

	// Locks.
	r.Post("/locks/{name}", a.handleLockAcquire)
	r.Put("/locks/{name}", a.handleLockExtend)
	r.Delete("/locks/{name}", a.handleLockRelease)
	r.Get("/locks", a.handleListLocks)

	// Messaging.
	r.Post("/msg/{channel}", a.handlePublish)
	r.Get("/msg/{channel}", a.handleHistory)
	r.Delete("/msg/{channel}", a.handleClearChannel)
	r.Get("/subscribe/{channel}", a.handleSubscribe)
	r.Get("/channels", a.handleChannels)

	// Agents.
	r.Post("/agents/{id}", a.handleRegisterAgent)
	r.Put("/agents/{id}/heartbeat", a.handleHeartbeat)
	r.Delete("/agents/{id}", a.handleUnregisterAgent)
	r.Get("/agents", a.handleListAgents)

	// Sessions, notes, file claims.
	r.Post("/sessions", a.handleStartSession)
	r.Get("/sessions", a.handleListSessions)
	r.Get("/sessions/{id}", a.handleGetSession)
	r.Put("/sessions/{id}", a.handleEndSession)
	r.Delete("/sessions/{id}", a.handleDeleteSession)
	r.Post("/sessions/{id}/notes", a.handleAddNote)
	r.Post("/sessions/{id}/files", a.handleAddFiles)
	r.Delete("/sessions/{id}/files", a.handleRemoveFiles)
	r.Post("/notes", a.handleQuickNote)
	r.Get("/notes", a.handleRecentNotes)

	// Resurrection/salvage.
	r.Get("/salvage", a.handleSalvageList)
	r.Post("/salvage", a.handleSalvageTransition)
	r.Post("/resurrection/reap", a.handleForceReap)

	// Audit log and changelog.
	r.Get("/activity", a.handleActivity)
	r.Post("/changelog", a.handleChangelogRecord)
	r.Get("/changelog", a.handleChangelogList)

	return r
}

func (a *api) maxBody() int64 {
	if a.deps.Config != nil && a.deps.Config.MaxBodyBytes > 0 {
		return a.deps.Config.MaxBodyBytes
	}
	return 10 * 1024
}
