package httpapi

import (
	"net/http"
	"time"
)

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.deps.StartedAt).String(),
	})
}

func (a *api) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"version": Version})
}

func (a *api) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.deps.Config
	writeOK(w, map[string]any{
		"bindAddr":              cfg.BindAddr,
		"dataDir":               cfg.DataDir,
		"portRangeMin":          cfg.PortRangeMin,
		"portRangeMax":          cfg.PortRangeMax,
		"staleAfter":            cfg.StaleAfter.String(),
		"deadAfter":             cfg.DeadAfter.String(),
		"reaperInterval":        cfg.ReaperInterval.String(),
		"messageRetentionCount": cfg.MessageRetentionCount,
		"rateLimitRequests":     cfg.RateLimitRequests,
		"rateLimitWindow":       cfg.RateLimitWindow.String(),
	})
}

// handleForceReap runs one reaper sweep synchronously, for debugging.
func (a *api) handleForceReap(w http.ResponseWriter, r *http.Request) {
	a.deps.Reaper.Sweep(r.Context())
	writeOK(w, nil)
}
