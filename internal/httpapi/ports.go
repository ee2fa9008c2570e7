package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernelerr"
)

type claimRequest struct {
	Identity      string `json:"identity"`
	PreferredPort int    `json:"preferredPort"`
	RangeMin      int    `json:"rangeMin"`
	RangeMax      int    `json:"rangeMax"`
	ExpiresInSec  int    `json:"expiresInSeconds"`
	PID           *int   `json:"pid"`
}

func (a *api) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.Identity = id
	}

	opts := ports.ClaimOptions{
		PreferredPort: req.PreferredPort,
		RangeMin:      req.RangeMin,
		RangeMax:      req.RangeMax,
		PID:           req.PID,
	}
	if req.ExpiresInSec > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInSec) * time.Second)
		opts.Expires = &t
	}

	result, err := a.deps.Ports.Claim(r.Context(), req.Identity, opts)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "port", "claim", req.Identity, "", "")
	}
	if !result.Existing {
		writeCreated(w, map[string]any{"port": result.Port, "existing": result.Existing})
		return
	}
	writeOK(w, map[string]any{"port": result.Port, "existing": result.Existing})
}

func (a *api) handleRelease(w http.ResponseWriter, r *http.Request) {
	pattern := chi.URLParam(r, "id")
	if pattern == "" {
		pattern = r.URL.Query().Get("pattern")
	}
	if r.URL.Query().Get("expired") == "true" {
		n, err := a.deps.Ports.ReleaseExpired(r.Context())
		if err != nil {
			writeError(w, r, a.deps.Activity, err)
			return
		}
		writeOK(w, map[string]any{"released": n})
		return
	}
	if pattern == "" {
		writeError(w, r, a.deps.Activity, kernelerr.Validation("invalid_pattern", "identity or pattern required"))
		return
	}

	n, err := a.deps.Ports.Release(r.Context(), pattern)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "port", "release", pattern, "", "")
	}
	writeOK(w, map[string]any{"released": n})
}

func (a *api) handleListServices(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	services, err := a.deps.Ports.List(r.Context(), pattern)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"services": services})
}

func (a *api) handleGetService(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "id")
	services, err := a.deps.Ports.List(r.Context(), identity)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	for _, svc := range services {
		if svc.Identity == identity {
			writeOK(w, map[string]any{"service": svc})
			return
		}
	}
	writeError(w, r, a.deps.Activity, kernelerr.NotFound("service_not_found", "no service claimed for identity "+identity))
}
