package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kernald/kernald/internal/kernel/locks"
)

type lockAcquireRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttlSeconds"`
	PID        *int   `json:"pid"`
}

func (a *api) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req lockAcquireRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	result, err := a.deps.Locks.Acquire(r.Context(), name, locks.AcquireOptions{Owner: req.Owner, TTL: ttl, PID: req.PID})
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if !result.Acquired {
		writeOK(w, map[string]any{"acquired": false, "holder": result.Holder})
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "lock", "acquire", name, "", req.Owner)
	}
	writeOK(w, map[string]any{"acquired": true})
}

type lockExtendRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttlSeconds"`
	Force      bool   `json:"force"`
}

func (a *api) handleLockExtend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req lockExtendRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	lock, err := a.deps.Locks.Extend(r.Context(), name, req.Owner, time.Duration(req.TTLSeconds)*time.Second, req.Force)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"lock": lock})
}

type lockReleaseRequest struct {
	Owner string `json:"owner"`
	Force bool   `json:"force"`
}

func (a *api) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req lockReleaseRequest
	_ = decodeJSON(w, r, &req, a.maxBody())

	released, err := a.deps.Locks.Release(r.Context(), name, req.Owner, req.Force)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if released && a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "lock", "release", name, "", req.Owner)
	}
	writeOK(w, map[string]any{"released": released})
}

func (a *api) handleListLocks(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	list, err := a.deps.Locks.List(r.Context(), owner)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"locks": list})
}
