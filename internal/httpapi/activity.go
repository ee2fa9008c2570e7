package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kernald/kernald/internal/kernel/activity"
)

func (a *api) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := activity.Filter{
		Type:    q.Get("type"),
		AgentID: q.Get("agentId"),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Until = t
		}
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	entries, err := a.deps.Activity.List(r.Context(), f)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"entries": entries})
}
