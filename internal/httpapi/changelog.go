package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kernald/kernald/internal/kernel/changelog"
)

type changelogRequest struct {
	Identity    string `json:"identity"`
	Type        string `json:"type"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
}

func (a *api) handleChangelogRecord(w http.ResponseWriter, r *http.Request) {
	var req changelogRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	entry, err := a.deps.Changelog.Record(r.Context(), req.Identity, changelog.Type(req.Type), req.Summary, req.Description, req.SessionID, req.AgentID)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "changelog", "record", req.Identity, req.Summary, req.AgentID)
	}
	writeCreated(w, map[string]any{"entry": entry})
}

func (a *api) handleChangelogList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := changelog.Filter{
		Identity: q.Get("identity"),
		Type:     changelog.Type(q.Get("type")),
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		}
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}

	entries, err := a.deps.Changelog.List(r.Context(), f)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"entries": entries})
}
