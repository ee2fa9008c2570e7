package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kernald/kernald/internal/kernel/agents"
)

type registerAgentRequest struct {
	Type       string `json:"type"`
	Purpose    string `json:"purpose"`
	Identity   string `json:"identity"`
	WorktreeID string `json:"worktreeId"`
}

func (a *api) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req registerAgentRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	result, err := a.deps.Agents.Register(r.Context(), id, agents.RegisterOptions{
		Type: req.Type, Purpose: req.Purpose, Identity: req.Identity, WorktreeID: req.WorktreeID,
	})
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "agent", "register", id, "", id)
	}
	writeOK(w, map[string]any{"agent": result.Agent, "salvageHint": result.SalvageHint})
}

func (a *api) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.deps.Agents.Heartbeat(r.Context(), id); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, nil)
}

func (a *api) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.deps.Agents.Unregister(r.Context(), id); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "agent", "unregister", id, "", id)
	}
	writeOK(w, nil)
}

func (a *api) handleListAgents(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("project")
	state := agents.State(r.URL.Query().Get("state"))

	list, err := a.deps.Agents.List(r.Context(), prefix, state)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"agents": list})
}
