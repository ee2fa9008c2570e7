package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kernald/kernald/internal/kernel/sessions"
)

type startSessionRequest struct {
	Purpose   string   `json:"purpose"`
	Files     []string `json:"files"`
	Identity  string   `json:"identity"`
	CreatedBy string   `json:"createdBy"`
	Force     bool     `json:"force"`
}

func (a *api) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	result, err := a.deps.Sessions.StartSession(r.Context(), sessions.StartOptions{
		Purpose: req.Purpose, Files: req.Files, Identity: req.Identity, CreatedBy: req.CreatedBy, Force: req.Force,
	})
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "session", "start", result.Session.ID, "", req.CreatedBy)
	}
	writeCreated(w, map[string]any{"session": result.Session, "conflicts": result.Conflicts})
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	status := sessions.Status(r.URL.Query().Get("status"))
	list, err := a.deps.Sessions.List(r.Context(), status)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"sessions": list})
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := a.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	notes, err := a.deps.Sessions.ListNotes(r.Context(), id, "", 0)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	files, err := a.deps.Sessions.ListFiles(r.Context(), id)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"session": sess, "notes": notes, "files": files})
}

type endSessionRequest struct {
	Status    string `json:"status"`
	Note      string `json:"note"`
	CreatedBy string `json:"createdBy"`
}

func (a *api) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req endSessionRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	sess, err := a.deps.Sessions.EndSession(r.Context(), id, sessions.Status(req.Status), req.Note, req.CreatedBy)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "session", "end", id, req.Status, req.CreatedBy)
	}
	writeOK(w, map[string]any{"session": sess})
}

func (a *api) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.deps.Sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "session", "delete", id, "", "")
	}
	writeOK(w, nil)
}

type addNoteRequest struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedBy string `json:"createdBy"`
}

func (a *api) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req addNoteRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	note, err := a.deps.Sessions.AddNote(r.Context(), id, req.Content, req.Type, req.CreatedBy)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeCreated(w, map[string]any{"note": note})
}

type filesRequest struct {
	Files []string `json:"files"`
	Force bool     `json:"force"`
}

func (a *api) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req filesRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	conflicts, err := a.deps.Sessions.AddFiles(r.Context(), id, req.Files, req.Force)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"conflicts": conflicts})
}

func (a *api) handleRemoveFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req filesRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	n, err := a.deps.Sessions.RemoveFiles(r.Context(), id, req.Files)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"removed": n})
}

type quickNoteRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedBy string `json:"createdBy"`
}

func (a *api) handleQuickNote(w http.ResponseWriter, r *http.Request) {
	var req quickNoteRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	note, err := a.deps.Sessions.AddNote(r.Context(), req.SessionID, req.Content, req.Type, req.CreatedBy)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeCreated(w, map[string]any{"note": note})
}

// handleRecentNotes lists the most recent notes for a single session,
// given as a required query parameter (the kernel has no cross-session
// notes index beyond the session each note belongs to).
func (a *api) handleRecentNotes(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	noteType := r.URL.Query().Get("type")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notes, err := a.deps.Sessions.ListNotes(r.Context(), sessionID, noteType, limit)
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"notes": notes})
}
