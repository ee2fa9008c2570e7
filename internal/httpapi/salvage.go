package httpapi

import (
	"net/http"

	"github.com/kernald/kernald/internal/kernelerr"
)

func (a *api) handleSalvageList(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	stack := r.URL.Query().Get("stack")

	var (
		entries []any
		err     error
	)
	if r.URL.Query().Get("all") == "true" {
		list, listErr := a.deps.Salvage.List(r.Context(), project, stack)
		err = listErr
		for _, e := range list {
			entries = append(entries, e)
		}
	} else {
		list, listErr := a.deps.Salvage.Pending(r.Context(), project, stack)
		err = listErr
		for _, e := range list {
			entries = append(entries, e)
		}
	}
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	writeOK(w, map[string]any{"entries": entries})
}

type salvageActionRequest struct {
	EntryID int64  `json:"entryId"`
	Action  string `json:"action"`
	ByAgent string `json:"byAgent"`
}

// handleSalvageTransition drives a resurrection entry through its
// lifecycle: claim, complete, abandon, or dismiss.
func (a *api) handleSalvageTransition(w http.ResponseWriter, r *http.Request) {
	var req salvageActionRequest
	if err := decodeJSON(w, r, &req, a.maxBody()); err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}

	var (
		entry any
		err   error
	)
	switch req.Action {
	case "claim":
		entry, err = a.deps.Salvage.Claim(r.Context(), req.EntryID, req.ByAgent)
	case "complete":
		entry, err = a.deps.Salvage.Complete(r.Context(), req.EntryID)
	case "abandon":
		entry, err = a.deps.Salvage.Abandon(r.Context(), req.EntryID)
	case "dismiss":
		entry, err = a.deps.Salvage.Dismiss(r.Context(), req.EntryID)
	default:
		err = kernelerr.Validation("invalid_action", "action must be one of claim, complete, abandon, dismiss")
	}
	if err != nil {
		writeError(w, r, a.deps.Activity, err)
		return
	}
	if a.deps.Activity != nil {
		_ = a.deps.Activity.Record(r.Context(), "salvage", req.Action, "", "", req.ByAgent)
	}
	writeOK(w, map[string]any{"entry": entry})
}
