// Package salvage implements resurrection entries: the hand-off queue
// created when an agent dies while owning active sessions.
package salvage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
)

// State is a resurrection entry's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateClaimed   State = "claimed"
	StateDone      State = "done"
	StateAbandoned State = "abandoned"
	StateDismissed State = "dismissed"
)

// SessionSnapshot captures one of the dead agent's active sessions at
// the moment of resurrection-entry creation.
type SessionSnapshot struct {
	SessionID string   `json:"sessionId"`
	Purpose   string   `json:"purpose"`
	Notes     []string `json:"notes"`
}

// Entry is a persisted resurrection entry.
type Entry struct {
	ID               int64
	DeadAgentID      string
	Identity         string
	SessionsSnapshot []SessionSnapshot
	CreatedAt        time.Time
	State            State
	ClaimedBy        string
}

// Registry implements the salvage component.
type Registry struct {
	db *sql.DB
}

// New constructs a Registry over db.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Create inserts a pending resurrection entry. Called by the reaper on
// an active->dead agent transition with active sessions.
func (r *Registry) Create(ctx context.Context, deadAgentID, identity string, snapshot []SessionSnapshot) (*Entry, error) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return nil, kernelerr.Transient("encode_error", err.Error())
	}
	now := time.Now()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO resurrection_entries (dead_agent_id, identity, sessions_snapshot, notes_snapshot, created_at, state) VALUES (?, ?, ?, '{}', ?, 'pending')`,
		deadAgentID, identity, string(encoded), now.UnixMilli(),
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	return &Entry{
		ID: id, DeadAgentID: deadAgentID, Identity: identity,
		SessionsSnapshot: snapshot, CreatedAt: now, State: StatePending,
	}, nil
}

// Pending returns pending entries, optionally filtered by project
// and/or stack identity segments.
func (r *Registry) Pending(ctx context.Context, project, stack string) ([]Entry, error) {
	return r.list(ctx, StatePending, project, stack)
}

// List returns entries in any state, optionally filtered by project
// and/or stack identity segments.
func (r *Registry) List(ctx context.Context, project, stack string) ([]Entry, error) {
	return r.list(ctx, "", project, stack)
}

func (r *Registry) list(ctx context.Context, state State, project, stack string) ([]Entry, error) {
	query := `SELECT id, dead_agent_id, identity, sessions_snapshot, created_at, state, claimed_by FROM resurrection_entries WHERE 1=1`
	var args []any
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	if project != "" {
		query += ` AND (identity = ? OR identity LIKE ?)`
		args = append(args, project, project+":%")
	}
	if stack != "" {
		query += ` AND identity LIKE ?`
		args = append(args, "%:"+stack+"%")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Claim moves a pending entry to claimed, recording byAgent.
func (r *Registry) Claim(ctx context.Context, entryID int64, byAgent string) (*Entry, error) {
	return r.transition(ctx, entryID, StatePending, StateClaimed, byAgent)
}

// Complete moves a claimed entry to done.
func (r *Registry) Complete(ctx context.Context, entryID int64) (*Entry, error) {
	return r.transition(ctx, entryID, StateClaimed, StateDone, "")
}

// Abandon moves a claimed entry to abandoned.
func (r *Registry) Abandon(ctx context.Context, entryID int64) (*Entry, error) {
	return r.transition(ctx, entryID, StateClaimed, StateAbandoned, "")
}

// Dismiss moves a pending entry to dismissed.
func (r *Registry) Dismiss(ctx context.Context, entryID int64) (*Entry, error) {
	return r.transition(ctx, entryID, StatePending, StateDismissed, "")
}

func (r *Registry) transition(ctx context.Context, entryID int64, from, to State, claimedBy string) (*Entry, error) {
	entry, err := r.get(ctx, entryID)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if entry == nil {
		return nil, kernelerr.NotFound("salvage_entry_not_found", fmt.Sprintf("no resurrection entry %d", entryID))
	}
	if entry.State != from {
		return nil, kernelerr.Conflict("salvage_invalid_transition",
			fmt.Sprintf("entry %d is %q, expected %q", entryID, entry.State, from))
	}

	var err2 error
	if claimedBy != "" {
		_, err2 = r.db.ExecContext(ctx, `UPDATE resurrection_entries SET state = ?, claimed_by = ? WHERE id = ?`, string(to), claimedBy, entryID)
	} else {
		_, err2 = r.db.ExecContext(ctx, `UPDATE resurrection_entries SET state = ? WHERE id = ?`, string(to), entryID)
	}
	if err2 != nil {
		return nil, kernelerr.Transient("store_error", err2.Error())
	}

	entry.State = to
	if claimedBy != "" {
		entry.ClaimedBy = claimedBy
	}
	return entry, nil
}

// CountByProject returns the number of pending entries whose identity
// is project itself or lies under it ("project:...").
func (r *Registry) CountByProject(ctx context.Context, project string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM resurrection_entries WHERE state = 'pending' AND (identity = ? OR identity LIKE ?)`,
		project, project+":%",
	).Scan(&count)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return count, nil
}

// CountPending returns the total number of pending entries across all
// projects.
func (r *Registry) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM resurrection_entries WHERE state = 'pending'`).Scan(&n)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return n, nil
}

// HasOpenEntry reports whether deadAgentID already has a pending or
// claimed resurrection entry, used by the reaper to avoid duplicate
// entries across sweeps.
func (r *Registry) HasOpenEntry(ctx context.Context, deadAgentID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM resurrection_entries WHERE dead_agent_id = ? AND state IN ('pending', 'claimed')`,
		deadAgentID,
	).Scan(&n)
	if err != nil {
		return false, kernelerr.Transient("store_error", err.Error())
	}
	return n > 0, nil
}

func (r *Registry) get(ctx context.Context, entryID int64) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, dead_agent_id, identity, sessions_snapshot, created_at, state, claimed_by FROM resurrection_entries WHERE id = ?`,
		entryID,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var identity, claimedBy sql.NullString
	var snapshot string
	var createdAt int64
	var state string

	if err := row.Scan(&e.ID, &e.DeadAgentID, &identity, &snapshot, &createdAt, &state, &claimedBy); err != nil {
		return nil, err
	}
	e.Identity = identity.String
	e.ClaimedBy = claimedBy.String
	e.CreatedAt = time.UnixMilli(createdAt)
	e.State = State(state)
	if snapshot != "" {
		_ = json.Unmarshal([]byte(snapshot), &e.SessionsSnapshot)
	}
	return &e, nil
}
