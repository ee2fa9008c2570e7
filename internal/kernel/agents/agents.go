// Package agents implements agent registration, heartbeating, and the
// derived active/stale/dead liveness view used by the reaper and by
// salvage hand-off.
package agents

import (
	"context"
	"database/sql"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/validate"
)

// State is the derived liveness state of an agent.
type State string

const (
	StateActive State = "active"
	StateStale  State = "stale"
	StateDead   State = "dead"
)

// Agent is a persisted agent registration.
type Agent struct {
	ID            string
	Type          string
	Purpose       string
	Identity      string
	WorktreeID    string
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	State         State
}

// RegisterOptions parametrizes register.
type RegisterOptions struct {
	Type       string
	Purpose    string
	Identity   string
	WorktreeID string
}

// RegisterResult is the outcome of register, including a salvage hint.
type RegisterResult struct {
	Agent        Agent
	SalvageHint  int
}

// Registry implements the agents component.
type Registry struct {
	db         *sql.DB
	staleAfter time.Duration
	deadAfter  time.Duration
}

// New constructs a Registry with configurable liveness thresholds.
func New(db *sql.DB, staleAfter, deadAfter time.Duration) *Registry {
	return &Registry{db: db, staleAfter: staleAfter, deadAfter: deadAfter}
}

// Register upserts an agent, writing registeredAt on first call and
// always refreshing lastHeartbeat. Returns a salvageHint counting dead
// agents whose identity shares the new identity's project segment.
func (r *Registry) Register(ctx context.Context, id string, opts RegisterOptions) (*RegisterResult, error) {
	if id == "" {
		return nil, kernelerr.Validation("invalid_id", "agent id must not be empty")
	}
	if opts.Identity != "" {
		if err := validate.ValidateIdentity(opts.Identity); err != nil {
			return nil, kernelerr.Validation("invalid_identity", err.Error())
		}
	}

	now := time.Now()
	existing, err := r.lookup(ctx, id)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	if existing == nil {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO agents (id, type, purpose, identity, worktree_id, registered_at, last_heartbeat) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, opts.Type, opts.Purpose, opts.Identity, opts.WorktreeID, now.UnixMilli(), now.UnixMilli(),
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE agents SET type = ?, purpose = ?, identity = ?, worktree_id = ?, last_heartbeat = ? WHERE id = ?`,
			opts.Type, opts.Purpose, opts.Identity, opts.WorktreeID, now.UnixMilli(), id,
		)
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	agent, err := r.lookup(ctx, id)
	if err != nil || agent == nil {
		return nil, kernelerr.Transient("store_error", "agent vanished after upsert")
	}

	hint := 0
	if opts.Identity != "" {
		project := validate.IdentitySegments(opts.Identity)[0]
		hint, err = r.countDeadByProject(ctx, project)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
	}

	return &RegisterResult{Agent: *agent, SalvageHint: hint}, nil
}

func (r *Registry) countDeadByProject(ctx context.Context, project string) (int, error) {
	cutoff := time.Now().Add(-r.deadAfter).UnixMilli()
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM agents WHERE (identity = ? OR identity LIKE ?) AND last_heartbeat < ?`,
		project, project+":%", cutoff,
	).Scan(&count)
	return count, err
}

// Heartbeat refreshes lastHeartbeat for id.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	if n == 0 {
		return kernelerr.NotFound("agent_not_found", "unknown agent id "+id)
	}
	return nil
}

// Unregister deletes the agent row. Active sessions it owns are not
// cascaded.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	if n == 0 {
		return kernelerr.NotFound("agent_not_found", "unknown agent id "+id)
	}
	return nil
}

// List returns agents optionally filtered by identity prefix and
// derived state.
func (r *Registry) List(ctx context.Context, prefix string, state State) ([]Agent, error) {
	var rows *sql.Rows
	var err error
	if prefix == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT id, type, purpose, identity, worktree_id, registered_at, last_heartbeat FROM agents ORDER BY registered_at DESC`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT id, type, purpose, identity, worktree_id, registered_at, last_heartbeat FROM agents WHERE identity LIKE ? ORDER BY registered_at DESC`, prefix+"%")
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Agent
	now := time.Now()
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		a.State = r.deriveState(now, a.LastHeartbeat)
		if state == "" || a.State == state {
			out = append(out, *a)
		}
	}
	return out, rows.Err()
}

func (r *Registry) deriveState(now, lastHeartbeat time.Time) State {
	gap := now.Sub(lastHeartbeat)
	switch {
	case gap < r.staleAfter:
		return StateActive
	case gap < r.deadAfter:
		return StateStale
	default:
		return StateDead
	}
}

func (r *Registry) lookup(ctx context.Context, id string) (*Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, type, purpose, identity, worktree_id, registered_at, last_heartbeat FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.State = r.deriveState(time.Now(), a.LastHeartbeat)
	return a, nil
}

// CountByState returns the number of agents currently in state.
func (r *Registry) CountByState(ctx context.Context, state State) (int, error) {
	agents, err := r.List(ctx, "", state)
	if err != nil {
		return 0, err
	}
	return len(agents), nil
}

// DeadWithActiveSessions returns agents in the dead state as of now,
// used by the reaper to decide resurrection-entry creation.
func (r *Registry) DeadWithActiveSessions(ctx context.Context) ([]Agent, error) {
	cutoff := time.Now().Add(-r.deadAfter).UnixMilli()
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT a.id, a.type, a.purpose, a.identity, a.worktree_id, a.registered_at, a.last_heartbeat
		FROM agents a
		JOIN sessions s ON s.created_by = a.id AND s.status = 'active'
		WHERE a.last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		a.State = StateDead
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var a Agent
	var purpose, identity, worktreeID sql.NullString
	var registeredAt, lastHeartbeat int64

	if err := row.Scan(&a.ID, &a.Type, &purpose, &identity, &worktreeID, &registeredAt, &lastHeartbeat); err != nil {
		return nil, err
	}
	a.Purpose = purpose.String
	a.Identity = identity.String
	a.WorktreeID = worktreeID.String
	a.RegisteredAt = time.UnixMilli(registeredAt)
	a.LastHeartbeat = time.UnixMilli(lastHeartbeat)
	return &a, nil
}
