// Package activity implements the write-only audit log every mutating
// kernel operation appends to.
package activity

import (
	"context"
	"database/sql"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
)

// Entry is a persisted activity row.
type Entry struct {
	ID        int64
	Type      string
	Action    string
	Target    string
	Details   string
	AgentID   string
	CreatedAt time.Time
}

// Filter narrows a List query.
type Filter struct {
	Type    string
	AgentID string
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// Log implements the activity component.
type Log struct {
	db *sql.DB
}

// New constructs a Log over db.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record appends one activity row. A failed insert is returned as a
// Transient error — callers should not abort the operation being
// audited if this fails, but should surface the failure to logs.
func (l *Log) Record(ctx context.Context, typ, action, target, details, agentID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO activity_entries (type, action, target, details, agent_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		typ, action, target, details, agentID, time.Now().UnixMilli(),
	)
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	return nil
}

// List returns activity rows matching filter, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, type, action, target, details, agent_id, created_at FROM activity_entries WHERE 1=1`
	var args []any

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.Until.UnixMilli())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var target, details, agentID sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Action, &target, &details, &agentID, &createdAt); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		e.Target = target.String
		e.Details = details.String
		e.AgentID = agentID.String
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reclaim deletes activity rows older than maxAge, and additionally
// trims down to maxCount total rows if that bound is tighter. Invoked
// by the reaper.
func (l *Log) Reclaim(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	var total int64

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		res, err := tx.ExecContext(ctx, `DELETE FROM activity_entries WHERE created_at < ?`, cutoff)
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if maxCount > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM activity_entries WHERE id IN (
				SELECT id FROM activity_entries ORDER BY id DESC LIMIT -1 OFFSET ?
			)`, maxCount)
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(total), nil
}
