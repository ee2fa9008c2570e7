// Package changelog implements the immutable per-identity changelog:
// a durable record of feature/fix/refactor entries recorded against an
// identity, independent of the ephemeral session notes.
package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/validate"
)

// Type is the fixed enum of changelog entry kinds.
type Type string

const (
	TypeFeature  Type = "feature"
	TypeFix      Type = "fix"
	TypeRefactor Type = "refactor"
	TypeDocs     Type = "docs"
	TypeChore    Type = "chore"
	TypeBreaking Type = "breaking"
)

func (t Type) valid() bool {
	switch t {
	case TypeFeature, TypeFix, TypeRefactor, TypeDocs, TypeChore, TypeBreaking:
		return true
	default:
		return false
	}
}

// Entry is an immutable persisted changelog row.
type Entry struct {
	ID          int64
	Identity    string
	Type        Type
	Summary     string
	Description string
	SessionID   string
	AgentID     string
	CreatedAt   time.Time
}

// Log implements the changelog component.
type Log struct {
	db *sql.DB
}

// New constructs a Log over db.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record validates and inserts an immutable changelog entry.
func (l *Log) Record(ctx context.Context, identity string, typ Type, summary, description, sessionID, agentID string) (*Entry, error) {
	if err := validate.ValidateIdentity(identity); err != nil {
		return nil, kernelerr.Validation("invalid_identity", err.Error())
	}
	if !typ.valid() {
		return nil, kernelerr.Validation("invalid_type", fmt.Sprintf("unknown changelog type %q", typ))
	}
	if summary == "" {
		return nil, kernelerr.Validation("invalid_summary", "summary must not be empty")
	}

	now := time.Now()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO changelog_entries (identity, type, summary, description, session_id, agent_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		identity, string(typ), summary, description, sessionID, agentID, now.UnixMilli(),
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	return &Entry{
		ID: id, Identity: identity, Type: typ, Summary: summary, Description: description,
		SessionID: sessionID, AgentID: agentID, CreatedAt: now,
	}, nil
}

// Filter narrows a List query.
type Filter struct {
	Identity string
	Type     Type
	Since    time.Time
	Limit    int
}

// List returns changelog entries, ancestor-inclusive on Identity: a
// query for "a:b" also returns entries recorded at "a:b:c" and deeper
// descendants.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Identity != "" {
		if err := validate.ValidateIdentity(f.Identity); err != nil {
			return nil, kernelerr.Validation("invalid_identity", err.Error())
		}
	}

	query := `SELECT id, identity, type, summary, description, session_id, agent_id, created_at FROM changelog_entries WHERE 1=1`
	var args []any

	if f.Identity != "" {
		query += ` AND (identity = ? OR identity LIKE ?)`
		args = append(args, f.Identity, f.Identity+":%")
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var description, sessionID, agentID sql.NullString
		var createdAt int64
		var typ string
		if err := rows.Scan(&e.ID, &e.Identity, &typ, &e.Summary, &description, &sessionID, &agentID, &createdAt); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		e.Type = Type(typ)
		e.Description = description.String
		e.SessionID = sessionID.String
		e.AgentID = agentID.String
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
