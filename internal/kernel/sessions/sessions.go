// Package sessions implements session lifecycle, append-only notes,
// and advisory file-claim tracking.
package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kernald/kernald/internal/ids"
	"github.com/kernald/kernald/internal/kernelerr"
)

// Status is a session's lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Session is a persisted session row.
type Session struct {
	ID        string
	Purpose   string
	CreatedBy string
	Identity  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    Status
}

// Note is an immutable note appended to a session.
type Note struct {
	ID        int64
	SessionID string
	Type      string
	Content   string
	CreatedBy string
	CreatedAt time.Time
}

// FileClaimConflict describes an existing claim on a path by another
// active session.
type FileClaimConflict struct {
	Path           string
	HeldBySession  string
}

// StartOptions parametrizes startSession.
type StartOptions struct {
	Purpose   string
	Files     []string
	Identity  string
	CreatedBy string
	Force     bool
}

// StartResult is the outcome of startSession.
type StartResult struct {
	Session   Session
	Conflicts []FileClaimConflict
}

// Registry implements the sessions component.
type Registry struct {
	db *sql.DB
}

// New constructs a Registry over db.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// StartSession creates a session row and, for each supplied file path,
// attempts to write a FileClaim. Paths held by another active session
// are reported as conflicts; unless force=true, no claim row is
// written for a conflicting path.
func (r *Registry) StartSession(ctx context.Context, opts StartOptions) (*StartResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	id := ids.Generate()
	now := time.Now()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, purpose, created_by, identity, created_at, updated_at, status) VALUES (?, ?, ?, ?, ?, ?, 'active')`,
		id, opts.Purpose, opts.CreatedBy, opts.Identity, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	var conflicts []FileClaimConflict
	for _, path := range opts.Files {
		holder, err := claimHolder(ctx, tx, path)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		if holder != "" && holder != id {
			conflicts = append(conflicts, FileClaimConflict{Path: path, HeldBySession: holder})
			if !opts.Force {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO file_claims (session_id, path, claimed_at) VALUES (?, ?, ?)`,
			id, path, now.UnixMilli(),
		); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	return &StartResult{
		Session: Session{
			ID: id, Purpose: opts.Purpose, CreatedBy: opts.CreatedBy, Identity: opts.Identity,
			CreatedAt: now, UpdatedAt: now, Status: StatusActive,
		},
		Conflicts: conflicts,
	}, nil
}

// claimHolder returns the id of an active session currently holding
// path, or "" if none; callers compare it with their own session id.
func claimHolder(ctx context.Context, tx *sql.Tx, path string) (string, error) {
	var sessionID string
	err := tx.QueryRowContext(ctx, `
		SELECT fc.session_id FROM file_claims fc
		JOIN sessions s ON s.id = fc.session_id
		WHERE fc.path = ? AND s.status = 'active'
		LIMIT 1`, path).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// EndSession transitions a session to a terminal status. Idempotent on
// an already-terminal status.
func (r *Registry) EndSession(ctx context.Context, id string, status Status, note string, createdBy string) (*Session, error) {
	if status != StatusCompleted && status != StatusAbandoned {
		return nil, kernelerr.Validation("invalid_status", "status must be completed or abandoned")
	}

	sess, err := r.lookup(ctx, id)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if sess == nil {
		return nil, kernelerr.NotFound("session_not_found", "unknown session id "+id)
	}
	if sess.Status != StatusActive {
		return sess, nil
	}

	if note != "" {
		if _, err := r.AddNote(ctx, id, note, "", createdBy); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, status, now.UnixMilli(), id); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	sess.Status = status
	sess.UpdatedAt = now
	return sess, nil
}

// DeleteSession removes a session and cascades to its notes and file
// claims.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kernelerr.Transient("store_error", err.Error())
	}
	if n == 0 {
		return kernelerr.NotFound("session_not_found", "unknown session id "+id)
	}
	return nil
}

// AddNote appends a note. If sessionID is empty, it looks up the most
// recent active session for createdBy, creating an implicit "quick
// note" session if none exists.
func (r *Registry) AddNote(ctx context.Context, sessionID, content, noteType, createdBy string) (*Note, error) {
	if content == "" {
		return nil, kernelerr.Validation("invalid_content", "note content must not be empty")
	}

	if sessionID == "" {
		existing, err := r.mostRecentActiveSession(ctx, createdBy)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		if existing != "" {
			sessionID = existing
		} else {
			res, err := r.StartSession(ctx, StartOptions{Purpose: "quick note", CreatedBy: createdBy})
			if err != nil {
				return nil, err
			}
			sessionID = res.Session.ID
		}
	} else {
		sess, err := r.lookup(ctx, sessionID)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		if sess == nil {
			return nil, kernelerr.NotFound("session_not_found", "unknown session id "+sessionID)
		}
	}

	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (session_id, type, content, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, noteType, content, createdBy, now.UnixMilli(),
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	return &Note{ID: id, SessionID: sessionID, Type: noteType, Content: content, CreatedBy: createdBy, CreatedAt: now}, nil
}

func (r *Registry) mostRecentActiveSession(ctx context.Context, createdBy string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE created_by = ? AND status = 'active' ORDER BY created_at DESC LIMIT 1`,
		createdBy,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// ListNotes returns up to limit notes for sessionID, optionally
// filtered by type, newest first.
func (r *Registry) ListNotes(ctx context.Context, sessionID string, noteType string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if noteType == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, session_id, type, content, created_by, created_at FROM notes WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
			sessionID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, session_id, type, content, created_by, created_at FROM notes WHERE session_id = ? AND type = ? ORDER BY id DESC LIMIT ?`,
			sessionID, noteType, limit)
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var typ, createdBy sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.SessionID, &typ, &n.Content, &createdBy, &createdAt); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		n.Type = typ.String
		n.CreatedBy = createdBy.String
		n.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// AddFiles adds FileClaims for an active session, same advisory
// conflict semantics as StartSession.
func (r *Registry) AddFiles(ctx context.Context, sessionID string, paths []string, force bool) ([]FileClaimConflict, error) {
	sess, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if sess == nil {
		return nil, kernelerr.NotFound("session_not_found", "unknown session id "+sessionID)
	}
	if sess.Status != StatusActive {
		return nil, kernelerr.Conflict("session_terminal", fmt.Sprintf("session %q is terminal", sessionID))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	var conflicts []FileClaimConflict
	for _, path := range paths {
		holder, err := claimHolder(ctx, tx, path)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		if holder != "" && holder != sessionID {
			conflicts = append(conflicts, FileClaimConflict{Path: path, HeldBySession: holder})
			if !force {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO file_claims (session_id, path, claimed_at) VALUES (?, ?, ?)`,
			sessionID, path, now.UnixMilli(),
		); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	return conflicts, nil
}

// RemoveFiles deletes FileClaims for a session.
func (r *Registry) RemoveFiles(ctx context.Context, sessionID string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	var total int64
	for _, path := range paths {
		res, err := r.db.ExecContext(ctx, `DELETE FROM file_claims WHERE session_id = ? AND path = ?`, sessionID, path)
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		total += n
	}
	return int(total), nil
}

// ListFiles returns the paths claimed by sessionID.
func (r *Registry) ListFiles(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT path FROM file_claims WHERE session_id = ? ORDER BY path`, sessionID)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

func (r *Registry) lookup(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, purpose, created_by, identity, created_at, updated_at, status FROM sessions WHERE id = ?`, id)
	var s Session
	var purpose, createdBy, identity sql.NullString
	var createdAt, updatedAt int64
	var status string
	if err := row.Scan(&s.ID, &purpose, &createdBy, &identity, &createdAt, &updatedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.Purpose = purpose.String
	s.CreatedBy = createdBy.String
	s.Identity = identity.String
	s.CreatedAt = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)
	s.Status = Status(status)
	return &s, nil
}

// ActiveSessionsByCreator returns active sessions created by agentID,
// used by the reaper to build resurrection-entry snapshots.
func (r *Registry) ActiveSessionsByCreator(ctx context.Context, agentID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, purpose, created_by, identity, created_at, updated_at, status FROM sessions WHERE created_by = ? AND status = 'active'`,
		agentID,
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var purpose, createdBy, identity sql.NullString
		var createdAt, updatedAt int64
		var status string
		if err := rows.Scan(&s.ID, &purpose, &createdBy, &identity, &createdAt, &updatedAt, &status); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		s.Purpose = purpose.String
		s.CreatedBy = createdBy.String
		s.Identity = identity.String
		s.CreatedAt = time.UnixMilli(createdAt)
		s.UpdatedAt = time.UnixMilli(updatedAt)
		s.Status = Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// List returns sessions optionally filtered by status, newest first.
func (r *Registry) List(ctx context.Context, status Status) ([]Session, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, purpose, created_by, identity, created_at, updated_at, status FROM sessions ORDER BY created_at DESC`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, purpose, created_by, identity, created_at, updated_at, status FROM sessions WHERE status = ? ORDER BY created_at DESC`,
			string(status))
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var purpose, createdBy, identity sql.NullString
		var createdAt, updatedAt int64
		var st string
		if err := rows.Scan(&s.ID, &purpose, &createdBy, &identity, &createdAt, &updatedAt, &st); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		s.Purpose = purpose.String
		s.CreatedBy = createdBy.String
		s.Identity = identity.String
		s.CreatedAt = time.UnixMilli(createdAt)
		s.UpdatedAt = time.UnixMilli(updatedAt)
		s.Status = Status(st)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountOpen returns the number of currently active sessions.
func (r *Registry) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return n, nil
}

// Get returns a session by id.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := r.lookup(ctx, id)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if sess == nil {
		return nil, kernelerr.NotFound("session_not_found", "unknown session id "+id)
	}
	return sess, nil
}
