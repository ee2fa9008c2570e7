// Package locks implements named, TTL-bounded mutual-exclusion locks.
package locks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
)

// Lock is a persisted named lock.
type Lock struct {
	Name       string
	Owner      string
	PID        *int
	AcquiredAt time.Time
	ExpiresAt  *time.Time
}

// AcquireOptions parametrizes acquire.
type AcquireOptions struct {
	Owner string
	TTL   time.Duration
	PID   *int
}

// AcquireResult is the outcome of an acquire attempt.
type AcquireResult struct {
	Acquired bool
	Holder   *Lock
}

// Registry implements the locks component.
type Registry struct {
	db *sql.DB
}

// New constructs a Registry over db.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Acquire inserts a lock row iff no unexpired row for name exists.
// Never blocks: on contention it returns the current holder.
func (r *Registry) Acquire(ctx context.Context, name string, opts AcquireOptions) (*AcquireResult, error) {
	if name == "" {
		return nil, kernelerr.Validation("invalid_name", "lock name must not be empty")
	}
	if opts.Owner == "" {
		return nil, kernelerr.Validation("invalid_owner", "lock owner must not be empty")
	}

	if _, err := r.sweepExpired(ctx, name); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	now := time.Now()
	var expiresAt *int64
	if opts.TTL > 0 {
		ms := now.Add(opts.TTL).UnixMilli()
		expiresAt = &ms
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locks (name, owner, pid, acquired_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		name, opts.Owner, opts.PID, now.UnixMilli(), expiresAt,
	)
	if err == nil {
		return &AcquireResult{Acquired: true}, nil
	}
	if !isUniqueConstraintErr(err) {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	holder, err := r.lookup(ctx, name)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if holder == nil {
		// Lost a race with a concurrent release; try the acquire again.
		return r.Acquire(ctx, name, opts)
	}
	return &AcquireResult{Acquired: false, Holder: holder}, nil
}

// Extend updates expiresAt = now + ttl. Requires a matching owner
// unless force is set.
func (r *Registry) Extend(ctx context.Context, name string, owner string, ttl time.Duration, force bool) (*Lock, error) {
	if _, err := r.sweepExpired(ctx, name); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	lock, err := r.lookup(ctx, name)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if lock == nil {
		return nil, kernelerr.NotFound("lock_not_found", fmt.Sprintf("no lock held for %q", name))
	}
	if !force && lock.Owner != owner {
		return nil, kernelerr.Conflict("lock_owner_mismatch", fmt.Sprintf("lock %q is held by %q", name, lock.Owner)).
			WithDetail("holder", lock.Owner)
	}

	newExpiry := time.Now().Add(ttl)
	if _, err := r.db.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE name = ?`, newExpiry.UnixMilli(), name); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	lock.ExpiresAt = &newExpiry
	return lock, nil
}

// Release deletes the lock iff owner matches, or unconditionally when
// force is set. Returns released=false (not an error) if the lock was
// not held.
func (r *Registry) Release(ctx context.Context, name, owner string, force bool) (bool, error) {
	if _, err := r.sweepExpired(ctx, name); err != nil {
		return false, kernelerr.Transient("store_error", err.Error())
	}

	lock, err := r.lookup(ctx, name)
	if err != nil {
		return false, kernelerr.Transient("store_error", err.Error())
	}
	if lock == nil {
		return false, nil
	}
	if !force && lock.Owner != owner {
		return false, kernelerr.Conflict("lock_owner_mismatch", fmt.Sprintf("lock %q is held by %q", name, lock.Owner)).
			WithDetail("holder", lock.Owner)
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ?`, name)
	if err != nil {
		return false, kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, kernelerr.Transient("store_error", err.Error())
	}
	return n > 0, nil
}

// SweepExpired deletes every expired lock row across all names,
// returning the count removed. Invoked by the reaper.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	n, err := r.sweepAllExpired(ctx)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(n), nil
}

// Count returns the number of currently held (unexpired) locks.
func (r *Registry) Count(ctx context.Context) (int, error) {
	if _, err := r.sweepAllExpired(ctx); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM locks`).Scan(&n); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return n, nil
}

// Check is a non-mutating read of a lock's current state.
func (r *Registry) Check(ctx context.Context, name string) (*Lock, error) {
	if _, err := r.sweepExpired(ctx, name); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	lock, err := r.lookup(ctx, name)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	return lock, nil
}

// List returns unexpired locks, optionally filtered by owner.
func (r *Registry) List(ctx context.Context, owner string) ([]Lock, error) {
	if _, err := r.sweepAllExpired(ctx); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	var rows *sql.Rows
	var err error
	if owner == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT name, owner, pid, acquired_at, expires_at FROM locks ORDER BY acquired_at DESC`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT name, owner, pid, acquired_at, expires_at FROM locks WHERE owner = ? ORDER BY acquired_at DESC`, owner)
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *Registry) lookup(ctx context.Context, name string) (*Lock, error) {
	row := r.db.QueryRowContext(ctx, `SELECT name, owner, pid, acquired_at, expires_at FROM locks WHERE name = ?`, name)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// sweepExpired lazily deletes name's row if its expiry has passed.
func (r *Registry) sweepExpired(ctx context.Context, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM locks WHERE name = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		name, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// sweepAllExpired lazily deletes every expired lock row, used before
// list().
func (r *Registry) sweepAllExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLock(row scanner) (*Lock, error) {
	var l Lock
	var pid sql.NullInt64
	var acquiredAt int64
	var expiresAt sql.NullInt64

	if err := row.Scan(&l.Name, &l.Owner, &pid, &acquiredAt, &expiresAt); err != nil {
		return nil, err
	}
	if pid.Valid {
		v := int(pid.Int64)
		l.PID = &v
	}
	l.AcquiredAt = time.UnixMilli(acquiredAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		l.ExpiresAt = &t
	}
	return &l, nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
