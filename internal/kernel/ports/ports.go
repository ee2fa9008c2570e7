// Package ports implements the service/port registry: claim, release,
// and lookup of identity -> TCP port assignments, reconciled against
// OS-level process liveness and listening sockets.
package ports

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/procutil"
	"github.com/kernald/kernald/internal/validate"
)

// Service is a persisted identity -> port assignment.
type Service struct {
	Identity   string
	Port       int
	PID        *int
	ClaimedAt  time.Time
	LastSeen   time.Time
	ExpiresAt  *time.Time
	HealthPath *string
	Endpoints  map[string]string
}

// ClaimOptions parametrizes a claim request.
type ClaimOptions struct {
	PreferredPort int
	RangeMin      int
	RangeMax      int
	Expires       *time.Time
	PID           *int
}

// ClaimResult is the outcome of a claim.
type ClaimResult struct {
	Port     int
	Existing bool
}

// Registry implements the ports component.
type Registry struct {
	db            *sql.DB
	scanner       *procutil.Scanner
	rangeMin      int
	rangeMax      int
	reserved      map[int]struct{}
	maxRetries    int
	retryCallback func()
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithRetryCallback registers a hook invoked once per claim retry, for
// metrics instrumentation.
func WithRetryCallback(fn func()) Option {
	return func(r *Registry) { r.retryCallback = fn }
}

// New constructs a Registry. rangeMin/rangeMax bound the default port
// search space; reserved lists ports that are never handed out.
func New(db *sql.DB, scanner *procutil.Scanner, rangeMin, rangeMax int, reserved []int, maxRetries int, opts ...Option) *Registry {
	reservedSet := make(map[int]struct{}, len(reserved))
	for _, p := range reserved {
		reservedSet[p] = struct{}{}
	}
	r := &Registry{
		db:         db,
		scanner:    scanner,
		rangeMin:   rangeMin,
		rangeMax:   rangeMax,
		reserved:   reservedSet,
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Claim assigns a port to identity, reusing an existing live assignment
// when one is present. An assignment with no owning pid counts as live.
func (r *Registry) Claim(ctx context.Context, identity string, opts ClaimOptions) (*ClaimResult, error) {
	if err := validate.ValidateIdentity(identity); err != nil {
		return nil, kernelerr.Validation("invalid_identity", err.Error())
	}
	if opts.PreferredPort != 0 {
		if err := validate.ValidatePort(opts.PreferredPort); err != nil {
			return nil, kernelerr.Validation("invalid_port", err.Error())
		}
	}

	existing, err := r.lookup(ctx, identity)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if existing != nil {
		if existing.PID == nil || procutil.PidAlive(*existing.PID) {
			now := time.Now()
			if _, err := r.db.ExecContext(ctx, `UPDATE services SET last_seen = ? WHERE identity = ?`, now.UnixMilli(), identity); err != nil {
				return nil, kernelerr.Transient("store_error", err.Error())
			}
			return &ClaimResult{Port: existing.Port, Existing: true}, nil
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE identity = ?`, identity); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
	}

	rangeMin, rangeMax := r.rangeMin, r.rangeMax
	if opts.RangeMin != 0 {
		rangeMin = opts.RangeMin
	}
	if opts.RangeMax != 0 {
		rangeMax = opts.RangeMax
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.2

	attempts := r.maxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if r.retryCallback != nil {
				r.retryCallback()
			}
			interval := bo.NextBackOff()
			select {
			case <-ctx.Done():
				return nil, kernelerr.Transient("claim_canceled", ctx.Err().Error())
			case <-time.After(interval):
			}
		}

		port, err := r.findFreePort(opts.PreferredPort, rangeMin, rangeMax)
		if err != nil {
			lastErr = err
			continue
		}

		now := time.Now()
		var expiresAt *int64
		if opts.Expires != nil {
			ms := opts.Expires.UnixMilli()
			expiresAt = &ms
		}
		var pid *int
		if opts.PID != nil {
			pid = opts.PID
		}

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO services (identity, port, pid, claimed_at, last_seen, expires_at, endpoints) VALUES (?, ?, ?, ?, ?, ?, '{}')`,
			identity, port, pid, now.UnixMilli(), now.UnixMilli(), expiresAt,
		)
		if err == nil {
			return &ClaimResult{Port: port, Existing: false}, nil
		}
		if !isUniqueConstraintErr(err) {
			return nil, kernelerr.Transient("store_error", err.Error())
		}

		// Unique violation is either a port collision (retry with a
		// new port) or an identity collision (a concurrent claim for
		// the same identity won the race). Re-lookup by identity to
		// tell them apart: if the row now exists, the winner's claim
		// stands and we report it rather than burning retries on a
		// port that was never the problem.
		winner, lookupErr := r.lookup(ctx, identity)
		if lookupErr != nil {
			return nil, kernelerr.Transient("store_error", lookupErr.Error())
		}
		if winner != nil {
			return &ClaimResult{Port: winner.Port, Existing: true}, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no free port found in range [%d, %d]", rangeMin, rangeMax)
	}
	return nil, kernelerr.Transient("claim_exhausted", lastErr.Error()).WithDetail("attempts", attempts)
}

func (r *Registry) lookup(ctx context.Context, identity string) (*Service, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT identity, port, pid, claimed_at, last_seen, expires_at, health_path, endpoints FROM services WHERE identity = ?`,
		identity,
	)
	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (r *Registry) findFreePort(preferred, rangeMin, rangeMax int) (int, error) {
	taken, err := r.takenPorts()
	if err != nil {
		return 0, err
	}
	listening, err := r.scanner.ListeningPorts()
	if err != nil {
		listening = map[int]struct{}{}
	}

	tryPort := func(p int) bool {
		if _, ok := r.reserved[p]; ok {
			return false
		}
		if _, ok := taken[p]; ok {
			return false
		}
		if _, ok := listening[p]; ok {
			return false
		}
		return true
	}

	if preferred != 0 && tryPort(preferred) {
		return preferred, nil
	}
	for p := rangeMin; p <= rangeMax; p++ {
		if tryPort(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port available in range [%d, %d]", rangeMin, rangeMax)
}

func (r *Registry) takenPorts() (map[int]struct{}, error) {
	rows, err := r.db.Query(`SELECT port FROM services`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taken := make(map[int]struct{})
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		taken[p] = struct{}{}
	}
	return taken, rows.Err()
}

// DropDeadPidServices deletes services whose owning pid is recorded
// but no longer alive on the OS, returning the count removed. Invoked
// by the reaper.
func (r *Registry) DropDeadPidServices(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT identity, pid FROM services WHERE pid IS NOT NULL`)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	type candidate struct {
		identity string
		pid      int
	}
	var dead []candidate
	for rows.Next() {
		var identity string
		var pid int
		if err := rows.Scan(&identity, &pid); err != nil {
			rows.Close()
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		if !procutil.PidAlive(pid) {
			dead = append(dead, candidate{identity, pid})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}

	for _, c := range dead {
		if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE identity = ?`, c.identity); err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return len(dead), nil
}

// Count returns the number of currently claimed services.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM services`).Scan(&n)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return n, nil
}

// Release deletes services matching a glob-style identity pattern,
// returning the count removed.
func (r *Registry) Release(ctx context.Context, pattern string) (int, error) {
	if err := validate.ValidateIdentityQuery(pattern); err != nil {
		return 0, kernelerr.Validation("invalid_pattern", err.Error())
	}
	like := globToLike(pattern)
	res, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE identity LIKE ? ESCAPE '\'`, like)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(n), nil
}

// ReleaseExpired deletes services whose expires_at has passed.
func (r *Registry) ReleaseExpired(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(n), nil
}

// List returns services matching an optional glob pattern, most
// recently claimed first.
func (r *Registry) List(ctx context.Context, pattern string) ([]Service, error) {
	var rows *sql.Rows
	var err error
	if pattern == "" || pattern == "*" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT identity, port, pid, claimed_at, last_seen, expires_at, health_path, endpoints FROM services ORDER BY claimed_at DESC`)
	} else {
		if verr := validate.ValidateIdentityQuery(pattern); verr != nil {
			return nil, kernelerr.Validation("invalid_pattern", verr.Error())
		}
		rows, err = r.db.QueryContext(ctx,
			`SELECT identity, port, pid, claimed_at, last_seen, expires_at, health_path, endpoints FROM services WHERE identity LIKE ? ESCAPE '\' ORDER BY claimed_at DESC`,
			globToLike(pattern))
	}
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

// SetEndpoint merges env -> url into a service's endpoint map.
func (r *Registry) SetEndpoint(ctx context.Context, identity, env, url string) (*Service, error) {
	svc, err := r.lookup(ctx, identity)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	if svc == nil {
		return nil, kernelerr.NotFound("service_not_found", fmt.Sprintf("no service claimed for identity %q", identity))
	}
	if svc.Endpoints == nil {
		svc.Endpoints = make(map[string]string)
	}
	svc.Endpoints[env] = url

	encoded, err := json.Marshal(svc.Endpoints)
	if err != nil {
		return nil, kernelerr.Transient("encode_error", err.Error())
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE services SET endpoints = ? WHERE identity = ?`, string(encoded), identity); err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	return svc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (*Service, error) {
	var svc Service
	var pid sql.NullInt64
	var claimedAt, lastSeen int64
	var expiresAt sql.NullInt64
	var healthPath sql.NullString
	var endpoints string

	if err := row.Scan(&svc.Identity, &svc.Port, &pid, &claimedAt, &lastSeen, &expiresAt, &healthPath, &endpoints); err != nil {
		return nil, err
	}

	if pid.Valid {
		v := int(pid.Int64)
		svc.PID = &v
	}
	svc.ClaimedAt = time.UnixMilli(claimedAt)
	svc.LastSeen = time.UnixMilli(lastSeen)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		svc.ExpiresAt = &t
	}
	if healthPath.Valid {
		svc.HealthPath = &healthPath.String
	}
	if endpoints != "" {
		_ = json.Unmarshal([]byte(endpoints), &svc.Endpoints)
	}
	return &svc, nil
}

func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteRune('%')
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
