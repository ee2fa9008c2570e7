// Package server wires the kernel's component registries onto an
// HTTP listener with a single-instance guard and a graceful shutdown
// sequence, grounded on the hub server's start/stop lifecycle.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kernald/kernald/internal/config"
	"github.com/kernald/kernald/internal/httpapi"
	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/kernel/changelog"
	"github.com/kernald/kernald/internal/kernel/locks"
	"github.com/kernald/kernald/internal/kernel/messaging"
	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernel/reaper"
	"github.com/kernald/kernald/internal/kernel/salvage"
	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/procutil"
	"github.com/kernald/kernald/internal/ratelimit"
	"github.com/kernald/kernald/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server is a fully wired kernald daemon instance. Call Serve to start
// listening; it blocks until its context is cancelled.
type Server struct {
	cfg    *config.Config
	db     *sql.DB
	http   *http.Server
	reaper *reaper.Reaper
	lock   *flock.Flock
}

// New opens the database, runs schema migration, wires every kernel
// registry, and builds the HTTP surface. Call Serve to start it.
func New(cfg *config.Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lockPath := filepath.Join(cfg.DataDir, "kernald.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another kernald instance is already running (lock held at %s)", lockPath)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		_ = fileLock.Unlock()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	scanner := procutil.NewScanner(2 * time.Second)

	portsReg := ports.New(db, scanner, cfg.PortRangeMin, cfg.PortRangeMax, cfg.ReservedPorts, cfg.PortClaimMaxRetries)
	locksReg := locks.New(db)
	agentsReg := agents.New(db, cfg.StaleAfter, cfg.DeadAfter)
	sessionsReg := sessions.New(db)
	salvageReg := salvage.New(db)
	activityLog := activity.New(db)
	changelogLog := changelog.New(db)

	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	stopCleanup := make(chan struct{})
	limiter.StartCleanup(5*time.Minute, 30*time.Minute, stopCleanup)

	broker := messaging.New(db, cfg.MessageRetentionCount, cfg.MessageRetentionAge, cfg.MaxSSEStreams, func(channel string) {
		slog.Warn("subscriber evicted for falling behind", "channel", channel)
	})

	reap := reaper.New(portsReg, locksReg, agentsReg, sessionsReg, salvageReg, broker, activityLog, reaper.Config{
		Interval:              cfg.ReaperInterval,
		SnapshotNotes:         cfg.SalvageSnapshotNotes,
		ActivityRetentionAge:  cfg.ActivityRetentionAge,
		ActivityRetentionRows: cfg.ActivityRetentionCount,
	}, slog.Default())

	deps := httpapi.Deps{
		Ports:     portsReg,
		Locks:     locksReg,
		Messaging: broker,
		Agents:    agentsReg,
		Sessions:  sessionsReg,
		Salvage:   salvageReg,
		Activity:  activityLog,
		Changelog: changelogLog,
		Reaper:    reap,
		Config:    cfg,
		RateLimit: limiter,
		StartedAt: time.Now(),
	}

	httpServer := &http.Server{
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{cfg: cfg, db: db, http: httpServer, reaper: reap, lock: fileLock}, nil
}

// Serve starts the reaper loop and the HTTP listener. It blocks until
// ctx is cancelled, then drains in-flight requests, checkpoints the
// WAL, and closes the database before returning.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		_ = s.db.Close()
		_ = s.lock.Unlock()
		return fmt.Errorf("listen: %w", err)
	}

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	go s.reaper.Run(reaperCtx)

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("kernald shutting down...")

		cancelReaper()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.http.Serve(ln) }()

	slog.Info("kernald listening", "addr", s.cfg.BindAddr)

	if err := <-serveErr; err != nil && err != http.ErrServerClosed {
		_ = s.db.Close()
		_ = s.lock.Unlock()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("WAL checkpoint failed", "error", err)
	}
	_ = s.db.Close()
	_ = s.lock.Unlock()
	return nil
}
