// Package reaper runs the single periodic sweep that reconciles
// service/lock/agent/channel/activity state, grounded on a
// ticker-driven sweep loop with an initial pre-ticker sweep on Run.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/kernald/kernald/internal/kernel/activity"
	"github.com/kernald/kernald/internal/kernel/agents"
	"github.com/kernald/kernald/internal/kernel/locks"
	"github.com/kernald/kernald/internal/kernel/messaging"
	"github.com/kernald/kernald/internal/kernel/ports"
	"github.com/kernald/kernald/internal/kernel/salvage"
	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/metrics"
)

// Config bounds the reaper's retention enforcement, independent of the
// per-component registries it sweeps.
type Config struct {
	Interval              time.Duration
	SnapshotNotes         int
	ActivityRetentionAge  time.Duration
	ActivityRetentionRows int
}

// Reaper periodically reconciles kernel state.
type Reaper struct {
	ports     *ports.Registry
	locks     *locks.Registry
	agents    *agents.Registry
	sessions  *sessions.Registry
	salvage   *salvage.Registry
	messaging *messaging.Broker
	activity  *activity.Log

	cfg    Config
	logger *slog.Logger
}

// New constructs a Reaper over the kernel's component registries.
func New(p *ports.Registry, l *locks.Registry, a *agents.Registry, s *sessions.Registry, sv *salvage.Registry, m *messaging.Broker, act *activity.Log, cfg Config, logger *slog.Logger) *Reaper {
	return &Reaper{ports: p, locks: l, agents: a, sessions: s, salvage: sv, messaging: m, activity: act, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once immediately and
// then on every tick of cfg.Interval.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.cfg.Interval)

	r.Sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Each step operates independently
// so a failure in one does not block the others.
func (r *Reaper) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepsTotal.Inc()
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	droppedServices, err := r.ports.DropDeadPidServices(ctx)
	if err != nil {
		r.logger.Error("reaper: drop dead-pid services", "error", err)
	} else if droppedServices > 0 {
		r.logger.Info("reaper: dropped stale-pid services", "count", droppedServices)
	}

	expiredLocks, err := r.locks.SweepExpired(ctx)
	if err != nil {
		r.logger.Error("reaper: sweep expired locks", "error", err)
	} else if expiredLocks > 0 {
		r.logger.Info("reaper: swept expired locks", "count", expiredLocks)
	}

	r.reapDeadAgents(ctx)

	reclaimedMessages, err := r.messaging.ReclaimHistory(ctx)
	if err != nil {
		r.logger.Error("reaper: reclaim message history", "error", err)
	} else if reclaimedMessages > 0 {
		r.logger.Info("reaper: reclaimed message history", "count", reclaimedMessages)
	}

	if _, err := r.activity.Reclaim(ctx, r.cfg.ActivityRetentionAge, r.cfg.ActivityRetentionRows); err != nil {
		r.logger.Error("reaper: reclaim activity log", "error", err)
	}

	r.recordGauges(ctx)
}

// reapDeadAgents finds agents now in the dead state owning active
// sessions and, for any without an already-open resurrection entry,
// creates one with a bounded notes snapshot.
func (r *Reaper) reapDeadAgents(ctx context.Context) {
	dead, err := r.agents.DeadWithActiveSessions(ctx)
	if err != nil {
		r.logger.Error("reaper: list dead agents with active sessions", "error", err)
		return
	}

	for _, agent := range dead {
		open, err := r.salvage.HasOpenEntry(ctx, agent.ID)
		if err != nil {
			r.logger.Error("reaper: check open salvage entry", "agent_id", agent.ID, "error", err)
			continue
		}
		if open {
			continue
		}

		activeSessions, err := r.sessions.ActiveSessionsByCreator(ctx, agent.ID)
		if err != nil {
			r.logger.Error("reaper: list active sessions", "agent_id", agent.ID, "error", err)
			continue
		}
		if len(activeSessions) == 0 {
			continue
		}

		snapshot := make([]salvage.SessionSnapshot, 0, len(activeSessions))
		for _, sess := range activeSessions {
			notes, err := r.sessions.ListNotes(ctx, sess.ID, "", r.cfg.SnapshotNotes)
			if err != nil {
				r.logger.Error("reaper: list notes for snapshot", "session_id", sess.ID, "error", err)
			}
			contents := make([]string, 0, len(notes))
			for _, n := range notes {
				contents = append(contents, n.Content)
			}
			snapshot = append(snapshot, salvage.SessionSnapshot{SessionID: sess.ID, Purpose: sess.Purpose, Notes: contents})
		}

		entry, err := r.salvage.Create(ctx, agent.ID, agent.Identity, snapshot)
		if err != nil {
			r.logger.Error("reaper: create resurrection entry", "agent_id", agent.ID, "error", err)
			continue
		}

		if err := r.activity.Record(ctx, "agent", "dead", agent.ID, "", agent.ID); err != nil {
			r.logger.Error("reaper: record agent.dead activity", "error", err)
		}
		r.logger.Info("reaper: agent transitioned to dead, resurrection entry created",
			"agent_id", agent.ID, "entry_id", entry.ID, "sessions", len(snapshot))
	}
}

func (r *Reaper) recordGauges(ctx context.Context) {
	if n, err := r.ports.Count(ctx); err == nil {
		metrics.ServicesClaimed.Set(float64(n))
	}
	if n, err := r.locks.Count(ctx); err == nil {
		metrics.LocksHeld.Set(float64(n))
	}
	if n, err := r.agents.CountByState(ctx, agents.StateActive); err == nil {
		metrics.AgentsActive.Set(float64(n))
	}
	if n, err := r.agents.CountByState(ctx, agents.StateStale); err == nil {
		metrics.AgentsStale.Set(float64(n))
	}
	if n, err := r.sessions.CountOpen(ctx); err == nil {
		metrics.SessionsOpen.Set(float64(n))
	}
	if n, err := r.salvage.CountPending(ctx); err == nil {
		metrics.SalvageablePending.Set(float64(n))
	}
}
