// Package janitor runs the message-link retention sweep on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/personate/internal/config"
	"github.com/nextlevelbuilder/personate/internal/store"
)

// Janitor deletes message links older than the retention window.
type Janitor struct {
	store     store.Store
	schedule  string
	retention time.Duration
}

// New builds a Janitor from config. Returns nil when retention is disabled.
func New(st store.Store, cfg config.JanitorConfig) *Janitor {
	if cfg.RetentionDays <= 0 {
		return nil
	}
	return &Janitor{
		store:     st,
		schedule:  cfg.Schedule,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}
}

// Run sweeps on every schedule tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("janitor started", "schedule", j.schedule, "retention", j.retention)

	for {
		next, err := gronx.NextTick(j.schedule, false)
		if err != nil {
			// Schedule was validated at config load; a failure here means the
			// expression can no longer produce ticks.
			slog.Error("janitor: compute next tick", "schedule", j.schedule, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if err := j.sweep(ctx); err != nil {
			slog.Error("janitor: sweep", "error", err)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) error {
	conn, err := j.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store conn: %w", err)
	}
	defer conn.Release()

	cutoff := time.Now().UTC().Add(-j.retention)
	n, err := conn.PruneMessageLinks(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("janitor: pruned message links", "count", n, "cutoff", cutoff)
	}
	return nil
}
