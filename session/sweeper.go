package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
)

// scheduleParser accepts 5-field cron expressions and descriptors such as "@every 1m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper periodically evicts idle sessions from a store.
type Sweeper struct {
	store    core.SessionStore
	idle     time.Duration
	schedule cron.Schedule
	logger   logging.Logger
}

// NewSweeper creates a sweeper evicting sessions idle longer than idle on
// the given schedule ("@every 5m", "*/10 * * * *").
func NewSweeper(store core.SessionStore, idle time.Duration, schedule string, logger logging.Logger) (*Sweeper, error) {
	if idle <= 0 {
		return nil, fmt.Errorf("sweeper: idle threshold must be positive")
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: parse schedule %q: %w", schedule, err)
	}
	return &Sweeper{store: store, idle: idle, schedule: sched, logger: logging.OrNoOp(logger)}, nil
}

// Next returns the next sweep time after t.
func (w *Sweeper) Next(t time.Time) time.Time { return w.schedule.Next(t) }

// SweepOnce evicts idle sessions now.
func (w *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	ids, err := w.store.EvictIdle(ctx, w.idle)
	if err != nil {
		w.logger.Warn("session.sweep.failed", "error", err.Error())
		return nil, err
	}
	if len(ids) > 0 {
		w.logger.Info("session.sweep.evicted", "count", len(ids))
	}
	return ids, nil
}

// Run sweeps on schedule until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(time.Until(w.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_, _ = w.SweepOnce(ctx)
			timer.Reset(max(time.Until(w.Next(time.Now())), 0))
		}
	}
}
