// Package sweeper periodically removes completed actions from the queue.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every second.
const DefaultSchedule = "@every 1s"

// Cleaner is the queue operation the sweeper drives.
type Cleaner interface {
	CleanupCompletedActions() int
}

// Sweeper runs Cleaner.CleanupCompletedActions on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	target Cleaner
	logger *slog.Logger
}

// New validates schedule (standard 5-field cron or a descriptor such as
// "@every 5s") and returns a stopped Sweeper.
func New(schedule string, target Cleaner, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Sweeper{
		// SkipIfStillRunning: a slow sweep never overlaps the next one.
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		target: target,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep runs one cleanup pass and returns how many actions it removed.
func (s *Sweeper) Sweep() int {
	removed := s.target.CleanupCompletedActions()
	if removed > 0 {
		s.logger.Info("swept completed actions", slog.Int("removed", removed))
	}
	return removed
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// a sweep in progress to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
