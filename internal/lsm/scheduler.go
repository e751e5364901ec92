package lsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"gastrolog/internal/logging"
)

// DefaultCompactionSchedule ticks once a minute. Compaction already runs
// synchronously after every flush that brings a level up to its fanout; the
// scheduled pass is a safety net that catches a level left at or over its
// fanout by a process restart mid-compaction, and is a no-op otherwise.
const DefaultCompactionSchedule = "*/1 * * * *"

// CompactionScheduler drives a periodic background compaction pass over a
// Manager, independent of the synchronous pass flushLocked already
// triggers. One scheduler per Manager.
type CompactionScheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// StartCompactionScheduler registers a cron job that calls m.RunCompactionPass
// on the given schedule. Pass "" for DefaultCompactionSchedule.
func (m *Manager) StartCompactionScheduler(cronExpr string, logger *slog.Logger) (*CompactionScheduler, error) {
	if cronExpr == "" {
		cronExpr = DefaultCompactionSchedule
	}
	logger = logging.Default(logger).With("component", "lsm/scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create compaction scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if err := m.RunCompactionPass(context.Background()); err != nil {
				logger.Error("scheduled compaction pass failed", "err", err)
			}
		}),
		gocron.WithName("lsm-compaction"),
	)
	if err != nil {
		return nil, fmt.Errorf("register compaction job: %w", err)
	}

	s.Start()
	logger.Info("compaction scheduler started", "cron", cronExpr)
	return &CompactionScheduler{scheduler: s, logger: logger}, nil
}

// Stop shuts down the scheduler, waiting for any in-flight pass to finish.
func (cs *CompactionScheduler) Stop() error {
	return cs.scheduler.Shutdown()
}

// RunCompactionPass runs one compaction pass over every level that
// currently holds at least its fanout of SSTs. Safe to call concurrently with Put/Get/Scan.
func (m *Manager) RunCompactionPass(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked(ctx)
}
