// internal/queue/scheduler.go
package queue

import (
	"context"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/models"
)

// Scheduler promotes pending notifications whose delay window has elapsed
// to ready. Promotion is driven by the injected clock, never by wall time
// directly, so backdated items (device clock jumped forward while offline)
// are promoted on the first poll after they become due.
type Scheduler struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	logger   logger.Logger
}

func NewScheduler(store Store, clk clock.Clock, interval time.Duration, log logger.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   log.WithFields(map[string]interface{}{"component": "queue-scheduler"}),
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PromoteDue(ctx); err != nil {
				s.logger.Error("promotion poll failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// PromoteDue moves every due pending notification to ready and returns how
// many were promoted. Exposed separately so tests and the sync engine can
// drive promotion without the ticker.
func (s *Scheduler) PromoteDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.DueBefore(ctx, models.StatusPending, now)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, item := range due {
		if _, err := s.store.Transition(ctx, item.ID, models.StatusPending, models.StatusReady, nil); err != nil {
			// Lost the race to a concurrent cancel; that outcome stands.
			continue
		}
		promoted++
		metrics.QueueTransitions.WithLabelValues(string(models.StatusReady)).Inc()
		metrics.PendingItems.Dec()

		if overdue := now.Sub(item.ScheduledFor); overdue > s.interval {
			s.logger.Warn("promoting overdue notification", map[string]interface{}{
				"notificationId": item.ID,
				"overdue":        overdue.String(),
			})
		}
	}
	return promoted, nil
}
