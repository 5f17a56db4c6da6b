// internal/queue/dispatch.go
package queue

import (
	"context"
	"time"

	"guardian-notify/internal/common/clock"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/delivery"
	"guardian-notify/internal/models"

	"github.com/codeGROOVE-dev/retry"
)

// DispatcherConfig bounds the per-item retry loop.
type DispatcherConfig struct {
	MaxRetries  uint
	BackoffBase time.Duration
	SendTimeout time.Duration
}

// Dispatcher hands ready notifications to the delivery channel. Exactly one
// of sent or failed is reached per item; the suppression ledger is recorded
// on sent and released on terminal failure so a later retrigger of the same
// fact can alert again.
type Dispatcher struct {
	store   Store
	ledger  LedgerControl
	queue   *Queue
	channel delivery.Channel
	clock   clock.Clock
	cfg     DispatcherConfig
	logger  logger.Logger
}

func NewDispatcher(store Store, q *Queue, channel delivery.Channel, clk clock.Clock, cfg DispatcherConfig, log logger.Logger) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:   store,
		ledger:  q.ledger,
		queue:   q,
		channel: channel,
		clock:   clk,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "queue-dispatcher"}),
	}
}

// Run polls for ready items until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchReady(ctx); err != nil {
				d.logger.Error("dispatch poll failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// DispatchReady sends every ready notification once. Exposed separately so
// tests can drive dispatch without the ticker.
func (d *Dispatcher) DispatchReady(ctx context.Context) error {
	ready, err := d.store.ListByStatus(ctx, models.StatusReady)
	if err != nil {
		return err
	}
	for _, item := range ready {
		d.dispatchOne(ctx, item)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, item *models.QueuedNotification) {
	claimed, err := d.store.Transition(ctx, item.ID, models.StatusReady, models.StatusSending, nil)
	if err != nil {
		// Cancelled or claimed by another dispatcher between list and claim.
		return
	}
	metrics.QueueTransitions.WithLabelValues(string(models.StatusSending)).Inc()

	msg := delivery.Message{
		NotificationID: claimed.ID,
		Subject:        claimed.RenderedSubject,
		Body:           claimed.RenderedText,
		Category:       claimed.Category,
	}

	attempts := 0
	start := d.clock.Now()
	err = retry.Do(
		func() error {
			attempts++
			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()

			result, sendErr := d.channel.Send(sendCtx, msg, claimed.Audience)
			if sendErr != nil {
				return stderrors.NewDeliveryFailedError(result.ErrorCode, sendErr)
			}
			return nil
		},
		retry.Attempts(d.cfg.MaxRetries),
		retry.Delay(d.cfg.BackoffBase),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("send attempt failed", map[string]interface{}{
				"notificationId": claimed.ID,
				"attempt":        n + 1,
				"error":          err.Error(),
			})
		}),
	)
	elapsed := d.clock.Now().Sub(start)

	if err != nil {
		metrics.SendDuration.WithLabelValues(d.channel.Name(), "failed").Observe(elapsed.Seconds())
		d.markFailed(ctx, claimed, attempts, err)
		return
	}

	metrics.SendDuration.WithLabelValues(d.channel.Name(), "sent").Observe(elapsed.Seconds())
	d.markSent(ctx, claimed, attempts)
}

func (d *Dispatcher) markSent(ctx context.Context, item *models.QueuedNotification, attempts int) {
	sentAt := d.clock.Now()
	sent, err := d.store.Transition(ctx, item.ID, models.StatusSending, models.StatusSent, func(n *models.QueuedNotification) {
		t := sentAt
		n.SentAt = &t
		n.Attempts = attempts
		n.LastError = ""
	})
	if err != nil {
		d.logger.Error("mark sent failed", map[string]interface{}{
			"notificationId": item.ID,
			"error":          err.Error(),
		})
		return
	}
	metrics.QueueTransitions.WithLabelValues(string(models.StatusSent)).Inc()
	d.queue.captureState(ctx, sent)

	if err := d.ledger.Record(ctx, d.queue.SuppressionKey(sent), sentAt); err != nil {
		d.logger.Error("ledger record failed", map[string]interface{}{
			"notificationId": item.ID,
			"error":          err.Error(),
		})
	}
	d.logger.Info("notification sent", map[string]interface{}{
		"notificationId": item.ID,
		"channel":        d.channel.Name(),
		"attempts":       attempts,
	})
}

func (d *Dispatcher) markFailed(ctx context.Context, item *models.QueuedNotification, attempts int, sendErr error) {
	failed, err := d.store.Transition(ctx, item.ID, models.StatusSending, models.StatusFailed, func(n *models.QueuedNotification) {
		n.Attempts = attempts
		n.LastError = sendErr.Error()
	})
	if err != nil {
		d.logger.Error("mark failed failed", map[string]interface{}{
			"notificationId": item.ID,
			"error":          err.Error(),
		})
		return
	}
	metrics.QueueTransitions.WithLabelValues(string(models.StatusFailed)).Inc()
	d.queue.captureState(ctx, failed)

	// Terminal failure releases the key: the fact was never communicated,
	// so a later retrigger of the same fact today may still alert.
	if err := d.ledger.Release(ctx, d.queue.SuppressionKey(failed)); err != nil {
		d.logger.Error("ledger release failed", map[string]interface{}{
			"notificationId": item.ID,
			"error":          err.Error(),
		})
	}
	d.logger.Error("notification failed", map[string]interface{}{
		"notificationId": item.ID,
		"attempts":       attempts,
		"error":          sendErr.Error(),
	})
}
