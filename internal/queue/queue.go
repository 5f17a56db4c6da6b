// Package queue implements the delayed, cancellable delivery queue: a
// notification admitted here waits out its delay window, during which an
// authorized staff member can still cancel it, then is promoted and handed
// to a delivery channel exactly once.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"guardian-notify/internal/common/clock"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/models"

	"github.com/google/uuid"
)

// LedgerControl is the slice of the suppression ledger the queue drives:
// reserve at admission, release on cancel or terminal failure, record on
// send. This keeps at most one send per key even when evaluation and
// admission race.
type LedgerControl interface {
	Key(subjectID, triggerClass string, at time.Time) models.SuppressionKey
	Reserve(ctx context.Context, key models.SuppressionKey) (bool, error)
	Release(ctx context.Context, key models.SuppressionKey) error
	Record(ctx context.Context, key models.SuppressionKey, sentAt time.Time) error
}

// RuleSource resolves rule definitions for cancel authorization and
// escalation policy lookups.
type RuleSource interface {
	RuleByID(id string) (*models.Rule, bool)
}

// Capture receives every notification state change for local-first
// persistence, keyed by notification ID so each change updates the same
// sync item. Implemented by the sync engine.
type Capture interface {
	EnqueueLocally(ctx context.Context, entityType, entityID string, payload interface{}) (string, error)
}

// CaptureEntityType is the sync entity type under which queue state is
// captured and replayed.
const CaptureEntityType = "queued_notification"

// Queue is the admission and lifecycle service over a Store.
type Queue struct {
	store   Store
	ledger  LedgerControl
	rules   RuleSource
	capture Capture
	clock   clock.Clock
	loc     *time.Location
	logger  logger.Logger
}

func New(store Store, ledger LedgerControl, rules RuleSource, clk clock.Clock, loc *time.Location, log logger.Logger) *Queue {
	if loc == nil {
		loc = time.UTC
	}
	return &Queue{
		store:  store,
		ledger: ledger,
		rules:  rules,
		clock:  clk,
		loc:    loc,
		logger: log.WithFields(map[string]interface{}{"component": "delivery-queue"}),
	}
}

// SetCapture wires local-first persistence of queue state. Every admission
// and lifecycle transition after it is captured; capture failures are
// logged and never block the transition itself.
func (q *Queue) SetCapture(c Capture) {
	q.capture = c
}

func (q *Queue) captureState(ctx context.Context, n *models.QueuedNotification) {
	if q.capture == nil {
		return
	}
	if _, err := q.capture.EnqueueLocally(ctx, CaptureEntityType, n.ID, n); err != nil {
		q.logger.Error("local capture failed", map[string]interface{}{
			"notificationId": n.ID,
			"status":         string(n.Status),
			"error":          err.Error(),
		})
	}
}

// Replay restores queue state from payloads previously captured through
// the sync engine, called once at startup before the loops begin. Items
// caught mid-send are returned to ready, making delivery at-least-once
// across a crash; everything else is restored as captured so listing,
// acknowledgment and escalation tracking survive the restart.
func (q *Queue) Replay(ctx context.Context, payloads []json.RawMessage) (int, error) {
	restored := 0
	for _, raw := range payloads {
		var n models.QueuedNotification
		if err := json.Unmarshal(raw, &n); err != nil || n.ID == "" {
			q.logger.Error("replay skipped undecodable capture", map[string]interface{}{
				"payload": string(raw),
			})
			continue
		}
		if _, err := q.store.Get(ctx, n.ID); err == nil {
			continue
		}
		if n.Status == models.StatusSending {
			n.Status = models.StatusReady
		}
		if err := q.store.Insert(ctx, &n); err != nil {
			return restored, err
		}
		if n.Status == models.StatusPending {
			metrics.PendingItems.Inc()
		}
		restored++
	}
	if restored > 0 {
		q.logger.Info("queue state replayed", map[string]interface{}{
			"restored": restored,
		})
	}
	return restored, nil
}

// Enqueue admits a notification into the delay window. It reserves the
// notification's suppression key first; admitted=false means another
// notification already holds the key today and this one was dropped
// without being stored.
func (q *Queue) Enqueue(ctx context.Context, n *models.QueuedNotification) (admitted bool, err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Status = models.StatusPending
	n.CreatedAt = q.clock.Now()
	n.CancellableUntil = n.ScheduledFor

	key := q.SuppressionKey(n)
	reserved, err := q.ledger.Reserve(ctx, key)
	if err != nil {
		return false, err
	}
	if !reserved {
		q.logger.Info("admission suppressed, key already reserved", map[string]interface{}{
			"notificationId": n.ID,
			"key":            key.String(),
		})
		return false, nil
	}

	if err := q.store.Insert(ctx, n); err != nil {
		// Give the key back so a retry of the same event can be admitted.
		if relErr := q.ledger.Release(ctx, key); relErr != nil {
			q.logger.Error("release after failed insert", map[string]interface{}{
				"key":   key.String(),
				"error": relErr.Error(),
			})
		}
		return false, err
	}

	q.captureState(ctx, n)
	metrics.QueueTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	metrics.PendingItems.Inc()
	q.logger.Info("notification enqueued", map[string]interface{}{
		"notificationId": n.ID,
		"ruleId":         n.RuleID,
		"scheduledFor":   n.ScheduledFor.Format(time.RFC3339),
	})
	return true, nil
}

// Cancel withdraws a notification during its delay window. The caller's
// role must appear in the producing rule's override roles; emergency rules
// list none, so emergencies cannot be cancelled. A cancellation recorded at
// or before the scheduled send instant wins even if the scheduler has
// already promoted the item to ready.
func (q *Queue) Cancel(ctx context.Context, id, cancelledBy string, role models.Role) (*models.QueuedNotification, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule, ok := q.rules.RuleByID(item.RuleID)
	if !ok || !rule.CanOverride(role) {
		return nil, stderrors.NewCancelNotPermittedError(id, string(role))
	}

	now := q.clock.Now()
	if now.After(item.CancellableUntil) {
		return nil, stderrors.NewCancelTooLateError(id, item.CancellableUntil)
	}

	mutate := func(n *models.QueuedNotification) {
		t := now
		n.CancelledAt = &t
		n.CancelledBy = cancelledBy
	}
	cancelled, err := q.store.Transition(ctx, id, models.StatusPending, models.StatusCancelled, mutate)
	if err != nil {
		// The tie-break: within the window a promoted item is reverted.
		cancelled, err = q.store.Transition(ctx, id, models.StatusReady, models.StatusCancelled, mutate)
		if err != nil {
			return nil, stderrors.NewCancelTooLateError(id, item.CancellableUntil)
		}
	} else {
		metrics.PendingItems.Dec()
	}

	if err := q.ledger.Release(ctx, q.SuppressionKey(cancelled)); err != nil {
		q.logger.Error("release after cancel", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
	}

	q.captureState(ctx, cancelled)
	metrics.QueueTransitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	q.logger.Info("notification cancelled", map[string]interface{}{
		"notificationId": id,
		"cancelledBy":    cancelledBy,
		"role":           string(role),
	})
	return cancelled, nil
}

// Acknowledge records a guardian acknowledgment on a sent or escalated
// notification, which stops any further escalation.
func (q *Queue) Acknowledge(ctx context.Context, id, ackedBy string) (*models.QueuedNotification, error) {
	now := q.clock.Now()
	mutate := func(n *models.QueuedNotification) {
		t := now
		n.AckedAt = &t
		n.AckedBy = ackedBy
	}
	acked, err := q.store.Transition(ctx, id, models.StatusSent, models.StatusSent, mutate)
	if err != nil {
		acked, err = q.store.Transition(ctx, id, models.StatusEscalated, models.StatusEscalated, mutate)
		if err != nil {
			return nil, err
		}
	}
	q.captureState(ctx, acked)
	q.logger.Info("notification acknowledged", map[string]interface{}{
		"notificationId": id,
		"ackedBy":        ackedBy,
	})
	return acked, nil
}

// Get returns one notification by ID.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueuedNotification, error) {
	return q.store.Get(ctx, id)
}

// List returns every notification, ordered by scheduled time. The operator
// surface uses this for the pending-notices view.
func (q *Queue) List(ctx context.Context) ([]*models.QueuedNotification, error) {
	return q.store.List(ctx)
}

// SuppressionKey derives the ledger key for a queued item from its event
// snapshot. Escalated items use a per-level class so they are not
// suppressed by the original notice.
func (q *Queue) SuppressionKey(n *models.QueuedNotification) models.SuppressionKey {
	class := string(n.Event.Kind)
	if n.EscalationLevel > 0 {
		class = models.EscalationClass(class, n.EscalationLevel)
	}
	return q.ledger.Key(n.Event.SubjectID, class, q.eventInstant(&n.Event))
}

// eventInstant anchors the suppression date on the event's calendar date,
// matching what the evaluator used at decision time.
func (q *Queue) eventInstant(event *models.TriggerEvent) time.Time {
	if t, err := time.ParseInLocation("2006-01-02", event.EventDate, q.loc); err == nil {
		return t.Add(12 * time.Hour)
	}
	return event.OccurredAt
}
