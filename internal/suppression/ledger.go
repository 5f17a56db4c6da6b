// Package suppression records which facts have already produced a guardian
// notification, so the same fact never alerts twice in a calendar day.
package suppression

import (
	"context"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
)

// Store is the keyed backing store for suppression records. PutIfAbsent must
// be atomic: two concurrent reservations for the same key may not both
// succeed.
type Store interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Put(ctx context.Context, key string, sentAt time.Time, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, sentAt time.Time, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Entries(ctx context.Context) ([]models.SuppressionRecord, error)
}

// Archiver receives pruned records for long-term audit before they are
// deleted from the store.
type Archiver interface {
	Archive(ctx context.Context, records []models.SuppressionRecord) error
}

// Ledger enforces the at-most-one-send-per-key-per-day invariant.
type Ledger struct {
	store     Store
	clock     clock.Clock
	retention time.Duration
	loc       *time.Location
	logger    logger.Logger
}

func NewLedger(store Store, clk clock.Clock, retentionDays int, loc *time.Location, log logger.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		store:     store,
		clock:     clk,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		loc:       loc,
		logger:    log.WithFields(map[string]interface{}{"component": "suppression-ledger"}),
	}
}

// Key builds the suppression key for a subject and trigger class at a given
// instant. The calendar date uses the school timezone, not UTC.
func (l *Ledger) Key(subjectID, triggerClass string, at time.Time) models.SuppressionKey {
	return models.SuppressionKey{
		SubjectID:    subjectID,
		Date:         at.In(l.loc).Format("2006-01-02"),
		TriggerClass: triggerClass,
	}
}

// WasSent reports whether a record exists for the key.
func (l *Ledger) WasSent(ctx context.Context, key models.SuppressionKey) (bool, error) {
	_, found, err := l.store.Get(ctx, key.String())
	return found, err
}

// Reserve atomically claims the key for an accepted notification. Returns
// false when another notification already holds it.
func (l *Ledger) Reserve(ctx context.Context, key models.SuppressionKey) (bool, error) {
	return l.store.PutIfAbsent(ctx, key.String(), l.clock.Now(), l.retention)
}

// Release frees a reservation whose notification was cancelled or failed
// terminally, so a later event for the same fact can still alert.
func (l *Ledger) Release(ctx context.Context, key models.SuppressionKey) error {
	return l.store.Delete(ctx, key.String())
}

// Record overwrites the reservation with the actual send instant.
func (l *Ledger) Record(ctx context.Context, key models.SuppressionKey, sentAt time.Time) error {
	return l.store.Put(ctx, key.String(), sentAt, l.retention)
}

// Prune removes records older than the retention window, handing them to
// the archiver first when one is configured. Invoked on a schedule, never
// implicitly on reads.
func (l *Ledger) Prune(ctx context.Context, archive Archiver) (int, error) {
	entries, err := l.store.Entries(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := l.clock.Now().Add(-l.retention)
	var expired []models.SuppressionRecord
	for _, rec := range entries {
		if rec.SentAt.Before(cutoff) {
			expired = append(expired, rec)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if archive != nil {
		if err := archive.Archive(ctx, expired); err != nil {
			return 0, err
		}
	}

	pruned := 0
	for _, rec := range expired {
		if err := l.store.Delete(ctx, rec.Key.String()); err != nil {
			l.logger.Warn("prune delete failed", map[string]interface{}{
				"key":   rec.Key.String(),
				"error": err.Error(),
			})
			continue
		}
		pruned++
	}

	l.logger.Info("ledger pruned", map[string]interface{}{"records": pruned})
	return pruned, nil
}
