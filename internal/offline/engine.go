// Package offline implements local-first capture and eventual
// synchronization. Entities are stored on the device synchronously, then a
// sync pass pushes pending items to the backend one upsert each; version
// conflicts park the item for human resolution instead of overwriting.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"guardian-notify/internal/common/clock"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/models"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
)

// Summary is the outcome of one sync pass.
type Summary struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Engine drives local capture and reconciliation for one device.
type Engine struct {
	store      LocalStore
	backend    Backend
	origin     models.SyncOrigin
	clock      clock.Clock
	maxRetries int
	logger     logger.Logger

	mu     sync.Mutex
	online bool
}

func NewEngine(store LocalStore, backend Backend, origin models.SyncOrigin, clk clock.Clock, maxRetries int, log logger.Logger) *Engine {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Engine{
		store:      store,
		backend:    backend,
		origin:     origin,
		clock:      clk,
		maxRetries: maxRetries,
		logger:     log.WithFields(map[string]interface{}{"component": "sync-engine", "deviceId": origin.DeviceID}),
	}
}

// EnqueueLocally captures an entity on the device. The sync item ID is
// derived from the entity's logical identity, so a later capture of the
// same entity updates the tracked item instead of minting a second one,
// and divergent edits from two devices collide at the backend as a
// conflict rather than landing as unrelated rows. It is synchronous, never
// touches the network, and always succeeds while the local store is up.
func (e *Engine) EnqueueLocally(ctx context.Context, entityType, entityID string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", entityType, err)
	}

	id := entityType + ":" + entityID
	if entityID == "" {
		id = uuid.New().String()
	}

	item, err := e.store.Get(ctx, id)
	switch {
	case err == nil:
		// A later state of an entity already tracked. The server version
		// token is kept so the next push is a versioned update.
		item.Payload = data
		item.LocalTimestamp = e.clock.Now()
		if item.Status != models.SyncConflict {
			item.Status = models.SyncPending
			item.RetryCount = 0
			item.LastError = ""
		}
	case stderrors.HasCode(err, stderrors.ErrCodeSyncItemNotFound):
		item = &models.SyncItem{
			ID:             id,
			EntityType:     entityType,
			Payload:        data,
			Origin:         e.origin,
			LocalTimestamp: e.clock.Now(),
			Status:         models.SyncPending,
		}
	default:
		return "", err
	}

	if err := e.store.Put(ctx, item); err != nil {
		return "", err
	}
	e.logger.Debug("entity captured locally", map[string]interface{}{
		"itemId":     item.ID,
		"entityType": entityType,
	})
	return item.ID, nil
}

// LocalEntities returns the captured payloads of one entity type across
// every sync status, newest capture of each entity only. State replay
// after a restart reads queue contents back through this.
func (e *Engine) LocalEntities(ctx context.Context, entityType string) ([]json.RawMessage, error) {
	items, err := e.store.ListByStatus(ctx,
		models.SyncPending, models.SyncSyncing, models.SyncSynced,
		models.SyncConflict, models.SyncFailed,
	)
	if err != nil {
		return nil, err
	}
	var payloads []json.RawMessage
	for _, item := range items {
		if item.EntityType == entityType {
			payloads = append(payloads, item.Payload)
		}
	}
	return payloads, nil
}

// SyncPending pushes every locally pending item to the backend, one upsert
// per item per pass. Items already syncing are skipped, conflicted items are
// excluded until resolved, and a pass with nothing pending makes zero
// network calls.
func (e *Engine) SyncPending(ctx context.Context) (*Summary, error) {
	if !e.Online() {
		e.logger.Debug("sync skipped while offline", nil)
		return &Summary{}, nil
	}

	snapshot, err := e.store.ListByStatus(ctx, models.SyncPending)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, item := range snapshot {
		claimed, err := e.store.SetStatusIf(ctx, item.ID, models.SyncPending, models.SyncSyncing)
		if err != nil || !claimed {
			continue // another pass holds it
		}
		item.Status = models.SyncSyncing
		e.syncOne(ctx, item, summary)
	}

	e.logger.Info("sync pass complete", map[string]interface{}{
		"synced":    summary.Synced,
		"failed":    summary.Failed,
		"conflicts": summary.Conflicts,
	})
	return summary, nil
}

// Per-item upsert retry inside one pass. Passes themselves are spaced by
// the sync ticker; RetryCount only advances once per pass.
const (
	upsertAttempts    = 3
	upsertBackoffBase = 250 * time.Millisecond
)

func (e *Engine) syncOne(ctx context.Context, item *models.SyncItem, summary *Summary) {
	var result *UpsertResult
	err := retry.Do(
		func() error {
			var upsertErr error
			result, upsertErr = e.backend.Upsert(ctx, item)
			return upsertErr
		},
		retry.Attempts(upsertAttempts),
		retry.Delay(upsertBackoffBase),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.RetryIf(stderrors.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("upsert attempt failed", map[string]interface{}{
				"itemId":  item.ID,
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
	)
	if err != nil {
		e.recordFailure(ctx, item, summary, err)
		return
	}

	if result.Conflict {
		item.Status = models.SyncConflict
		item.Version = result.Version
		item.ServerPayload = result.ServerPayload
		item.ServerTimestamp = result.ServerTimestamp
		if putErr := e.store.Put(ctx, item); putErr != nil {
			e.logger.Error("persist conflict state", map[string]interface{}{
				"itemId": item.ID,
				"error":  putErr.Error(),
			})
			return
		}
		summary.Conflicts++
		metrics.SyncResults.WithLabelValues("conflict").Inc()
		metrics.ConflictsOpen.Inc()
		e.logger.Warn("sync conflict detected", map[string]interface{}{
			"itemId":        item.ID,
			"serverVersion": result.Version,
		})
		return
	}

	item.Status = models.SyncSynced
	item.Version = result.Version
	item.ServerTimestamp = result.ServerTimestamp
	item.LastError = ""
	if err := e.store.Put(ctx, item); err != nil {
		e.logger.Error("persist synced state", map[string]interface{}{
			"itemId": item.ID,
			"error":  err.Error(),
		})
		return
	}
	summary.Synced++
	metrics.SyncResults.WithLabelValues("synced").Inc()
}

func (e *Engine) recordFailure(ctx context.Context, item *models.SyncItem, summary *Summary, cause error) {
	item.RetryCount++
	item.LastError = cause.Error()
	if item.RetryCount >= e.maxRetries {
		item.Status = models.SyncFailed
		metrics.SyncResults.WithLabelValues("failed").Inc()
		summary.Failed++
		e.logger.Error("sync retries exhausted", map[string]interface{}{
			"itemId":  item.ID,
			"retries": item.RetryCount,
			"error":   cause.Error(),
		})
	} else {
		item.Status = models.SyncPending
		metrics.SyncResults.WithLabelValues("retry").Inc()
		e.logger.Warn("sync attempt failed", map[string]interface{}{
			"itemId":  item.ID,
			"retries": item.RetryCount,
			"error":   cause.Error(),
		})
	}
	if err := e.store.Put(ctx, item); err != nil {
		e.logger.Error("persist failure state", map[string]interface{}{
			"itemId": item.ID,
			"error":  err.Error(),
		})
	}
}

// ResolveConflict applies a reviewer's decision to a conflicted item.
// admin_review is the only strategy that leaves the conflict standing.
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution models.ConflictResolution, mergedPayload json.RawMessage) (*models.SyncItem, error) {
	item, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.SyncConflict {
		return nil, stderrors.NewIllegalTransitionError(id, string(item.Status), "resolved")
	}

	switch resolution {
	case models.ResolutionLocalWins:
		// Re-push the local payload against the server's current version.
		result, err := e.backend.Upsert(ctx, item)
		if err != nil {
			return nil, err
		}
		if result.Conflict {
			// The server moved again since the conflict was recorded.
			item.Version = result.Version
			item.ServerPayload = result.ServerPayload
			item.ServerTimestamp = result.ServerTimestamp
			if err := e.store.Put(ctx, item); err != nil {
				return nil, err
			}
			return nil, stderrors.NewSyncConflictError(id)
		}
		item.Version = result.Version
		item.ServerTimestamp = result.ServerTimestamp

	case models.ResolutionServerWins:
		item.Payload = item.ServerPayload

	case models.ResolutionMerged:
		if len(mergedPayload) == 0 {
			return nil, stderrors.NewInvalidResolutionError(id, string(resolution))
		}
		item.Payload = mergedPayload
		result, err := e.backend.Upsert(ctx, item)
		if err != nil {
			return nil, err
		}
		if result.Conflict {
			return nil, stderrors.NewSyncConflictError(id)
		}
		item.Version = result.Version
		item.ServerTimestamp = result.ServerTimestamp

	case models.ResolutionAdminReview:
		item.Resolution = models.ResolutionAdminReview
		if err := e.store.Put(ctx, item); err != nil {
			return nil, err
		}
		return item, nil

	default:
		return nil, stderrors.NewInvalidResolutionError(id, string(resolution))
	}

	item.Status = models.SyncSynced
	item.Resolution = resolution
	item.ServerPayload = nil
	item.LastError = ""
	if err := e.store.Put(ctx, item); err != nil {
		return nil, err
	}
	metrics.ConflictsOpen.Dec()
	e.logger.Info("conflict resolved", map[string]interface{}{
		"itemId":     id,
		"resolution": string(resolution),
	})
	return item, nil
}

// SetOnline records the connectivity transition. Going online triggers one
// sync pass; going offline only flips visibility and touches nothing.
func (e *Engine) SetOnline(ctx context.Context, online bool) (*Summary, error) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if online && !wasOnline {
		return e.SyncPending(ctx)
	}
	return &Summary{}, nil
}

// Online reports the last recorded connectivity state.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// OpenConflicts lists items awaiting reviewer resolution, for the operator
// surface.
func (e *Engine) OpenConflicts(ctx context.Context) ([]*models.SyncItem, error) {
	return e.store.ListByStatus(ctx, models.SyncConflict)
}

// FailedItems lists items whose sync retries are exhausted.
func (e *Engine) FailedItems(ctx context.Context) ([]*models.SyncItem, error) {
	return e.store.ListByStatus(ctx, models.SyncFailed)
}
