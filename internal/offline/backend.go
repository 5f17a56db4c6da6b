// internal/offline/backend.go
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"
)

// UpsertResult is the backend's answer to one sync push. Conflict means the
// server held a different version of the logical record; the server copy is
// returned for reviewer inspection and nothing was overwritten.
type UpsertResult struct {
	Version         int64
	Conflict        bool
	ServerPayload   json.RawMessage
	ServerTimestamp *time.Time
}

// Backend is the durable server-side store the sync engine reconciles
// against. Upsert carries the item's version token; the backend must detect
// concurrent writes to the same logical record and report a conflict rather
// than overwrite.
type Backend interface {
	Upsert(ctx context.Context, item *models.SyncItem) (*UpsertResult, error)
}

// PostgresBackend implements the sync contract over a sync_items table with
// a server-maintained version column as the optimistic concurrency token.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Upsert(ctx context.Context, item *models.SyncItem) (*UpsertResult, error) {
	if item.Version == 0 {
		return b.insert(ctx, item)
	}
	return b.update(ctx, item)
}

func (b *PostgresBackend) insert(ctx context.Context, item *models.SyncItem) (*UpsertResult, error) {
	var (
		version int64
		at      time.Time
	)
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO sync_items (id, entity_type, payload, school_id, class_id, user_id, device_id, local_ts, server_ts, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), 1)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING version, server_ts`,
		item.ID, item.EntityType, []byte(item.Payload),
		item.Origin.SchoolID, item.Origin.ClassID, item.Origin.UserID, item.Origin.DeviceID,
		item.LocalTimestamp,
	).Scan(&version, &at)
	if err == sql.ErrNoRows {
		// Another device created the record first.
		return b.serverCopy(ctx, item.ID)
	}
	if err != nil {
		return nil, stderrors.NewSyncBackendUnavailableError(err)
	}
	return &UpsertResult{Version: version, ServerTimestamp: &at}, nil
}

func (b *PostgresBackend) update(ctx context.Context, item *models.SyncItem) (*UpsertResult, error) {
	var (
		version int64
		at      time.Time
	)
	err := b.db.QueryRowContext(ctx,
		`UPDATE sync_items
		 SET payload = $2, device_id = $3, local_ts = $4, server_ts = NOW(), version = version + 1
		 WHERE id = $1 AND version = $5
		 RETURNING version, server_ts`,
		item.ID, []byte(item.Payload), item.Origin.DeviceID, item.LocalTimestamp, item.Version,
	).Scan(&version, &at)
	if err == sql.ErrNoRows {
		// Version token moved under us.
		return b.serverCopy(ctx, item.ID)
	}
	if err != nil {
		return nil, stderrors.NewSyncBackendUnavailableError(err)
	}
	return &UpsertResult{Version: version, ServerTimestamp: &at}, nil
}

func (b *PostgresBackend) serverCopy(ctx context.Context, id string) (*UpsertResult, error) {
	var (
		payload []byte
		version int64
		at      time.Time
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT payload, version, server_ts FROM sync_items WHERE id = $1`,
		id,
	).Scan(&payload, &version, &at)
	if err != nil {
		return nil, stderrors.NewSyncBackendUnavailableError(err)
	}
	return &UpsertResult{
		Conflict:        true,
		Version:         version,
		ServerPayload:   payload,
		ServerTimestamp: &at,
	}, nil
}

// MemoryBackend is the in-process backend used by tests and by deployments
// that run the sync target in the same process.
type MemoryBackend struct {
	mu      sync.Mutex
	rows    map[string]*memoryRow
	calls   int
	now     func() time.Time
	failErr error
}

type memoryRow struct {
	payload  json.RawMessage
	version  int64
	serverTS time.Time
	deviceID string
}

func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{rows: make(map[string]*memoryRow), now: now}
}

// Fail makes every subsequent Upsert return err; nil restores service.
func (b *MemoryBackend) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Calls reports how many Upsert calls have been made.
func (b *MemoryBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *MemoryBackend) Upsert(_ context.Context, item *models.SyncItem) (*UpsertResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failErr != nil {
		return nil, stderrors.NewSyncBackendUnavailableError(b.failErr)
	}

	row, exists := b.rows[item.ID]
	if exists && row.version != item.Version {
		ts := row.serverTS
		return &UpsertResult{
			Conflict:        true,
			Version:         row.version,
			ServerPayload:   row.payload,
			ServerTimestamp: &ts,
		}, nil
	}
	if !exists && item.Version != 0 {
		return nil, stderrors.NewSyncBackendUnavailableError(
			stderrors.NewSyncItemNotFoundError(item.ID))
	}

	next := &memoryRow{
		payload:  append(json.RawMessage(nil), item.Payload...),
		version:  item.Version + 1,
		serverTS: b.now(),
		deviceID: item.Origin.DeviceID,
	}
	b.rows[item.ID] = next
	ts := next.serverTS
	return &UpsertResult{Version: next.version, ServerTimestamp: &ts}, nil
}
