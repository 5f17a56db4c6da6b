// internal/offline/backend_test.go
package offline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendItem(version int64) *models.SyncItem {
	return &models.SyncItem{
		ID:             "att-student1-2024-05-01",
		EntityType:     "attendance",
		Payload:        json.RawMessage(`{"state":"absent"}`),
		Origin:         testOrigin("device-a"),
		LocalTimestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Status:         models.SyncSyncing,
		Version:        version,
	}
}

func TestPostgresBackend_InsertNewRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverTS := time.Date(2024, 5, 1, 8, 0, 5, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO sync_items`).
		WithArgs("att-student1-2024-05-01", "attendance", []byte(`{"state":"absent"}`),
			"school-1", "class-5b", "teacher-9", "device-a", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version", "server_ts"}).AddRow(int64(1), serverTS))

	backend := NewPostgresBackend(db)
	result, err := backend.Upsert(context.Background(), backendItem(0))
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, int64(1), result.Version)
	require.NotNil(t, result.ServerTimestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_UpdateMatchingVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverTS := time.Date(2024, 5, 1, 8, 0, 5, 0, time.UTC)
	mock.ExpectQuery(`UPDATE sync_items`).
		WithArgs("att-student1-2024-05-01", []byte(`{"state":"absent"}`), "device-a", sqlmock.AnyArg(), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "server_ts"}).AddRow(int64(3), serverTS))

	backend := NewPostgresBackend(db)
	result, err := backend.Upsert(context.Background(), backendItem(2))
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, int64(3), result.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_VersionMismatchReturnsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverTS := time.Date(2024, 5, 1, 8, 0, 5, 0, time.UTC)
	// Stale token: the UPDATE matches no row, then the server copy is read.
	mock.ExpectQuery(`UPDATE sync_items`).
		WithArgs("att-student1-2024-05-01", []byte(`{"state":"absent"}`), "device-a", sqlmock.AnyArg(), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "server_ts"}))
	mock.ExpectQuery(`SELECT payload, version, server_ts FROM sync_items`).
		WithArgs("att-student1-2024-05-01").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version", "server_ts"}).
			AddRow([]byte(`{"state":"late"}`), int64(2), serverTS))

	backend := NewPostgresBackend(db)
	result, err := backend.Upsert(context.Background(), backendItem(1))
	require.NoError(t, err)
	assert.True(t, result.Conflict)
	assert.Equal(t, int64(2), result.Version)
	assert.JSONEq(t, `{"state":"late"}`, string(result.ServerPayload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_BackendErrorIsRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE sync_items`).
		WillReturnError(assert.AnError)

	backend := NewPostgresBackend(db)
	_, err = backend.Upsert(context.Background(), backendItem(1))
	require.Error(t, err)
	assert.True(t, stderrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
