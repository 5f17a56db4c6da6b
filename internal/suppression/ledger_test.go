package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLedger(t *testing.T, clk clock.Clock) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := NewLedger(NewRedisStore(client), clk, 7, time.UTC, logger.NewTestLogger(t))
	return ledger, mr
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
}

func TestReserve_FirstWinsSecondLoses(t *testing.T) {
	clk := testClock()
	ledger, _ := newRedisLedger(t, clk)
	ctx := context.Background()

	key := ledger.Key("S1", string(models.EventStudentAbsent), clk.Now())

	ok, err := ledger.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Reserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "same (subject, date, class) must not reserve twice")
}

func TestReserve_DistinctKeysIndependent(t *testing.T) {
	clk := testClock()
	ledger, _ := newRedisLedger(t, clk)
	ctx := context.Background()

	absent := ledger.Key("S1", string(models.EventStudentAbsent), clk.Now())
	late := ledger.Key("S1", string(models.EventStudentLate), clk.Now())
	otherSubject := ledger.Key("S2", string(models.EventStudentAbsent), clk.Now())

	for _, key := range []models.SuppressionKey{absent, late, otherSubject} {
		ok, err := ledger.Reserve(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %s", key)
	}
}

func TestRelease_ReopensKey(t *testing.T) {
	clk := testClock()
	ledger, _ := newRedisLedger(t, clk)
	ctx := context.Background()

	key := ledger.Key("S1", string(models.EventStudentAbsent), clk.Now())

	ok, err := ledger.Reserve(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Release(ctx, key))

	ok, err = ledger.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "released key must accept a new reservation")
}

func TestKey_UsesSchoolTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Africa/Nairobi") // UTC+3
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := NewLedger(NewRedisStore(client), clk, 7, loc, logger.NewNoOpLogger())

	key := ledger.Key("S1", "student_marked_absent", clk.Now())
	assert.Equal(t, "2024-05-02", key.Date, "22:00Z is already the next day in Nairobi")
}

func TestEscalationClass_NotSelfSuppressed(t *testing.T) {
	clk := testClock()
	ledger, _ := newRedisLedger(t, clk)
	ctx := context.Background()

	base := ledger.Key("S1", string(models.EventStudentAbsent), clk.Now())
	esc := ledger.Key("S1", models.EscalationClass(string(models.EventStudentAbsent), 1), clk.Now())

	ok, err := ledger.Reserve(ctx, base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ledger.Reserve(ctx, esc)
	require.NoError(t, err)
	assert.True(t, ok, "escalated send uses a distinct class key")
}

func TestWasSent_AfterRecord(t *testing.T) {
	clk := testClock()
	ledger, _ := newRedisLedger(t, clk)
	ctx := context.Background()

	key := ledger.Key("S1", string(models.EventStudentAbsent), clk.Now())

	sent, err := ledger.WasSent(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, ledger.Record(ctx, key, clk.Now()))

	sent, err = ledger.WasSent(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestPrune_ArchivesAndDeletesExpired(t *testing.T) {
	clk := testClock()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ledger := NewLedger(store, clk, 7, time.UTC, logger.NewNoOpLogger())
	ctx := context.Background()

	oldKey := models.SuppressionKey{SubjectID: "S1", Date: "2024-04-20", TriggerClass: "student_marked_absent"}
	freshKey := models.SuppressionKey{SubjectID: "S2", Date: "2024-05-01", TriggerClass: "student_marked_absent"}
	require.NoError(t, store.Put(ctx, oldKey.String(), clk.Now().Add(-10*24*time.Hour), time.Hour))
	require.NoError(t, store.Put(ctx, freshKey.String(), clk.Now(), time.Hour))

	archive := &captureArchive{}
	pruned, err := ledger.Prune(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	require.Len(t, archive.records, 1)
	assert.Equal(t, oldKey, archive.records[0].Key)

	_, found, err := store.Get(ctx, oldKey.String())
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Get(ctx, freshKey.String())
	require.NoError(t, err)
	assert.True(t, found)
}

type captureArchive struct {
	records []models.SuppressionRecord
}

func (c *captureArchive) Archive(_ context.Context, records []models.SuppressionRecord) error {
	c.records = append(c.records, records...)
	return nil
}

func TestReserve_StoreErrorSurfaces(t *testing.T) {
	clk := testClock()
	client, mock := redismock.NewClientMock()
	ledger := NewLedger(NewRedisStore(client), clk, 7, time.UTC, logger.NewNoOpLogger())

	key := ledger.Key("S1", "student_marked_absent", clk.Now())
	mock.Regexp().ExpectSetNX(keyPrefix+key.String(), `.*`, 7*24*time.Hour).
		SetErr(errors.New("connection refused"))

	_, err := ledger.Reserve(context.Background(), key)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchive_InsertsAllRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	archive := NewPostgresArchive(db)
	records := []models.SuppressionRecord{
		{Key: models.SuppressionKey{SubjectID: "S1", Date: "2024-04-20", TriggerClass: "student_marked_absent"}, SentAt: time.Now()},
		{Key: models.SuppressionKey{SubjectID: "S2", Date: "2024-04-21", TriggerClass: "student_marked_late"}, SentAt: time.Now()},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO suppression_archive").
		WithArgs("S1", "2024-04-20", "student_marked_absent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO suppression_archive").
		WithArgs("S2", "2024-04-21", "student_marked_late", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, archive.Archive(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}
