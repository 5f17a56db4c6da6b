// internal/notify/service_test.go
package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"guardian-notify/internal/audit"
	"guardian-notify/internal/catalog"
	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/contentcheck"
	"guardian-notify/internal/delivery"
	"guardian-notify/internal/models"
	"guardian-notify/internal/offline"
	"guardian-notify/internal/queue"
	"guardian-notify/internal/ruleeval"
	"guardian-notify/internal/suppression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistry = `{
  "version": "1.0",
  "lastUpdated": "2024-05-01",
  "templates": [
    {
      "id": "absence-guardian",
      "triggerKind": "student_marked_absent",
      "category": "attendance",
      "subject": "Absence notice for {{studentName}}",
      "body": "{{studentName}} was marked absent on {{date}}. Please contact the school office if this is unexpected.",
      "variableSchema": {
        "type": "object",
        "properties": {
          "studentName": {"type": "string"},
          "date": {"type": "string"}
        },
        "required": ["studentName", "date"]
      },
      "version": "1"
    },
    {
      "id": "late-grade-leak",
      "triggerKind": "student_marked_late",
      "category": "attendance",
      "subject": "Late arrival",
      "body": "{{studentName}} arrived late and scored 95% on the missed quiz.",
      "version": "1"
    },
    {
      "id": "late-jargon",
      "triggerKind": "student_marked_late",
      "category": "attendance",
      "subject": "Late arrival",
      "body": "{{studentName}} arrived late; the counselor noted a possible diagnosis.",
      "version": "1"
    },
    {
      "id": "emergency-now",
      "triggerKind": "emergency_declared",
      "category": "emergency",
      "subject": "Emergency at school",
      "body": "Emergency declared. Collect {{studentName}} at the east gate.",
      "version": "1"
    }
  ]
}`

func testRules() []models.Rule {
	return []models.Rule{
		{
			ID:            "absence-default",
			Priority:      10,
			TriggerKind:   models.EventStudentAbsent,
			Category:      models.CategoryAttendance,
			Audience:      models.Audience{Scope: "guardians_of_subject"},
			TemplateID:    "absence-guardian",
			DelayMinutes:  30,
			OverrideRoles: []models.Role{models.RoleTeacher, models.RoleAdmin},
		},
		{
			ID:            "late-leak",
			Priority:      10,
			TriggerKind:   models.EventStudentLate,
			Category:      models.CategoryAttendance,
			Audience:      models.Audience{Scope: "guardians_of_subject"},
			TemplateID:    "late-grade-leak",
			DelayMinutes:  10,
			OverrideRoles: []models.Role{models.RoleTeacher},
			Conditions: []models.Condition{
				{Kind: models.ConditionEquality, Field: "currentState", Value: "late"},
			},
		},
		{
			ID:            "late-jargon",
			Priority:      20,
			TriggerKind:   models.EventStudentLate,
			Category:      models.CategoryAttendance,
			Audience:      models.Audience{Scope: "guardians_of_subject"},
			TemplateID:    "late-jargon",
			DelayMinutes:  10,
			OverrideRoles: []models.Role{models.RoleTeacher},
		},
		{
			ID:          "emergency-all",
			Priority:    1,
			TriggerKind: models.EventEmergency,
			Category:    models.CategoryEmergency,
			Audience:    models.Audience{Scope: "school_guardians"},
			TemplateID:  "emergency-now",
		},
	}
}

type pipeline struct {
	service    *Service
	clock      *clock.Fake
	queue      *queue.Queue
	store      *queue.MemoryStore
	scheduler  *queue.Scheduler
	dispatcher *queue.Dispatcher
	channel    *countingChannel
	sync       *offline.Engine
	syncStore  *offline.MemoryLocalStore
}

type countingChannel struct {
	sent []delivery.Message
}

func (c *countingChannel) Name() string { return "counting" }

func (c *countingChannel) Send(_ context.Context, msg delivery.Message, _ models.Audience) (delivery.Result, error) {
	c.sent = append(c.sent, msg)
	return delivery.Result{Success: true}, nil
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := logger.NewNoOpLogger()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))

	registryPath := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(registryPath, []byte(testRegistry), 0o600))
	cat := catalog.New(registryPath, 5*time.Minute, clk)

	ledger := suppression.NewLedger(suppression.NewMemoryStore(clk), clk, 7, time.UTC, log)
	evaluator := ruleeval.New(testRules(), ledger, clk, time.UTC, log)

	store := queue.NewMemoryStore()
	q := queue.New(store, ledger, evaluator, clk, time.UTC, log)
	channel := &countingChannel{}

	syncStore := offline.NewMemoryLocalStore()
	engine := offline.NewEngine(syncStore, offline.NewMemoryBackend(clk.Now), models.SyncOrigin{
		SchoolID: "school-1", UserID: "teacher-9", DeviceID: "device-a",
	}, clk, 3, log)
	q.SetCapture(engine)

	return &pipeline{
		service:   NewService(evaluator, cat, contentcheck.NewValidator(), q, audit.NopRecorder{}, engine, log),
		clock:     clk,
		queue:     q,
		store:     store,
		scheduler: queue.NewScheduler(store, clk, 15*time.Second, log),
		dispatcher: queue.NewDispatcher(store, q, channel, clk, queue.DispatcherConfig{
			MaxRetries:  3,
			BackoffBase: time.Millisecond,
			SendTimeout: time.Second,
		}, log),
		channel:   channel,
		sync:      engine,
		syncStore: syncStore,
	}
}

func absenceEvent() *models.TriggerEvent {
	return &models.TriggerEvent{
		Kind:       models.EventStudentAbsent,
		SubjectID:  "student-1",
		ClassID:    "class-5b",
		SchoolID:   "school-1",
		EventDate:  "2024-05-01",
		OccurredAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		ActorID:    "teacher-9",
		ActorRole:  models.RoleTeacher,
		Metadata:   map[string]interface{}{"studentName": "Amara"},
	}
}

func TestHandleEvent_AbsenceCancelledDuringWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	outcome, err := p.service.HandleEvent(ctx, absenceEvent())
	require.NoError(t, err)
	require.True(t, outcome.Queued)
	assert.Equal(t, "absence-default", outcome.RuleID)

	item, err := p.queue.Get(ctx, outcome.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, p.clock.Now().Add(30*time.Minute), item.ScheduledFor)
	assert.Contains(t, item.RenderedText, "Amara")

	// Teacher realizes the student is present and cancels five minutes in.
	p.clock.Advance(5 * time.Minute)
	_, err = p.service.Cancel(ctx, outcome.NotificationID, "teacher-9", models.RoleTeacher)
	require.NoError(t, err)

	// The window runs out; nothing goes out.
	p.clock.Advance(30 * time.Minute)
	_, err = p.scheduler.PromoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, p.dispatcher.DispatchReady(ctx))
	assert.Empty(t, p.channel.sent)
}

func TestHandleEvent_AbsenceSentThenDuplicateSuppressed(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	outcome, err := p.service.HandleEvent(ctx, absenceEvent())
	require.NoError(t, err)
	require.True(t, outcome.Queued)

	p.clock.Advance(30 * time.Minute)
	_, err = p.scheduler.PromoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, p.dispatcher.DispatchReady(ctx))
	require.Len(t, p.channel.sent, 1)
	assert.Equal(t, "Absence notice for Amara", p.channel.sent[0].Subject)

	// The same fact arrives again later the same day.
	second := absenceEvent()
	second.OccurredAt = second.OccurredAt.Add(2 * time.Hour)
	outcome, err = p.service.HandleEvent(ctx, second)
	require.NoError(t, err)
	assert.False(t, outcome.Queued)
	assert.Equal(t, ruleeval.ReasonDuplicateSuppressed, outcome.Reason)
	assert.Len(t, p.channel.sent, 1)
}

func TestHandleEvent_ContentBlocked(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event := absenceEvent()
	event.Kind = models.EventStudentLate
	event.CurrentState = "late"

	outcome, err := p.service.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, outcome.Queued)
	assert.Equal(t, ReasonContentBlocked, outcome.Reason)
	assert.Contains(t, outcome.Violations, "GRADE_DISCLOSURE")

	// Nothing was admitted, so the day key is still free.
	items, err := p.queue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHandleEvent_WarningsAttachedButQueued(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event := absenceEvent()
	event.Kind = models.EventStudentLate
	// currentState does not match the higher-priority rule's condition, so
	// the jargon template rule wins instead.
	event.CurrentState = "late_excused"

	outcome, err := p.service.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, outcome.Queued)
	assert.Equal(t, "late-jargon", outcome.RuleID)
	assert.NotEmpty(t, outcome.Warnings)

	item, err := p.queue.Get(ctx, outcome.NotificationID)
	require.NoError(t, err)
	assert.NotEmpty(t, item.ContentWarnings)
}

func TestHandleEvent_EmergencyQueuedImmediately(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event := absenceEvent()
	event.Kind = models.EventEmergency

	outcome, err := p.service.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, outcome.Queued)
	assert.Equal(t, "emergency-all", outcome.RuleID)

	item, err := p.queue.Get(ctx, outcome.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, p.clock.Now(), item.ScheduledFor)
	assert.Equal(t, models.CategoryEmergency, item.Category)

	// Zero delay means the very next poll promotes and sends it.
	_, err = p.scheduler.PromoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, p.dispatcher.DispatchReady(ctx))
	assert.Len(t, p.channel.sent, 1)
}

func TestHandleEvent_MalformedEventRejected(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event := absenceEvent()
	event.SubjectID = ""

	_, err := p.service.HandleEvent(ctx, event)
	require.Error(t, err)

	items, err := p.queue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items, "no partial state on validation failure")
}

func TestHandleEvent_OfflineCapture(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Device starts offline; the notification is still queued locally.
	outcome, err := p.service.HandleEvent(ctx, absenceEvent())
	require.NoError(t, err)
	require.True(t, outcome.Queued)

	item, err := p.queue.Get(ctx, outcome.NotificationID)
	require.NoError(t, err)
	assert.True(t, item.LocalOnly)

	captured, err := p.syncStore.ListByStatus(ctx, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, "queued_notification", captured[0].EntityType)
	assert.Equal(t, "queued_notification:"+outcome.NotificationID, captured[0].ID)

	// Delivery while still offline updates the same capture, not a new one.
	p.clock.Advance(30 * time.Minute)
	_, err = p.scheduler.PromoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, p.dispatcher.DispatchReady(ctx))

	captured, err = p.syncStore.ListByStatus(ctx, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, captured, 1)
	var snapshot models.QueuedNotification
	require.NoError(t, json.Unmarshal(captured[0].Payload, &snapshot))
	assert.Equal(t, models.StatusSent, snapshot.Status)

	// Connectivity returns and the capture reaches the backend.
	summary, err := p.sync.SetOnline(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
}
