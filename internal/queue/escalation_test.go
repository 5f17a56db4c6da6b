// internal/queue/escalation_test.go
package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"guardian-notify/internal/catalog"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/contentcheck"
	"guardian-notify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer is a mock implementation of Renderer
type fakeRenderer struct {
	RenderFunc func(templateID string, variables map[string]interface{}) (*catalog.Rendered, error)
}

func (f *fakeRenderer) Render(templateID string, variables map[string]interface{}) (*catalog.Rendered, error) {
	if f.RenderFunc != nil {
		return f.RenderFunc(templateID, variables)
	}
	return &catalog.Rendered{
		TemplateID: templateID,
		Subject:    "Unacknowledged notice",
		Body:       fmt.Sprintf("No acknowledgment received for %v.", variables["studentName"]),
	}, nil
}

func escalationFixture(t *testing.T) (*fixture, *Escalator) {
	t.Helper()
	f := newFixture(t)
	f.rules.rules["absence-default"].Escalation = &models.EscalationPolicy{
		Levels: []models.EscalationLevel{
			{
				AckTimeoutMinutes: 60,
				Audience:          models.Audience{Scope: "all_guardians"},
				TemplateID:        "tmpl-escalation",
			},
			{
				AckTimeoutMinutes: 120,
				Audience:          models.Audience{Scope: "school_guardians"},
			},
		},
	}
	esc := NewEscalator(f.store, f.queue, f.rules, &fakeRenderer{}, contentcheck.NewValidator(),
		f.clock, logger.NewNoOpLogger())
	return f, esc
}

// sendOriginal enqueues n-1, runs out the delay window and dispatches it.
func sendOriginal(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, f.notification("n-1"))
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.scheduler.PromoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.DispatchReady(ctx))
}

func TestEscalator_Scan(t *testing.T) {
	ctx := context.Background()

	t.Run("unacknowledged sent notice escalates after the timeout", func(t *testing.T) {
		f, esc := escalationFixture(t)
		capture := newRecordingCapture()
		f.queue.SetCapture(capture)
		sendOriginal(t, f)

		f.clock.Advance(59 * time.Minute)
		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		f.clock.Advance(2 * time.Minute)
		n, err = esc.Scan(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		original, err := f.queue.Get(ctx, "n-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusEscalated, original.Status)

		items, err := f.store.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		require.Len(t, items, 1)
		next := items[0]
		assert.Equal(t, 1, next.EscalationLevel)
		assert.Equal(t, "tmpl-escalation", next.TemplateID)
		assert.Equal(t, "all_guardians", next.Audience.Scope)
		assert.Contains(t, next.RenderedText, "Amara")

		assert.Equal(t,
			[]models.NotificationStatus{models.StatusPending, models.StatusSent, models.StatusEscalated},
			capture.statuses("n-1"))
		assert.Equal(t, []models.NotificationStatus{models.StatusPending}, capture.statuses(next.ID))
	})

	t.Run("acknowledged notice never escalates", func(t *testing.T) {
		f, esc := escalationFixture(t)
		sendOriginal(t, f)

		_, err := f.queue.Acknowledge(ctx, "n-1", "guardian-7")
		require.NoError(t, err)

		f.clock.Advance(3 * time.Hour)
		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("escalation is not suppressed by the original send", func(t *testing.T) {
		f, esc := escalationFixture(t)
		sendOriginal(t, f)

		f.clock.Advance(61 * time.Minute)
		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		// The original's day key is recorded, yet the escalation was
		// admitted under its own per-level class.
		items, err := f.store.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("second level fires off the escalated send", func(t *testing.T) {
		f, esc := escalationFixture(t)
		sendOriginal(t, f)

		f.clock.Advance(61 * time.Minute)
		_, err := esc.Scan(ctx)
		require.NoError(t, err)

		// Deliver the level-1 notice, then let its own timeout lapse.
		_, err = f.scheduler.PromoteDue(ctx)
		require.NoError(t, err)
		require.NoError(t, f.dispatcher.DispatchReady(ctx))

		f.clock.Advance(121 * time.Minute)
		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		items, err := f.store.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, 2, items[0].EscalationLevel)
		// Level two has no template of its own so the rule template is reused.
		assert.Equal(t, "tmpl-absence", items[0].TemplateID)
	})

	t.Run("policy exhaustion stops the chain", func(t *testing.T) {
		f, esc := escalationFixture(t)
		sendOriginal(t, f)

		// Walk both levels to sent.
		for _, wait := range []time.Duration{61 * time.Minute, 121 * time.Minute, 121 * time.Minute} {
			f.clock.Advance(wait)
			_, err := esc.Scan(ctx)
			require.NoError(t, err)
			_, err = f.scheduler.PromoteDue(ctx)
			require.NoError(t, err)
			require.NoError(t, f.dispatcher.DispatchReady(ctx))
		}

		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("blocked escalation text leaves the original sent", func(t *testing.T) {
		f, esc := escalationFixture(t)
		esc.catalog = &fakeRenderer{
			RenderFunc: func(templateID string, variables map[string]interface{}) (*catalog.Rendered, error) {
				return &catalog.Rendered{
					TemplateID: templateID,
					Subject:    "Ranked",
					Body:       "Your child is ranked 3 in class this term.",
				}, nil
			},
		}
		sendOriginal(t, f)

		f.clock.Advance(61 * time.Minute)
		n, err := esc.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		original, err := f.queue.Get(ctx, "n-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSent, original.Status)
	})
}
