// internal/audit/audit_test.go
package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
	"guardian-notify/internal/ruleeval"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path string
	body []byte
}

func newTestRecorder(t *testing.T, captured *[]capturedRequest) *ESRecorder {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*captured = append(*captured, capturedRequest{path: r.URL.Path, body: body})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"result":"created"}`)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	return NewESRecorder(client, "guardian-audit", "device-a", clk, logger.NewNoOpLogger())
}

func TestESRecorder_RecordDecision(t *testing.T) {
	var captured []capturedRequest
	recorder := newTestRecorder(t, &captured)

	event := &models.TriggerEvent{
		Kind:      models.EventStudentAbsent,
		SubjectID: "student-1",
		EventDate: "2024-05-01",
	}
	decision := &ruleeval.Decision{
		ShouldSend: true,
		RuleID:     "absence-default",
		Reason:     ruleeval.ReasonMatched,
	}
	recorder.RecordDecision(context.Background(), event, decision)

	require.Len(t, captured, 1)
	assert.Contains(t, captured[0].path, "guardian-audit-2024.05")

	var entry Entry
	require.NoError(t, json.Unmarshal(captured[0].body, &entry))
	assert.Equal(t, "decision", entry.Type)
	assert.Equal(t, "device-a", entry.DeviceID)
	assert.Equal(t, "student-1", entry.Event.SubjectID)
	assert.Equal(t, "absence-default", entry.Decision.RuleID)
}

func TestESRecorder_RecordTransition(t *testing.T) {
	var captured []capturedRequest
	recorder := newTestRecorder(t, &captured)

	recorder.RecordTransition(context.Background(), "n-1", models.StatusPending, models.StatusCancelled, "teacher-9")

	require.Len(t, captured, 1)
	var entry Entry
	require.NoError(t, json.Unmarshal(captured[0].body, &entry))
	assert.Equal(t, "transition", entry.Type)
	assert.Equal(t, "n-1", entry.NotificationID)
	assert.Equal(t, "pending", entry.FromStatus)
	assert.Equal(t, "cancelled", entry.ToStatus)
	assert.Equal(t, "teacher-9", entry.Actor)
}
