// Package audit writes an append-only trail of evaluation decisions and
// notification lifecycle changes to Elasticsearch. Every decision entry
// carries enough input to reproduce the decision later.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
	"guardian-notify/internal/ruleeval"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

// Entry is one audit document.
type Entry struct {
	ID             string               `json:"id"`
	Type           string               `json:"type"` // decision, transition
	RecordedAt     time.Time            `json:"recordedAt"`
	DeviceID       string               `json:"deviceId"`
	Event          *models.TriggerEvent `json:"event,omitempty"`
	Decision       *ruleeval.Decision   `json:"decision,omitempty"`
	NotificationID string               `json:"notificationId,omitempty"`
	FromStatus     string               `json:"fromStatus,omitempty"`
	ToStatus       string               `json:"toStatus,omitempty"`
	Actor          string               `json:"actor,omitempty"`
}

// Recorder receives audit entries. Recording is best-effort: a failed write
// is logged and never blocks the notification path.
type Recorder interface {
	RecordDecision(ctx context.Context, event *models.TriggerEvent, decision *ruleeval.Decision)
	RecordTransition(ctx context.Context, notificationID string, from, to models.NotificationStatus, actor string)
}

// ESRecorder indexes entries into a dated Elasticsearch index.
type ESRecorder struct {
	client   *elasticsearch.Client
	index    string
	deviceID string
	clock    clock.Clock
	logger   logger.Logger
}

func NewESRecorder(client *elasticsearch.Client, index, deviceID string, clk clock.Clock, log logger.Logger) *ESRecorder {
	return &ESRecorder{
		client:   client,
		index:    index,
		deviceID: deviceID,
		clock:    clk,
		logger:   log.WithFields(map[string]interface{}{"component": "audit-recorder"}),
	}
}

func (r *ESRecorder) RecordDecision(ctx context.Context, event *models.TriggerEvent, decision *ruleeval.Decision) {
	r.record(ctx, Entry{
		Type:     "decision",
		Event:    event,
		Decision: decision,
	})
}

func (r *ESRecorder) RecordTransition(ctx context.Context, notificationID string, from, to models.NotificationStatus, actor string) {
	r.record(ctx, Entry{
		Type:           "transition",
		NotificationID: notificationID,
		FromStatus:     string(from),
		ToStatus:       string(to),
		Actor:          actor,
	})
}

func (r *ESRecorder) record(ctx context.Context, entry Entry) {
	entry.ID = uuid.New().String()
	entry.RecordedAt = r.clock.Now()
	entry.DeviceID = r.deviceID

	body, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("marshal audit entry", map[string]interface{}{"error": err.Error()})
		return
	}

	index := fmt.Sprintf("%s-%s", r.index, entry.RecordedAt.Format("2006.01"))
	res, err := r.client.Index(
		index,
		bytes.NewReader(body),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(entry.ID),
	)
	if err != nil {
		r.logger.Error("audit index failed", map[string]interface{}{
			"index": index,
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		r.logger.Error("audit index rejected", map[string]interface{}{
			"index":  index,
			"status": res.Status(),
		})
	}
}

// NopRecorder discards entries; used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) RecordDecision(context.Context, *models.TriggerEvent, *ruleeval.Decision) {}
func (NopRecorder) RecordTransition(context.Context, string, models.NotificationStatus, models.NotificationStatus, string) {
}
