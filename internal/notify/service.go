// Package notify wires the pipeline: a domain event is evaluated against
// the rule set, the winning template is rendered and screened, and the
// result enters the delayed delivery queue. Each stage is synchronous; the
// caller gets a typed outcome, never a partial state.
package notify

import (
	"context"

	"guardian-notify/internal/audit"
	"guardian-notify/internal/catalog"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/contentcheck"
	"guardian-notify/internal/models"
	"guardian-notify/internal/offline"
	"guardian-notify/internal/queue"
	"guardian-notify/internal/ruleeval"
)

// Outcome reason codes for non-queued results. These are normal pipeline
// outcomes, distinguishable from validation errors which are returned as
// errors.
const (
	ReasonQueued         = "queued"
	ReasonContentBlocked = "content blocked"
)

// Outcome is the synchronous answer to one event.
type Outcome struct {
	Queued         bool     `json:"queued"`
	NotificationID string   `json:"notificationId,omitempty"`
	RuleID         string   `json:"ruleId,omitempty"`
	Reason         string   `json:"reason"`
	Violations     []string `json:"violations,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Connectivity reports whether the device currently has a network path to
// the sync backend. Nil means an always-online single-process deployment.
// Local-first capture of queue state itself is wired on the queue, not
// here.
type Connectivity interface {
	Online() bool
}

// Service runs the event-to-queue pipeline.
type Service struct {
	evaluator    *ruleeval.Evaluator
	catalog      *catalog.Catalog
	checker      *contentcheck.Validator
	queue        *queue.Queue
	audit        audit.Recorder
	connectivity Connectivity
	logger       logger.Logger
}

func NewService(evaluator *ruleeval.Evaluator, cat *catalog.Catalog, checker *contentcheck.Validator, q *queue.Queue, rec audit.Recorder, conn Connectivity, log logger.Logger) *Service {
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &Service{
		evaluator:    evaluator,
		catalog:      cat,
		checker:      checker,
		queue:        q,
		audit:        rec,
		connectivity: conn,
		logger:       log.WithFields(map[string]interface{}{"component": "notify-service"}),
	}
}

// HandleEvent runs one event through evaluation, rendering, content
// screening and queue admission. Malformed events and template problems
// come back as errors with nothing stored; policy rejections come back as
// a non-queued Outcome.
func (s *Service) HandleEvent(ctx context.Context, event *models.TriggerEvent) (*Outcome, error) {
	decision, err := s.evaluator.Evaluate(ctx, event)
	if err != nil {
		return nil, err
	}
	s.audit.RecordDecision(ctx, event, decision)

	if !decision.ShouldSend {
		return &Outcome{Reason: decision.Reason, RuleID: decision.RuleID}, nil
	}

	rule, ok := s.evaluator.RuleByID(decision.RuleID)
	if !ok {
		// The evaluator just produced this ID; losing it means the rule
		// set was swapped mid-call.
		return nil, stderrors.NewRuleConfigInvalidError("rule " + decision.RuleID + " vanished after evaluation")
	}

	rendered, err := s.catalog.Render(decision.TemplateID, decision.Variables)
	if err != nil {
		return nil, err
	}

	report := s.checker.Validate(rendered.Body)
	if !report.Valid {
		var codes []string
		for _, v := range report.Violations {
			codes = append(codes, v.Code)
		}
		s.logger.Warn("notification blocked by content policy", map[string]interface{}{
			"ruleId":     rule.ID,
			"templateId": decision.TemplateID,
			"violations": codes,
		})
		return &Outcome{
			Reason:     ReasonContentBlocked,
			RuleID:     rule.ID,
			Violations: codes,
		}, nil
	}

	n := &models.QueuedNotification{
		RuleID:          rule.ID,
		Category:        rule.Category,
		TemplateID:      decision.TemplateID,
		Variables:       decision.Variables,
		RenderedSubject: rendered.Subject,
		RenderedText:    rendered.Body,
		Audience:        rule.Audience,
		ScheduledFor:    decision.ScheduledFor,
		Event:           *event,
		ContentWarnings: report.Warnings(),
		LocalOnly:       s.connectivity != nil && !s.connectivity.Online(),
	}
	admitted, err := s.queue.Enqueue(ctx, n)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return &Outcome{Reason: ruleeval.ReasonDuplicateSuppressed, RuleID: rule.ID}, nil
	}

	return &Outcome{
		Queued:         true,
		NotificationID: n.ID,
		RuleID:         rule.ID,
		Reason:         ReasonQueued,
		Warnings:       n.ContentWarnings,
	}, nil
}

// Cancel withdraws a pending notification and records the transition.
func (s *Service) Cancel(ctx context.Context, id, cancelledBy string, role models.Role) (*models.QueuedNotification, error) {
	cancelled, err := s.queue.Cancel(ctx, id, cancelledBy, role)
	if err != nil {
		return nil, err
	}
	s.audit.RecordTransition(ctx, id, models.StatusPending, models.StatusCancelled, cancelledBy)
	return cancelled, nil
}

// Acknowledge records a guardian acknowledgment.
func (s *Service) Acknowledge(ctx context.Context, id, ackedBy string) (*models.QueuedNotification, error) {
	acked, err := s.queue.Acknowledge(ctx, id, ackedBy)
	if err != nil {
		return nil, err
	}
	s.audit.RecordTransition(ctx, id, acked.Status, acked.Status, ackedBy)
	return acked, nil
}

// Notifications lists queue contents for the operator surface.
func (s *Service) Notifications(ctx context.Context) ([]*models.QueuedNotification, error) {
	return s.queue.List(ctx)
}

var _ Connectivity = (*offline.Engine)(nil)
var _ queue.Capture = (*offline.Engine)(nil)
