// internal/queue/escalation.go
package queue

import (
	"context"
	"time"

	"guardian-notify/internal/catalog"
	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/contentcheck"
	"guardian-notify/internal/models"
)

// Renderer produces delivery-ready text from a template and variables.
type Renderer interface {
	Render(templateID string, variables map[string]interface{}) (*catalog.Rendered, error)
}

// ContentChecker screens escalation text the same way original notices are
// screened; escalations carry different templates and audiences, so they
// are re-validated rather than inheriting the original report.
type ContentChecker interface {
	Validate(renderedText string) contentcheck.Report
}

// Escalator scans sent notifications whose rule carries an escalation
// policy and whose acknowledgment deadline has passed, marks them
// escalated, and enqueues the next level as a fresh notification under a
// per-level suppression class.
type Escalator struct {
	store   Store
	queue   *Queue
	rules   RuleSource
	catalog Renderer
	checker ContentChecker
	clock   clock.Clock
	logger  logger.Logger
}

func NewEscalator(store Store, q *Queue, rules RuleSource, cat Renderer, checker ContentChecker, clk clock.Clock, log logger.Logger) *Escalator {
	return &Escalator{
		store:   store,
		queue:   q,
		rules:   rules,
		catalog: cat,
		checker: checker,
		clock:   clk,
		logger:  log.WithFields(map[string]interface{}{"component": "escalator"}),
	}
}

// Run scans on the given interval until ctx is cancelled.
func (e *Escalator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Scan(ctx); err != nil {
				e.logger.Error("escalation scan failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Scan processes every overdue unacknowledged sent notification once and
// returns how many were escalated.
func (e *Escalator) Scan(ctx context.Context) (int, error) {
	sent, err := e.store.ListByStatus(ctx, models.StatusSent)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	escalated := 0
	for _, item := range sent {
		if item.AckedAt != nil || item.SentAt == nil {
			continue
		}
		rule, ok := e.rules.RuleByID(item.RuleID)
		if !ok || rule.Escalation == nil {
			continue
		}
		if item.EscalationLevel >= len(rule.Escalation.Levels) {
			continue // policy exhausted
		}

		level := rule.Escalation.Levels[item.EscalationLevel]
		deadline := item.SentAt.Add(time.Duration(level.AckTimeoutMinutes) * time.Minute)
		if now.Before(deadline) {
			continue
		}

		if err := e.escalate(ctx, item, rule, level); err != nil {
			e.logger.Error("escalation failed", map[string]interface{}{
				"notificationId": item.ID,
				"error":          err.Error(),
			})
			continue
		}
		escalated++
	}
	return escalated, nil
}

func (e *Escalator) escalate(ctx context.Context, item *models.QueuedNotification, rule *models.Rule, level models.EscalationLevel) error {
	templateID := level.TemplateID
	if templateID == "" {
		templateID = rule.TemplateID
	}

	rendered, err := e.catalog.Render(templateID, item.Variables)
	if err != nil {
		return err
	}
	report := e.checker.Validate(rendered.Body)
	if !report.Valid {
		// Blocked escalation text is an operator problem, not a guardian
		// one; the original stays sent and the scan moves on.
		e.logger.Error("escalation text blocked", map[string]interface{}{
			"notificationId": item.ID,
			"templateId":     templateID,
		})
		return nil
	}

	marked, err := e.store.Transition(ctx, item.ID, models.StatusSent, models.StatusEscalated, nil)
	if err != nil {
		return err
	}
	metrics.QueueTransitions.WithLabelValues(string(models.StatusEscalated)).Inc()
	e.queue.captureState(ctx, marked)

	next := &models.QueuedNotification{
		RuleID:          item.RuleID,
		Category:        item.Category,
		TemplateID:      templateID,
		Variables:       item.Variables,
		RenderedSubject: rendered.Subject,
		RenderedText:    rendered.Body,
		Audience:        level.Audience,
		ScheduledFor:    e.clock.Now(), // escalations skip the delay window
		EscalationLevel: item.EscalationLevel + 1,
		LocalOnly:       item.LocalOnly,
		Event:           item.Event,
		ContentWarnings: report.Warnings(),
	}
	admitted, err := e.queue.Enqueue(ctx, next)
	if err != nil {
		return err
	}
	if !admitted {
		e.logger.Warn("escalation already admitted for this level", map[string]interface{}{
			"notificationId": item.ID,
			"level":          next.EscalationLevel,
		})
		return nil
	}

	e.logger.Info("notification escalated", map[string]interface{}{
		"notificationId": item.ID,
		"nextId":         next.ID,
		"level":          next.EscalationLevel,
		"templateId":     templateID,
	})
	return nil
}
