// Package ruleeval turns domain events into deterministic send/suppress
// decisions. The evaluator is a pure function of (event, rule set, ledger
// snapshot): its only I/O is the single suppression ledger read, so any
// decision can be reproduced for audit.
package ruleeval

import (
	"context"
	"sort"
	"time"

	"guardian-notify/internal/common/clock"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/common/metrics"
	"guardian-notify/internal/models"

	"github.com/go-playground/validator/v10"
)

// Decision reason codes. Policy rejections are normal outcomes, not errors.
const (
	ReasonMatched             = "matched"
	ReasonNoMatchingRule      = "no matching rule"
	ReasonDuplicateSuppressed = "duplicate suppressed"
)

// Decision is the evaluator output.
type Decision struct {
	ShouldSend   bool                   `json:"shouldSend"`
	RuleID       string                 `json:"ruleId,omitempty"`
	TemplateID   string                 `json:"templateId,omitempty"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	ScheduledFor time.Time              `json:"scheduledFor,omitempty"`
	Reason       string                 `json:"reason"`
}

// LedgerReader is the one external read the evaluator performs.
type LedgerReader interface {
	WasSent(ctx context.Context, key models.SuppressionKey) (bool, error)
	Key(subjectID, triggerClass string, at time.Time) models.SuppressionKey
}

// Evaluator matches events against the priority-ordered rule set.
type Evaluator struct {
	rules    []models.Rule // sorted ascending by (priority, id)
	ledger   LedgerReader
	clock    clock.Clock
	loc      *time.Location
	validate *validator.Validate
	logger   logger.Logger
}

func New(rules []models.Rule, ledger LedgerReader, clk clock.Clock, loc *time.Location, log logger.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]models.Rule, len(rules))
	copy(sorted, rules)
	// Priority is the total order; ID breaks ties so storage order never
	// changes the outcome.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	return &Evaluator{
		rules:    sorted,
		ledger:   ledger,
		clock:    clk,
		loc:      loc,
		validate: validator.New(),
		logger:   log.WithFields(map[string]interface{}{"component": "rule-evaluator"}),
	}
}

// Evaluate matches the event against the rules in ascending priority order;
// the first rule whose conditions all pass wins and no further rules are
// considered. A same-day suppression record downgrades the match to
// shouldSend=false.
func (e *Evaluator) Evaluate(ctx context.Context, event *models.TriggerEvent) (*Decision, error) {
	if err := e.validate.Struct(event); err != nil {
		return nil, stderrors.NewEventValidationFailedError(err.Error())
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.TriggerKind != event.Kind {
			continue
		}

		matched, err := matchConditions(rule, event, e.loc)
		if err != nil {
			return nil, stderrors.NewRuleConfigInvalidError(err.Error())
		}
		if !matched {
			continue
		}

		// First full match wins. Consult the ledger before accepting:
		// emergencies are not exempt from the calendar-day key.
		key := e.ledger.Key(event.SubjectID, string(event.Kind), e.eventInstant(event))
		sent, err := e.ledger.WasSent(ctx, key)
		if err != nil {
			return nil, err
		}
		if sent {
			metrics.EvaluationsTotal.WithLabelValues("duplicate_suppressed").Inc()
			e.logger.Info("duplicate suppressed", map[string]interface{}{
				"ruleId": rule.ID,
				"key":    key.String(),
			})
			return &Decision{ShouldSend: false, RuleID: rule.ID, Reason: ReasonDuplicateSuppressed}, nil
		}

		metrics.EvaluationsTotal.WithLabelValues("matched").Inc()
		return &Decision{
			ShouldSend:   true,
			RuleID:       rule.ID,
			TemplateID:   rule.TemplateID,
			Variables:    buildVariables(event),
			ScheduledFor: e.clock.Now().Add(time.Duration(rule.DelayMinutes) * time.Minute),
			Reason:       ReasonMatched,
		}, nil
	}

	metrics.EvaluationsTotal.WithLabelValues("no_match").Inc()
	return &Decision{ShouldSend: false, Reason: ReasonNoMatchingRule}, nil
}

// RuleByID returns the rule definition, for delay-window and escalation
// lookups downstream.
func (e *Evaluator) RuleByID(id string) (*models.Rule, bool) {
	for i := range e.rules {
		if e.rules[i].ID == id {
			return &e.rules[i], true
		}
	}
	return nil, false
}

// eventInstant anchors the suppression date key on the event date, falling
// back to the occurrence instant when the date string fails to parse.
func (e *Evaluator) eventInstant(event *models.TriggerEvent) time.Time {
	if t, err := time.ParseInLocation("2006-01-02", event.EventDate, e.loc); err == nil {
		return t.Add(12 * time.Hour) // midday keeps the date stable across DST edges
	}
	return event.OccurredAt
}

// buildVariables assembles the template variables from the event. Metadata
// keys come first so the event's own fields cannot be shadowed.
func buildVariables(event *models.TriggerEvent) map[string]interface{} {
	vars := make(map[string]interface{}, len(event.Metadata)+4)
	for k, v := range event.Metadata {
		vars[k] = v
	}
	vars["subjectId"] = event.SubjectID
	vars["date"] = event.EventDate
	vars["className"] = event.ClassID
	if name, ok := event.Metadata["studentName"]; ok {
		vars["studentName"] = name
	}
	return vars
}
