// internal/models/notification.go
package models

import "time"

// NotificationStatus is the lifecycle state of a queued notification.
// Transitions are forward-only: pending → ready → sending → sent|failed,
// with pending → cancelled during the delay window and sent → escalated
// when an escalation policy fires.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusReady     NotificationStatus = "ready"
	StatusSending   NotificationStatus = "sending"
	StatusSent      NotificationStatus = "sent"
	StatusFailed    NotificationStatus = "failed"
	StatusCancelled NotificationStatus = "cancelled"
	StatusEscalated NotificationStatus = "escalated"
)

// Terminal reports whether the status permits no further transitions.
// Escalated is not terminal for audit purposes but the item itself is
// no longer dispatchable.
func (s NotificationStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled || s == StatusEscalated
}

// QueuedNotification is the unit of work held by the delayed delivery queue.
// Created by the rule evaluator pipeline, mutated only by the queue and the
// sync engine, immutable once terminal.
type QueuedNotification struct {
	ID               string                 `json:"id"`
	RuleID           string                 `json:"ruleId"`
	Category         RuleCategory           `json:"category"`
	TemplateID       string                 `json:"templateId"`
	Variables        map[string]interface{} `json:"variables,omitempty"`
	RenderedSubject  string                 `json:"renderedSubject"`
	RenderedText     string                 `json:"renderedText"`
	Audience         Audience               `json:"audience"`
	ScheduledFor     time.Time              `json:"scheduledFor"`
	CancellableUntil time.Time              `json:"cancellableUntil"` // always equals ScheduledFor
	EscalationLevel  int                    `json:"escalationLevel"`  // 0 = original notice
	Status           NotificationStatus     `json:"status"`
	LocalOnly        bool                   `json:"localOnly"`
	Synced           bool                   `json:"synced"`
	CreatedAt        time.Time              `json:"createdAt"`
	Event            TriggerEvent           `json:"event"` // source event snapshot
	ContentWarnings  []string               `json:"contentWarnings,omitempty"`

	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy string     `json:"cancelledBy,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	AckedAt     *time.Time `json:"ackedAt,omitempty"`
	AckedBy     string     `json:"ackedBy,omitempty"`
}
