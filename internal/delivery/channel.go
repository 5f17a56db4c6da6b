// Package delivery hands fully rendered notifications to external senders.
// The core tracks only success/failure; provider error codes are recorded
// but never interpreted.
package delivery

import (
	"context"

	"guardian-notify/internal/models"
)

// Message is the immutable rendered payload handed to a channel.
type Message struct {
	NotificationID string              `json:"notificationId"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Category       models.RuleCategory `json:"category"`
}

// Result reports the channel outcome for one send.
type Result struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	ErrorCode         string `json:"errorCode,omitempty"`
}

// Channel sends a rendered message to a target audience.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message, audience models.Audience) (Result, error)
}

// Resolver turns a deferred audience descriptor (e.g. "primary guardian of
// subject") into concrete recipient addresses. Contact preference state is an
// input to this core, supplied by the caller.
type Resolver interface {
	Resolve(ctx context.Context, audience models.Audience, subjectID string) ([]Recipient, error)
}

// Recipient is one resolved guardian contact.
type Recipient struct {
	GuardianID string `json:"guardianId"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}
