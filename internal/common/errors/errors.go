// Package errors provides standardized error handling for the notification core.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Validation errors: malformed input, rejected before any state is created.
	ErrCodeEventValidationFailed    ErrorCode = "EVENT_VALIDATION_FAILED"
	ErrCodeMissingTemplateVariables ErrorCode = "MISSING_TEMPLATE_VARIABLES"
	ErrCodeTemplateNotFound         ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeRuleConfigInvalid        ErrorCode = "RULE_CONFIG_INVALID"

	// Queue lifecycle errors.
	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeIllegalTransition    ErrorCode = "ILLEGAL_STATUS_TRANSITION"
	ErrCodeCancelNotPermitted   ErrorCode = "CANCEL_NOT_PERMITTED"
	ErrCodeCancelTooLate        ErrorCode = "CANCEL_TOO_LATE"

	// Transient failures: retried with backoff up to a configured cap.
	ErrCodeStoreUnavailable       ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeDeliveryFailed         ErrorCode = "DELIVERY_FAILED"
	ErrCodeSyncBackendUnavailable ErrorCode = "SYNC_BACKEND_UNAVAILABLE"

	// Sync outcomes.
	ErrCodeSyncConflict      ErrorCode = "SYNC_CONFLICT"
	ErrCodeSyncItemNotFound  ErrorCode = "SYNC_ITEM_NOT_FOUND"
	ErrCodeInvalidResolution ErrorCode = "INVALID_RESOLUTION"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewEventValidationFailedError creates a non-retryable event validation error.
func NewEventValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventValidationFailed,
		Message:   "Trigger event failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingTemplateVariablesError creates a non-retryable variable validation error.
func NewMissingTemplateVariablesError(templateID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingTemplateVariables,
		Message:   "Template variables failed schema validation",
		Details:   fmt.Sprintf("templateId: %s, %s", templateID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found in catalog",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRuleConfigInvalidError creates a non-retryable rule configuration error.
func NewRuleConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRuleConfigInvalid,
		Message:   "Rule configuration failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationNotFoundError creates a non-retryable lookup error.
func NewNotificationNotFoundError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationNotFound,
		Message:   "Queued notification not found",
		Details:   fmt.Sprintf("notificationId: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIllegalTransitionError creates a non-retryable state machine error.
func NewIllegalTransitionError(id, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   "Status transition not permitted",
		Details:   fmt.Sprintf("notificationId: %s, %s -> %s", id, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCancelNotPermittedError creates a non-retryable role check error.
func NewCancelNotPermittedError(id, role string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCancelNotPermitted,
		Message:   "Role may not cancel this notification",
		Details:   fmt.Sprintf("notificationId: %s, role: %s", id, role),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCancelTooLateError creates a non-retryable error for cancellations that
// lost the race against promotion.
func NewCancelTooLateError(id string, scheduledFor time.Time) *StandardError {
	return &StandardError{
		Code:      ErrCodeCancelTooLate,
		Message:   "Cancellation recorded after the delay window closed",
		Details:   fmt.Sprintf("notificationId: %s, scheduledFor: %s", id, scheduledFor.Format(time.RFC3339)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable store error.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Notification store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryFailedError creates a retryable delivery error carrying the
// provider error code when one was reported.
func NewDeliveryFailedError(providerCode string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailed,
		Message:   "Delivery channel send failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"providerCode": providerCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewSyncBackendUnavailableError creates a retryable sync transport error.
func NewSyncBackendUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSyncBackendUnavailable,
		Message:   "Sync backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSyncConflictError marks a designed conflict outcome. Not retryable:
// conflicts wait for a reviewer.
func NewSyncConflictError(itemID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSyncConflict,
		Message:   "Concurrent write detected for logical record",
		Details:   fmt.Sprintf("itemId: %s", itemID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSyncItemNotFoundError creates a non-retryable lookup error.
func NewSyncItemNotFoundError(itemID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSyncItemNotFound,
		Message:   "Sync item not found",
		Details:   fmt.Sprintf("itemId: %s", itemID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidResolutionError creates a non-retryable resolution error.
func NewInvalidResolutionError(itemID, resolution string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidResolution,
		Message:   "Unknown conflict resolution strategy",
		Details:   fmt.Sprintf("itemId: %s, resolution: %s", itemID, resolution),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
