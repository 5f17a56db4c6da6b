// internal/models/suppression.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// SuppressionKey identifies one fact that has already been notified:
// at most one successful send per key per calendar day.
type SuppressionKey struct {
	SubjectID    string `json:"subjectId"`
	Date         string `json:"date"` // calendar date, 2006-01-02, school timezone
	TriggerClass string `json:"triggerClass"`
}

// String renders the key in its stored form, subject|date|class.
func (k SuppressionKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.SubjectID, k.Date, k.TriggerClass)
}

// ParseSuppressionKey is the inverse of SuppressionKey.String.
func ParseSuppressionKey(s string) (SuppressionKey, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return SuppressionKey{}, fmt.Errorf("malformed suppression key: %q", s)
	}
	return SuppressionKey{SubjectID: parts[0], Date: parts[1], TriggerClass: parts[2]}, nil
}

// EscalationClass derives the distinct trigger class used for escalated
// sends so they are not suppressed by the original notice.
func EscalationClass(class string, level int) string {
	return fmt.Sprintf("%s#esc%d", class, level)
}

// SuppressionRecord marks that a notification was sent for a key.
type SuppressionRecord struct {
	Key    SuppressionKey `json:"key"`
	SentAt time.Time      `json:"sentAt"`
}
