// internal/ruleeval/conditions.go
package ruleeval

import (
	"fmt"
	"strings"
	"time"

	"guardian-notify/internal/models"
)

// matchConditions applies AND semantics: every condition must pass.
func matchConditions(rule *models.Rule, event *models.TriggerEvent, loc *time.Location) (bool, error) {
	for i := range rule.Conditions {
		ok, err := matchCondition(&rule.Conditions[i], event, loc)
		if err != nil {
			return false, fmt.Errorf("rule %s condition %d: %w", rule.ID, i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchCondition switches exhaustively over condition kinds; an unknown kind
// is a configuration error, never a silent no-match.
func matchCondition(cond *models.Condition, event *models.TriggerEvent, loc *time.Location) (bool, error) {
	switch cond.Kind {
	case models.ConditionThreshold:
		value, ok := numericField(event, cond.Field)
		if !ok {
			return false, nil
		}
		switch cond.Op {
		case "gt":
			return value > cond.Number, nil
		case "gte":
			return value >= cond.Number, nil
		case "lt":
			return value < cond.Number, nil
		case "lte":
			return value <= cond.Number, nil
		default:
			return false, fmt.Errorf("unknown threshold op %q", cond.Op)
		}

	case models.ConditionEquality:
		return stringField(event, cond.Field) == cond.Value, nil

	case models.ConditionTransition:
		return event.PreviousState == cond.FromState && event.CurrentState == cond.ToState, nil

	case models.ConditionMembership:
		field := stringField(event, cond.Field)
		for _, candidate := range cond.Values {
			if field == candidate {
				return true, nil
			}
		}
		return false, nil

	case models.ConditionTimeWindow:
		hour := event.OccurredAt.In(loc).Hour()
		if cond.StartHour <= cond.EndHour {
			return hour >= cond.StartHour && hour < cond.EndHour, nil
		}
		// window wraps midnight
		return hour >= cond.StartHour || hour < cond.EndHour, nil

	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

// stringField resolves a condition field against the event. Dotted names
// under "metadata." reach into the event metadata.
func stringField(event *models.TriggerEvent, field string) string {
	switch field {
	case "subjectId":
		return event.SubjectID
	case "classId":
		return event.ClassID
	case "schoolId":
		return event.SchoolID
	case "previousState":
		return event.PreviousState
	case "currentState":
		return event.CurrentState
	case "actorRole":
		return string(event.ActorRole)
	}

	if value := metadataValue(event, field); value != nil {
		return fmt.Sprintf("%v", value)
	}
	return ""
}

func numericField(event *models.TriggerEvent, field string) (float64, bool) {
	value := metadataValue(event, field)
	if value == nil {
		return 0, false
	}
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func metadataValue(event *models.TriggerEvent, field string) interface{} {
	key := strings.TrimPrefix(field, "metadata.")
	if event.Metadata == nil {
		return nil
	}

	parts := strings.Split(key, ".")
	current := interface{}(event.Metadata)
	for _, part := range parts {
		currentMap, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		val, exists := currentMap[part]
		if !exists {
			return nil
		}
		current = val
	}

	return current
}
