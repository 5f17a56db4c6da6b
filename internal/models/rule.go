// internal/models/rule.go
package models

// RuleCategory groups rules by the kind of notice they produce.
type RuleCategory string

const (
	CategoryAttendance   RuleCategory = "attendance"
	CategoryCorrection   RuleCategory = "correction"
	CategoryAnnouncement RuleCategory = "announcement"
	CategoryEmergency    RuleCategory = "emergency"
)

// ConditionKind tags the variant of a rule condition. The evaluator switches
// exhaustively over these, so adding a kind is a compile-visible change.
type ConditionKind string

const (
	ConditionThreshold  ConditionKind = "threshold"
	ConditionEquality   ConditionKind = "equality"
	ConditionTransition ConditionKind = "transition"
	ConditionMembership ConditionKind = "membership"
	ConditionTimeWindow ConditionKind = "time_window"
)

// Condition is a tagged variant over predicate kinds. Which fields are
// meaningful depends on Kind:
//
//	threshold:   Field, Op (gt|gte|lt|lte), Number
//	equality:    Field, Value
//	transition:  FromState, ToState (matched against the event's previous/current state)
//	membership:  Field, Values
//	time_window: StartHour, EndHour (event OccurredAt local hour, [start, end))
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Field     string        `json:"field,omitempty"`
	Op        string        `json:"op,omitempty"`
	Number    float64       `json:"number,omitempty"`
	Value     string        `json:"value,omitempty"`
	FromState string        `json:"fromState,omitempty"`
	ToState   string        `json:"toState,omitempty"`
	Values    []string      `json:"values,omitempty"`
	StartHour int           `json:"startHour,omitempty"`
	EndHour   int           `json:"endHour,omitempty"`
}

// Audience describes who receives a notification. Resolution of the deferred
// primary-guardian pointer happens in the delivery layer.
type Audience struct {
	Scope      string   `json:"scope"` // primary_guardian, all_guardians, class_guardians, school_guardians
	Recipients []string `json:"recipients,omitempty"`
}

// EscalationLevel is one step of an escalation policy.
type EscalationLevel struct {
	AckTimeoutMinutes int      `json:"ackTimeoutMinutes"`
	Audience          Audience `json:"audience"`
	TemplateID        string   `json:"templateId,omitempty"` // empty reuses the rule template
}

// EscalationPolicy defines what happens when a sent notice goes
// unacknowledged. Levels are tried in order.
type EscalationPolicy struct {
	Levels []EscalationLevel `json:"levels"`
}

// Rule maps a trigger kind plus conditions to a send decision. Rules are
// configuration data, read-only at evaluation time. Lower Priority is
// evaluated first; the first full match wins.
type Rule struct {
	ID            string            `json:"id"`
	Priority      int               `json:"priority"`
	TriggerKind   EventKind         `json:"triggerKind"`
	Category      RuleCategory      `json:"category"`
	Conditions    []Condition       `json:"conditions,omitempty"`
	Audience      Audience          `json:"audience"`
	TemplateID    string            `json:"templateId"`
	DelayMinutes  int               `json:"delayMinutes"`
	OverrideRoles []Role            `json:"overrideRoles,omitempty"` // roles allowed to cancel during the delay window
	Escalation    *EscalationPolicy `json:"escalation,omitempty"`
}

// CanOverride reports whether the given role may cancel a pending
// notification produced by this rule. Emergency rules carry no override
// roles and cannot be cancelled.
func (r *Rule) CanOverride(role Role) bool {
	for _, allowed := range r.OverrideRoles {
		if allowed == role {
			return true
		}
	}
	return false
}
