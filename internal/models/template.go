// internal/models/template.go
package models

// TemplateDefinition is one entry of the template and trigger catalog.
// VariableSchema is a JSON schema validated against the resolved variables
// before rendering.
type TemplateDefinition struct {
	ID             string                 `json:"id"`
	TriggerKind    EventKind              `json:"triggerKind"`
	Category       RuleCategory           `json:"category"`
	Subject        string                 `json:"subject"`
	Body           string                 `json:"body"`
	VariableSchema map[string]interface{} `json:"variableSchema,omitempty"`
	Version        string                 `json:"version"`
}
