// internal/ruleeval/loader.go
package ruleeval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// ruleSetSchema guards the rule configuration file. Rules are data, so a
// malformed file must fail at startup, not at evaluation time.
var ruleSetSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"rules"},
	"properties": map[string]interface{}{
		"version": map[string]interface{}{"type": "string"},
		"rules": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"id", "priority", "triggerKind", "category", "templateId", "audience"},
				"properties": map[string]interface{}{
					"id":           map[string]interface{}{"type": "string", "minLength": 1},
					"priority":     map[string]interface{}{"type": "integer"},
					"triggerKind":  map[string]interface{}{"type": "string"},
					"category":     map[string]interface{}{"type": "string"},
					"templateId":   map[string]interface{}{"type": "string", "minLength": 1},
					"delayMinutes": map[string]interface{}{"type": "integer", "minimum": 0},
					"audience": map[string]interface{}{
						"type":     "object",
						"required": []interface{}{"scope"},
					},
					"conditions":    map[string]interface{}{"type": "array"},
					"overrideRoles": map[string]interface{}{"type": "array"},
					"escalation":    map[string]interface{}{"type": "object"},
				},
			},
		},
	},
}

// RuleSet is the on-disk rule configuration format.
type RuleSet struct {
	Version string        `json:"version"`
	Rules   []models.Rule `json:"rules"`
}

// LoadRules reads and validates the rule configuration file.
func LoadRules(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRules(data)
}

// ParseRules validates raw rule configuration against the schema and decodes it.
func ParseRules(data []byte) ([]models.Rule, error) {
	schemaLoader := gojsonschema.NewGoLoader(ruleSetSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, stderrors.NewRuleConfigInvalidError(err.Error())
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, stderrors.NewRuleConfigInvalidError(strings.Join(errs, "; "))
	}

	var set RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, stderrors.NewRuleConfigInvalidError(err.Error())
	}

	seen := make(map[string]bool, len(set.Rules))
	for _, rule := range set.Rules {
		if seen[rule.ID] {
			return nil, stderrors.NewRuleConfigInvalidError(fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		seen[rule.ID] = true

		if rule.Category == models.CategoryEmergency && len(rule.OverrideRoles) > 0 {
			return nil, stderrors.NewRuleConfigInvalidError(
				fmt.Sprintf("emergency rule %q must not define override roles", rule.ID))
		}
	}

	return set.Rules, nil
}
