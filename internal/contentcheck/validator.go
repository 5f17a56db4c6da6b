// Package contentcheck screens rendered notification text against the
// forbidden-content policy before it may be queued. Checks run once at
// queue-admission time; rendered text is immutable afterwards.
package contentcheck

import "regexp"

// Severity of a policy violation. Blocked text must not be queued; warning
// text is queued but flagged for reviewer visibility.
type Severity string

const (
	SeverityBlocked Severity = "blocked"
	SeverityWarning Severity = "warning"
)

// Violation is one matched policy pattern.
type Violation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Match    string   `json:"match"`
}

// Report is the outcome of a content check. Valid is false only when a
// blocked-severity pattern matched.
type Report struct {
	Valid       bool        `json:"valid"`
	Violations  []Violation `json:"violations,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

type policyPattern struct {
	code       string
	severity   Severity
	pattern    *regexp.Regexp
	suggestion string
}

// Pattern checks are deliberately deterministic: the send/suppress decision
// must be reproducible, so no scoring or model judgment here.
var policyPatterns = []policyPattern{
	// Prompt-injection style instructions have no business in guardian notices.
	{
		code:       "PROMPT_INJECTION",
		severity:   SeverityBlocked,
		pattern:    regexp.MustCompile(`(?i)(ignore (all|any|the|previous|prior) (previous |prior )?instructions|disregard (the )?(system|above)|you are now|act as if|system prompt)`),
		suggestion: "remove instruction-like phrasing from the template",
	},
	{
		code:       "RANKING_LANGUAGE",
		severity:   SeverityBlocked,
		pattern:    regexp.MustCompile(`(?i)\b(best|worst|top|bottom|smartest|weakest) (student|pupil|child|performer)\b|\branked \d+\b|\b(rank|position) in (the )?class\b`),
		suggestion: "never compare a student against classmates",
	},
	{
		code:       "GRADE_DISCLOSURE",
		severity:   SeverityBlocked,
		pattern:    regexp.MustCompile(`(?i)\b(scored|grade[ds]?|marks?) (of )?\d{1,3}(\.\d+)?\s?(%|percent|points)\b|\bgrade [A-F][+-]?\b`),
		suggestion: "grades are shared through the report-card flow, not notifications",
	},
	{
		code:       "DIAGNOSTIC_JARGON",
		severity:   SeverityWarning,
		pattern:    regexp.MustCompile(`(?i)\b(adhd|autis(m|tic)|dyslexi(a|c)|dyscalculi(a|c)|disorder|diagnos(is|ed|tic))\b`),
		suggestion: "clinical terms belong in a counselor conversation",
	},
	{
		code:       "PII_EMAIL",
		severity:   SeverityWarning,
		pattern:    regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		suggestion: "avoid embedding personal email addresses",
	},
	{
		code:       "PII_PHONE",
		severity:   SeverityWarning,
		// Nine or more digits so ISO dates do not trip it.
		pattern:    regexp.MustCompile(`\+?\d(?:[\s()-]*\d){8,}`),
		suggestion: "avoid embedding personal phone numbers",
	},
	{
		code:       "PII_ID_NUMBER",
		severity:   SeverityBlocked,
		pattern:    regexp.MustCompile(`(?i)\b(national id|passport|ssn|id number)[:\s#]*[A-Z0-9-]{5,}\b`),
		suggestion: "identity numbers must never appear in notifications",
	},
}

// Validator runs the policy pattern set against rendered text.
type Validator struct {
	patterns []policyPattern
}

func NewValidator() *Validator {
	return &Validator{patterns: policyPatterns}
}

// Validate checks rendered text. The result distinguishes blocked text
// (must not queue) from warnings (queue, flag for review).
func (v *Validator) Validate(renderedText string) Report {
	report := Report{Valid: true}

	for _, p := range v.patterns {
		match := p.pattern.FindString(renderedText)
		if match == "" {
			continue
		}

		report.Violations = append(report.Violations, Violation{
			Code:     p.code,
			Severity: p.severity,
			Match:    match,
		})
		report.Suggestions = append(report.Suggestions, p.suggestion)

		if p.severity == SeverityBlocked {
			report.Valid = false
		}
	}

	return report
}

// Warnings returns the warning-level violation codes, for flagging queued
// notifications.
func (r Report) Warnings() []string {
	var codes []string
	for _, v := range r.Violations {
		if v.Severity == SeverityWarning {
			codes = append(codes, v.Code)
		}
	}
	return codes
}
