package models

import "time"

// RuleEvaluation is the audit record appended for every rule trigger,
// condition outcome notwithstanding.
type RuleEvaluation struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"rule_id"`
	Event        string    `json:"event"`
	Source       string    `json:"source,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	ConditionMet bool      `json:"condition_met"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// EvaluationFilter narrows evaluation queries. Zero values mean "any".
type EvaluationFilter struct {
	RuleID string
	Event  string
	Since  time.Time
	Limit  int
}

// Matches reports whether ev passes the filter (Limit excluded).
func (f EvaluationFilter) Matches(ev RuleEvaluation) bool {
	if f.RuleID != "" && ev.RuleID != f.RuleID {
		return false
	}

	if f.Event != "" && ev.Event != f.Event {
		return false
	}

	if !f.Since.IsZero() && ev.EvaluatedAt.Before(f.Since) {
		return false
	}

	return true
}
