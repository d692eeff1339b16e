// Package models defines the domain records shared across the engine,
// persistence and the API: automation rules, workflow instances, tasks and
// rule evaluations.
package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harvestman-flow/harvestman/pkg/bus"
)

// Condition decides whether a rule's actions run for an event. A nil
// Condition means "always".
type Condition func(ctx context.Context, evt bus.Event) (bool, error)

// ActionFunc is a programmatic callback attached to a rule.
type ActionFunc func(ctx context.Context, evt bus.Event) error

// ActionKind enumerates declarative rule action types.
type ActionKind string

const (
	ActionKindEmit   ActionKind = "emit"   // publish another event
	ActionKindDelay  ActionKind = "delay"  // timed wait
	ActionKindCustom ActionKind = "custom" // caller-provided function
)

// RuleAction is one step of a rule's action list. Actions run sequentially;
// the first failure stops the remainder.
type RuleAction struct {
	Kind    ActionKind     `json:"kind"               validate:"required,oneof=emit delay custom"`
	Event   string         `json:"event,omitempty"`   // emit: event name to publish
	Payload map[string]any `json:"payload,omitempty"` // emit: payload to attach
	DelayMs int            `json:"delay_ms,omitempty"`
	Func    ActionFunc     `json:"-"` // custom: the callback
}

// Rule subscribes an evaluation to every event name (or pattern) in When.
type Rule struct {
	ID      string       `json:"id"      validate:"required"`
	Name    string       `json:"name,omitempty"`
	When    []string     `json:"when"    validate:"required,min=1,dive,required"`
	Enabled bool         `json:"enabled"`
	Actions []RuleAction `json:"actions,omitempty"`

	// Condition gates the actions; nil means condition met. Then runs before
	// the action list when the condition holds. Both are programmatic-only.
	Condition Condition  `json:"-"`
	Then      ActionFunc `json:"-"`
}

// NewRule builds an enabled rule.
func NewRule(id string, when ...string) *Rule {
	return &Rule{ID: id, When: when, Enabled: true}
}

// UnmarshalJSON defaults Enabled to true when the field is absent, keeping
// hand-written plan files terse.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type alias Rule

	aux := struct {
		*alias

		Enabled *bool `json:"enabled"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Enabled = aux.Enabled == nil || *aux.Enabled

	return nil
}

// Validate checks structural tags plus the per-kind action requirements.
func (r *Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &ValidationError{Entity: "rule", Err: err}
	}

	for i, action := range r.Actions {
		if err := action.validate(); err != nil {
			return &ValidationError{Entity: "rule", Err: fmt.Errorf("action %d: %w", i, err)}
		}
	}

	return nil
}

func (a RuleAction) validate() error {
	switch a.Kind {
	case ActionKindEmit:
		if a.Event == "" {
			return fmt.Errorf("emit action requires an event name")
		}
	case ActionKindDelay:
		if a.DelayMs <= 0 {
			return fmt.Errorf("delay action requires delay_ms > 0")
		}
	case ActionKindCustom:
		if a.Func == nil {
			return fmt.Errorf("custom action requires a callback")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}

	return nil
}
