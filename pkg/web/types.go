// Package web provides the HTTP management API: rules, workflow instances,
// rule evaluations and the bus event history.
package web

import (
	"github.com/harvestman-flow/harvestman/pkg/models"
)

// CreateRuleRequest is the request body for registering a rule. Only
// declarative action kinds are accepted over HTTP; custom callbacks are
// programmatic-only.
type CreateRuleRequest struct {
	ID      string              `json:"id"      validate:"required,min=1"`
	Name    string              `json:"name,omitempty"`
	When    []string            `json:"when"    validate:"required,min=1,dive,required"`
	Enabled *bool               `json:"enabled,omitempty"`
	Actions []RuleActionRequest `json:"actions,omitempty" validate:"omitempty,dive"`
}

// RuleActionRequest is one declarative action of a rule.
type RuleActionRequest struct {
	Kind    string         `json:"kind"               validate:"required,oneof=emit delay"`
	Event   string         `json:"event,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	DelayMs int            `json:"delay_ms,omitempty" validate:"omitempty,min=1"`
}

// ToModel converts the request into a rule. Enabled defaults to true.
func (r CreateRuleRequest) ToModel() *models.Rule {
	actions := make([]models.RuleAction, 0, len(r.Actions))
	for _, action := range r.Actions {
		actions = append(actions, models.RuleAction{
			Kind:    models.ActionKind(action.Kind),
			Event:   action.Event,
			Payload: action.Payload,
			DelayMs: action.DelayMs,
		})
	}

	return &models.Rule{
		ID:      r.ID,
		Name:    r.Name,
		When:    r.When,
		Enabled: r.Enabled == nil || *r.Enabled,
		Actions: actions,
	}
}

// UpdateRuleRequest toggles a rule's enabled flag.
type UpdateRuleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// CreateInstanceRequest is the request body for creating a workflow instance.
type CreateInstanceRequest struct {
	Name     string         `json:"name"  validate:"required,min=1"`
	Tasks    []TaskRequest  `json:"tasks" validate:"required,min=1,dive"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskRequest is one task of a new instance. Handler-carrying custom tasks
// cannot travel over HTTP; custom tasks must name a registered handler.
type TaskRequest struct {
	ID      string         `json:"id"      validate:"required,min=1"`
	Name    string         `json:"name,omitempty"`
	Type    string         `json:"type"    validate:"required,oneof=container system custom"`
	Target  string         `json:"target,omitempty"`
	Action  string         `json:"action,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Retries int            `json:"retries" validate:"min=0"`
}

// ToModel converts the request's task list.
func (r CreateInstanceRequest) ToModel() []*models.Task {
	tasks := make([]*models.Task, 0, len(r.Tasks))
	for _, task := range r.Tasks {
		tasks = append(tasks, &models.Task{
			ID:      task.ID,
			Name:    task.Name,
			Type:    models.TaskType(task.Type),
			Target:  task.Target,
			Action:  task.Action,
			Params:  task.Params,
			Retries: task.Retries,
		})
	}

	return tasks
}

// CancelInstanceRequest carries the optional cancellation reason.
type CancelInstanceRequest struct {
	Reason string `json:"reason,omitempty"`
}
