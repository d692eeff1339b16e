package models

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TaskType partitions queue work by executor.
type TaskType string

const (
	// TaskTypeContainer is published as workflow:task:ready and executed by
	// an external consumer driving a container.
	TaskTypeContainer TaskType = "container"
	// TaskTypeSystem runs built-in actions inside the engine loop.
	TaskTypeSystem TaskType = "system"
	// TaskTypeCustom runs a caller-provided handler inside the engine loop.
	TaskTypeCustom TaskType = "custom"
)

// TaskStatus is a task's position in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// System task actions.
const (
	SystemActionDelay = "delay"
	SystemActionLog   = "log"
)

// TaskHandler executes a custom task.
type TaskHandler func(ctx context.Context, task *Task, logger *slog.Logger) (map[string]any, error)

// Task is one unit of work inside a workflow instance.
type Task struct {
	ID      string         `json:"id"     validate:"required"`
	Name    string         `json:"name,omitempty"`
	Type    TaskType       `json:"type"   validate:"required,oneof=container system custom"`
	Target  string         `json:"target,omitempty"` // container: behavior id; custom: registry handler name
	Action  string         `json:"action,omitempty"` // system: delay|log
	Params  map[string]any `json:"params,omitempty"`
	Retries int            `json:"retries"` // remaining retry budget
	Status  TaskStatus     `json:"status"`

	Handler TaskHandler `json:"-"` // custom: direct handler, overrides Target lookup

	Error      string         `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Validate checks structural tags plus per-type requirements. Custom tasks
// may name a registered handler via Target instead of carrying one.
func (t *Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return &ValidationError{Entity: "task", Err: err}
	}

	switch t.Type {
	case TaskTypeContainer:
		if t.Target == "" {
			return &ValidationError{Entity: "task", Err: fmt.Errorf("container task %s requires a target behavior", t.ID)}
		}
	case TaskTypeSystem:
		if t.Action != SystemActionDelay && t.Action != SystemActionLog {
			return &ValidationError{Entity: "task", Err: fmt.Errorf("system task %s has unknown action %q", t.ID, t.Action)}
		}
	case TaskTypeCustom:
		if t.Handler == nil && t.Target == "" {
			return &ValidationError{Entity: "task", Err: fmt.Errorf("custom task %s requires a handler or target", t.ID)}
		}
	}

	return nil
}

// Clone copies the task. Params and Result maps are shallow-copied; the
// handler reference is shared.
func (t *Task) Clone() *Task {
	clone := *t

	if t.Params != nil {
		clone.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			clone.Params[k] = v
		}
	}

	if t.Result != nil {
		clone.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			clone.Result[k] = v
		}
	}

	if t.StartedAt != nil {
		startedAt := *t.StartedAt
		clone.StartedAt = &startedAt
	}

	if t.FinishedAt != nil {
		finishedAt := *t.FinishedAt
		clone.FinishedAt = &finishedAt
	}

	return &clone
}

// NamespacedTaskID builds the queue key tasks are enqueued under, keeping
// task ids unique across concurrently running instances.
func NamespacedTaskID(instanceID, taskID string) string {
	return fmt.Sprintf("%s_%s", instanceID, taskID)
}
