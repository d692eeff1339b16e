package models

import "time"

// InstanceStatus is a workflow instance's lifecycle state.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether no further instance transitions happen.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// Instance is one run of a workflow: a named task list plus bookkeeping.
type Instance struct {
	ID        string         `json:"id"    validate:"required"`
	Name      string         `json:"name"  validate:"required"`
	Status    InstanceStatus `json:"status"`
	Tasks     []*Task        `json:"tasks" validate:"required,min=1"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Clone deep-copies the instance so snapshots can be persisted while the
// engine keeps mutating the original.
func (i *Instance) Clone() *Instance {
	clone := *i

	clone.Tasks = make([]*Task, len(i.Tasks))
	for n, task := range i.Tasks {
		clone.Tasks[n] = task.Clone()
	}

	if i.Metadata != nil {
		clone.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			clone.Metadata[k] = v
		}
	}

	if i.StartedAt != nil {
		startedAt := *i.StartedAt
		clone.StartedAt = &startedAt
	}

	if i.EndedAt != nil {
		endedAt := *i.EndedAt
		clone.EndedAt = &endedAt
	}

	return &clone
}

// Task finds a task by its raw (non-namespaced) id.
func (i *Instance) Task(taskID string) (*Task, bool) {
	for _, task := range i.Tasks {
		if task.ID == taskID {
			return task, true
		}
	}

	return nil, false
}

// Progress counts tasks by terminal status.
func (i *Instance) Progress() (completed, failed int) {
	for _, task := range i.Tasks {
		switch task.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusFailed:
			failed++
		}
	}

	return completed, failed
}

// Validate checks the instance and every task.
func (i *Instance) Validate() error {
	if err := validate.Struct(i); err != nil {
		return &ValidationError{Entity: "instance", Err: err}
	}

	for _, task := range i.Tasks {
		if err := task.Validate(); err != nil {
			return err
		}
	}

	return nil
}
