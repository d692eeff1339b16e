package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/models"
)

// CreateWorkflow builds a pending instance from caller-supplied tasks. The
// instance is persisted but not started; the engine owns the task list from
// here on.
func (e *Engine) CreateWorkflow(ctx context.Context, name string, tasks []*models.Task, metadata map[string]any) (*models.Instance, error) {
	for _, task := range tasks {
		task.Status = models.TaskStatusPending
	}

	instance := &models.Instance{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    models.InstanceStatusPending,
		Tasks:     tasks,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := instance.Validate(); err != nil {
		return nil, err
	}

	if err := e.store.SaveInstance(ctx, instance.Clone()); err != nil {
		return nil, fmt.Errorf("failed to persist instance %s: %w", instance.ID, err)
	}

	e.mu.Lock()
	e.instances[instance.ID] = instance
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Workflow instance created",
		"instance_id", instance.ID, "name", name, "tasks", len(tasks))

	return instance.Clone(), nil
}

// StartWorkflow moves a pending instance to running, enqueues every task
// under its namespaced id, and makes sure the processing loop is active.
func (e *Engine) StartWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return notFoundErr("StartWorkflow", id)
	}

	if instance.Status != models.InstanceStatusPending {
		status := instance.Status
		e.mu.Unlock()

		return wrapStateErr(id, status, ErrInstanceNotPending)
	}

	refs := make([]taskRef, 0, len(instance.Tasks))
	for _, task := range instance.Tasks {
		refs = append(refs, taskRef{InstanceID: id, TaskID: task.ID})
	}

	if err := e.queue.EnqueueAll(refs); err != nil {
		e.mu.Unlock()

		return fmt.Errorf("failed to enqueue tasks for instance %s: %w", id, err)
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusRunning
	instance.StartedAt = &now
	snapshot := instance.Clone()
	e.mu.Unlock()

	e.ensureProcessor()
	e.persistInstance(ctx, snapshot)

	e.logger.InfoContext(ctx, "Workflow instance started",
		"instance_id", id, "tasks", len(refs))

	e.publishInstanceEvent(ctx, events.WorkflowStarted, snapshot, "")

	return nil
}

// CancelWorkflow forces a non-terminal instance to cancelled. Tasks already
// sitting in the queue are not removed; the processor drains them and the
// completion scan ignores non-running instances.
func (e *Engine) CancelWorkflow(ctx context.Context, id, reason string) error {
	e.mu.Lock()

	instance, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()

		return notFoundErr("CancelWorkflow", id)
	}

	if instance.Status.Terminal() {
		status := instance.Status
		e.mu.Unlock()

		return wrapStateErr(id, status, ErrInstanceTerminal)
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCancelled
	instance.EndedAt = &now

	if reason != "" {
		if instance.Metadata == nil {
			instance.Metadata = make(map[string]any, 1)
		}

		instance.Metadata["cancel_reason"] = reason
	}

	snapshot := instance.Clone()
	e.mu.Unlock()

	e.persistInstance(ctx, snapshot)

	e.logger.InfoContext(ctx, "Workflow instance cancelled",
		"instance_id", id, "reason", reason)

	e.publishInstanceEvent(ctx, events.WorkflowCancelled, snapshot, reason)

	return nil
}

// handleTaskCompleted applies a completion report. Reports carry the
// namespaced task id and may come from the engine's own executors or from
// external consumers of workflow:task:ready.
func (e *Engine) handleTaskCompleted(ctx context.Context, evt bus.Event) error {
	report, ok := evt.Payload.(events.TaskResult)
	if !ok {
		if p, isPtr := evt.Payload.(*events.TaskResult); isPtr {
			report, ok = *p, true
		}
	}

	if !ok {
		return fmt.Errorf("task completion payload must be events.TaskResult, got %T", evt.Payload)
	}

	instanceID, taskID, ok := splitTaskID(report.TaskID)
	if !ok {
		return fmt.Errorf("malformed namespaced task id %q", report.TaskID)
	}

	e.mu.Lock()

	instance, found := e.instances[instanceID]
	if !found {
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "Completion report for unknown instance",
			"task_id", report.TaskID)

		return nil
	}

	task, found := instance.Task(taskID)
	if !found {
		e.mu.Unlock()

		return fmt.Errorf("completion report for unknown task %q", report.TaskID)
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusCompleted
	task.Result = report.Result
	task.FinishedAt = &now
	snapshot := instance.Clone()
	e.mu.Unlock()

	e.persistInstance(ctx, snapshot)
	e.checkWorkflowCompletion(ctx)

	return nil
}

// handleTaskError applies a failure report: best-effort retry while the
// task's counter lasts, terminal failure after.
func (e *Engine) handleTaskError(ctx context.Context, evt bus.Event) error {
	report, ok := evt.Payload.(events.TaskFailure)
	if !ok {
		if p, isPtr := evt.Payload.(*events.TaskFailure); isPtr {
			report, ok = *p, true
		}
	}

	if !ok {
		return fmt.Errorf("task failure payload must be events.TaskFailure, got %T", evt.Payload)
	}

	instanceID, taskID, ok := splitTaskID(report.TaskID)
	if !ok {
		return fmt.Errorf("malformed namespaced task id %q", report.TaskID)
	}

	e.mu.Lock()

	instance, found := e.instances[instanceID]
	if !found {
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "Failure report for unknown instance",
			"task_id", report.TaskID)

		return nil
	}

	task, found := instance.Task(taskID)
	if !found {
		e.mu.Unlock()

		return fmt.Errorf("failure report for unknown task %q", report.TaskID)
	}

	now := time.Now().UTC()
	task.Error = report.Error

	retry := task.Retries > 0
	if retry {
		task.Retries--
		task.Status = models.TaskStatusPending
	} else {
		task.Status = models.TaskStatusFailed
		task.FinishedAt = &now
	}

	retriesLeft := task.Retries
	snapshot := instance.Clone()
	e.mu.Unlock()

	if retry {
		if err := e.queue.Enqueue(taskRef{InstanceID: instanceID, TaskID: taskID}); err != nil {
			e.logger.ErrorContext(ctx, "Failed to requeue task for retry",
				"task_id", report.TaskID, "error", err)
			snapshot = e.failTask(instanceID, taskID, fmt.Sprintf("retry requeue: %v", err))
		} else {
			e.logger.InfoContext(ctx, "Task requeued for retry",
				"task_id", report.TaskID, "retries_left", retriesLeft)
		}
	}

	if snapshot != nil {
		e.persistInstance(ctx, snapshot)
	}

	e.checkWorkflowCompletion(ctx)

	return nil
}

// failTask marks a task terminally failed and returns a fresh snapshot.
func (e *Engine) failTask(instanceID, taskID, reason string) *models.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()

	instance, found := e.instances[instanceID]
	if !found {
		return nil
	}

	task, found := instance.Task(taskID)
	if !found {
		return nil
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.Error = reason
	task.FinishedAt = &now

	return instance.Clone()
}

// checkWorkflowCompletion scans running instances: completed once every task
// completed, failed as soon as any task is terminally failed.
func (e *Engine) checkWorkflowCompletion(ctx context.Context) {
	type outcome struct {
		name     string
		snapshot *models.Instance
	}

	now := time.Now().UTC()
	outcomes := make([]outcome, 0, 1)

	e.mu.Lock()

	for _, instance := range e.instances {
		if instance.Status != models.InstanceStatusRunning {
			continue
		}

		completed, failed := instance.Progress()

		switch {
		case failed > 0:
			instance.Status = models.InstanceStatusFailed
			instance.EndedAt = &now
			outcomes = append(outcomes, outcome{events.WorkflowFailed, instance.Clone()})
		case completed == len(instance.Tasks):
			instance.Status = models.InstanceStatusCompleted
			instance.EndedAt = &now
			outcomes = append(outcomes, outcome{events.WorkflowCompleted, instance.Clone()})
		}
	}

	e.mu.Unlock()

	for _, o := range outcomes {
		e.persistInstance(ctx, o.snapshot)
		e.logger.InfoContext(ctx, "Workflow instance finished",
			"instance_id", o.snapshot.ID, "status", o.snapshot.Status)
		e.publishInstanceEvent(ctx, o.name, o.snapshot, "")
	}
}

func (e *Engine) publishInstanceEvent(ctx context.Context, name string, snapshot *models.Instance, reason string) {
	if err := e.bus.Emit(ctx, name, instanceDone(snapshot, reason)); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish instance event",
			"event", name, "instance_id", snapshot.ID, "error", err)
	}
}
