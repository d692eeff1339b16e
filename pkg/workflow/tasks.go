package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/otelhelper"
)

// processNextTask dequeues at most one task and executes it by type. Tasks
// run inside the loop goroutine, so no two tasks ever execute concurrently.
func (e *Engine) processNextTask(ctx context.Context) {
	ref, ok := e.queue.Dequeue()
	if !ok {
		return
	}

	e.mu.Lock()

	instance, found := e.instances[ref.InstanceID]
	if !found {
		e.mu.Unlock()
		e.logger.Warn("Dequeued task for unknown instance",
			"instance_id", ref.InstanceID, "task_id", ref.TaskID)

		return
	}

	task, found := instance.Task(ref.TaskID)
	if !found {
		e.mu.Unlock()
		e.logger.Warn("Dequeued unknown task",
			"instance_id", ref.InstanceID, "task_id", ref.TaskID)

		return
	}

	if instance.Status != models.InstanceStatusRunning {
		// Cancelled or already finished; drain the reference without running.
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "Skipping task of non-running instance",
			"instance_id", ref.InstanceID, "task_id", ref.TaskID,
			"status", instance.Status)

		return
	}

	if task.Status != models.TaskStatusPending {
		// Finished out of band; the tick is still consumed.
		e.mu.Unlock()

		return
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusProcessing
	task.StartedAt = &now
	job := task.Clone()
	snapshot := instance.Clone()
	e.mu.Unlock()

	e.persistInstance(ctx, snapshot)
	e.executeTask(ctx, ref, job)
}

// executeTask runs one dequeued task. Container tasks are announced and left
// to external executors; system and custom tasks run inline. Either way the
// outcome travels as a workflow:task:completed / workflow:task:error event.
func (e *Engine) executeTask(ctx context.Context, ref taskRef, task *models.Task) {
	namespacedID := models.NamespacedTaskID(ref.InstanceID, ref.TaskID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.task.execute",
		attribute.String(otelhelper.InstanceIDKey, ref.InstanceID),
		attribute.String(otelhelper.TaskIDKey, namespacedID),
		attribute.String(otelhelper.TaskTypeKey, string(task.Type)),
	)
	defer span.End()

	switch task.Type {
	case models.TaskTypeContainer:
		ready := events.TaskReady{
			InstanceID:  ref.InstanceID,
			TaskID:      namespacedID,
			Target:      task.Target,
			Action:      task.Action,
			Params:      task.Params,
			RetriesLeft: task.Retries,
		}

		if err := e.bus.Emit(ctx, events.WorkflowTaskReady, ready); err != nil {
			otelhelper.SetError(span, err)
			e.reportTaskFailure(ctx, namespacedID, fmt.Errorf("failed to announce task: %w", err))
		}
	case models.TaskTypeSystem:
		result, err := e.runSystemTask(ctx, task)
		e.settleTask(ctx, span, namespacedID, result, err)
	case models.TaskTypeCustom:
		result, err := e.runCustomTask(ctx, task)
		e.settleTask(ctx, span, namespacedID, result, err)
	default:
		err := fmt.Errorf("unknown task type %q", task.Type)
		otelhelper.SetError(span, err)
		e.reportTaskFailure(ctx, namespacedID, err)
	}
}

func (e *Engine) settleTask(ctx context.Context, span trace.Span, namespacedID string, result map[string]any, err error) {
	if err != nil {
		otelhelper.SetError(span, err)
		e.reportTaskFailure(ctx, namespacedID, err)

		return
	}

	e.reportTaskResult(ctx, namespacedID, result)
}

func (e *Engine) runSystemTask(ctx context.Context, task *models.Task) (map[string]any, error) {
	switch task.Action {
	case models.SystemActionDelay:
		ms, ok := numberParam(task.Params, "duration_ms")
		if !ok || ms <= 0 {
			return nil, fmt.Errorf("delay task %s requires a positive duration_ms", task.ID)
		}

		if err := sleepContext(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return nil, err
		}

		return map[string]any{"waited_ms": ms}, nil
	case models.SystemActionLog:
		message, _ := task.Params["message"].(string)
		if message == "" {
			message = task.Name
		}

		e.logger.InfoContext(ctx, message, "task_id", task.ID)

		return map[string]any{"logged": true}, nil
	default:
		return nil, fmt.Errorf("unknown system action %q", task.Action)
	}
}

func (e *Engine) runCustomTask(ctx context.Context, task *models.Task) (result map[string]any, err error) {
	handler := task.Handler
	if handler == nil {
		if e.registry == nil {
			return nil, fmt.Errorf("custom task %s has no handler and no registry is configured", task.ID)
		}

		handler, err = e.registry.TaskHandler(task.Target)
		if err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()

	return handler(ctx, task, e.logger)
}

func (e *Engine) reportTaskResult(ctx context.Context, namespacedID string, result map[string]any) {
	report := events.TaskResult{TaskID: namespacedID, Result: result}

	if err := e.bus.Emit(ctx, events.WorkflowTaskCompleted, report); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish task completion",
			"task_id", namespacedID, "error", err)
	}
}

func (e *Engine) reportTaskFailure(ctx context.Context, namespacedID string, taskErr error) {
	e.logger.WarnContext(ctx, "Task failed",
		"task_id", namespacedID, "error", taskErr)

	report := events.TaskFailure{TaskID: namespacedID, Error: taskErr.Error()}

	if err := e.bus.Emit(ctx, events.WorkflowTaskError, report); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish task failure",
			"task_id", namespacedID, "error", err)
	}
}

// numberParam coerces a params entry that may arrive as int, int64 or
// (after JSON decoding) float64.
func numberParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
