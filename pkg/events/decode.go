package events

import (
	"encoding/json"
	"fmt"
)

// Decode turns a serialized payload back into its typed form. Names outside
// the core set decode into a generic value, preserving the opaque-passthrough
// contract for externally named events.
func Decode(name string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var (
		payload any
		err     error
	)

	switch name {
	case Error:
		payload, err = decodeInto[Failure](data)
	case ContainerStateChanged:
		payload, err = decodeInto[StateChange](data)
	case ContainerCompleted:
		payload, err = decodeInto[Completion](data)
	case WorkflowTaskReady:
		payload, err = decodeInto[TaskReady](data)
	case WorkflowTaskCompleted:
		payload, err = decodeInto[TaskResult](data)
	case WorkflowTaskError:
		payload, err = decodeInto[TaskFailure](data)
	case WorkflowRuleError:
		payload, err = decodeInto[RuleFailure](data)
	case WorkflowStarted, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		payload, err = decodeInto[InstanceDone](data)
	case ScheduleDue:
		payload, err = decodeInto[ScheduleFired](data)
	case PageNavigated:
		payload, err = decodeInto[Navigation](data)
	case PagePaginated:
		payload, err = decodeInto[Pagination](data)
	case LinkCollected:
		payload, err = decodeInto[LinkBatch](data)
	case ScrollStep, ScrollBottomReached:
		payload, err = decodeInto[ScrollProgress](data)
	default:
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
		}

		return generic, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
	}

	return payload, nil
}

func decodeInto[T any](data []byte) (T, error) {
	var v T

	err := json.Unmarshal(data, &v)

	return v, err
}
