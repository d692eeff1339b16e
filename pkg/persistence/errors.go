package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same identifier already exists.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrInvalidInstanceStatus indicates an invalid instance status was provided.
	ErrInvalidInstanceStatus = errors.New("invalid instance status")

	// ErrEvaluationNotFound indicates a rule evaluation record was not found.
	ErrEvaluationNotFound = errors.New("rule evaluation not found")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "InstanceByID", "SaveInstance")
	InstanceID string // Instance ID if applicable
	Err        error  // Underlying error
	Message    string // Additional context message
}

func (e *InstanceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for instance %s: %s (%v)", e.Op, e.InstanceID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// EvaluationError wraps evaluation-related errors with additional context.
type EvaluationError struct {
	Op           string // Operation being performed
	EvaluationID string // Evaluation ID if applicable
	RuleID       string // Rule the evaluation belongs to
	Err          error  // Underlying error
}

func (e *EvaluationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s operation failed for evaluation of rule %s: %v", e.Op, e.RuleID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for evaluation %s: %v", e.Op, e.EvaluationID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func (e *EvaluationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsInstanceAlreadyExists checks if an error indicates a duplicate instance.
func IsInstanceAlreadyExists(err error) bool {
	return errors.Is(err, ErrInstanceAlreadyExists)
}
