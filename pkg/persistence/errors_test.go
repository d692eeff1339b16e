package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harvestman-flow/harvestman/pkg/persistence"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error constants are available", func(t *testing.T) {
		assert.NotNil(t, persistence.ErrInstanceNotFound)
		assert.NotNil(t, persistence.ErrInstanceAlreadyExists)
		assert.NotNil(t, persistence.ErrInvalidInstanceStatus)
		assert.NotNil(t, persistence.ErrEvaluationNotFound)
	})

	t.Run("error checking functions work correctly", func(t *testing.T) {
		instanceErr := persistence.NewInstanceError("InstanceByID", "instance-123", persistence.ErrInstanceNotFound)

		assert.True(t, persistence.IsInstanceNotFound(instanceErr))
		assert.False(t, persistence.IsInstanceAlreadyExists(instanceErr))

		// Test error unwrapping
		assert.True(t, errors.Is(instanceErr, persistence.ErrInstanceNotFound))
	})

	t.Run("instance error contains context", func(t *testing.T) {
		err := persistence.NewInstanceError("SaveInstance", "instance-123", persistence.ErrInstanceAlreadyExists)

		assert.Contains(t, err.Error(), "SaveInstance")
		assert.Contains(t, err.Error(), "instance-123")
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("evaluation error contains context", func(t *testing.T) {
		err := &persistence.EvaluationError{
			Op:     "SaveEvaluation",
			RuleID: "rule-9",
			Err:    errors.New("disk full"),
		}

		assert.Contains(t, err.Error(), "SaveEvaluation")
		assert.Contains(t, err.Error(), "rule-9")
		assert.Contains(t, err.Error(), "disk full")
	})
}
