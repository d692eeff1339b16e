// Package persistence defines the storage contract for workflow instances
// and rule evaluation records.
package persistence

import (
	"context"

	"github.com/harvestman-flow/harvestman/pkg/models"
)

// Persistence is the storage interface shared by all backends.
type Persistence interface {
	// Instances returns all stored workflow instances, newest first.
	Instances(ctx context.Context) ([]*models.Instance, error)

	// InstanceByID returns a single instance, or ErrInstanceNotFound.
	InstanceByID(ctx context.Context, id string) (*models.Instance, error)

	// SaveInstance inserts or replaces an instance and its task list.
	SaveInstance(ctx context.Context, instance *models.Instance) error

	// SaveEvaluation appends a rule evaluation record.
	SaveEvaluation(ctx context.Context, evaluation *models.RuleEvaluation) error

	// Evaluations returns evaluation records matching the filter,
	// newest first.
	Evaluations(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend resources.
	Close(ctx context.Context) error
}
