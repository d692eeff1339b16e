// Package file provides file-based persistence for workflow instances and
// rule evaluations. Instances are stored as one JSON document per file,
// evaluations as an append-only JSON-lines log.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	instanceRepo  *InstanceRepository
	evaluationLog *EvaluationLog
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		instanceRepo:  NewInstanceRepository(cleanRoot),
		evaluationLog: NewEvaluationLog(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Instances returns all stored workflow instances, newest first.
func (fp *Persistence) Instances(ctx context.Context) ([]*models.Instance, error) {
	return fp.instanceRepo.List(ctx)
}

// InstanceByID returns an instance by its ID.
func (fp *Persistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return fp.instanceRepo.GetByID(ctx, id)
}

// SaveInstance writes an instance document to disk.
func (fp *Persistence) SaveInstance(ctx context.Context, instance *models.Instance) error {
	return fp.instanceRepo.Save(ctx, instance)
}

// SaveEvaluation appends a rule evaluation record to the log.
func (fp *Persistence) SaveEvaluation(ctx context.Context, evaluation *models.RuleEvaluation) error {
	return fp.evaluationLog.Append(ctx, evaluation)
}

// Evaluations returns evaluation records matching the filter, newest first.
func (fp *Persistence) Evaluations(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	return fp.evaluationLog.Query(ctx, filter)
}
