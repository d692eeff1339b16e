// Package postgresql provides PostgreSQL persistence for workflow instances
// and rule evaluations.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	instanceRepo   *InstanceRepository
	evaluationRepo *EvaluationRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		instanceRepo:   NewInstanceRepository(database, logger),
		evaluationRepo: NewEvaluationRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Instances returns all workflow instances from the database, newest first.
func (p *Persistence) Instances(ctx context.Context) ([]*models.Instance, error) {
	return p.instanceRepo.GetAll(ctx)
}

// InstanceByID returns a workflow instance by its ID.
func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return p.instanceRepo.GetByID(ctx, id)
}

// SaveInstance saves a workflow instance and its task list to the database.
func (p *Persistence) SaveInstance(ctx context.Context, instance *models.Instance) error {
	return p.instanceRepo.Save(ctx, instance)
}

// SaveEvaluation appends a rule evaluation record to the database.
func (p *Persistence) SaveEvaluation(ctx context.Context, evaluation *models.RuleEvaluation) error {
	return p.evaluationRepo.Save(ctx, evaluation)
}

// Evaluations returns evaluation records matching the filter, newest first.
func (p *Persistence) Evaluations(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	return p.evaluationRepo.List(ctx, filter)
}
