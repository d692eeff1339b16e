package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// GetAll returns all workflow instances from the database, newest first.
func (r *InstanceRepository) GetAll(ctx context.Context) ([]*models.Instance, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , metadata
		  , created_at
		  , started_at
		  , ended_at
		FROM workflow_instances
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	for _, instance := range instances {
		err = r.loadTasks(ctx, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to load tasks for instance %s: %w", instance.ID, err)
		}
	}

	return instances, nil
}

// GetByID retrieves a workflow instance by its ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , metadata
		  , created_at
		  , started_at
		  , ended_at
		FROM workflow_instances
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	instance, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("InstanceByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	err = r.loadTasks(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks for instance %s: %w", instance.ID, err)
	}

	return instance, nil
}

// Save inserts or replaces a workflow instance and its task list.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	metadataJSON, err := json.Marshal(instance.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	instanceQuery := `
		INSERT INTO workflow_instances (id, name, status, metadata, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at
	`

	_, err = tx.ExecContext(ctx, instanceQuery,
		instance.ID,
		instance.Name,
		instance.Status,
		metadataJSON,
		instance.CreatedAt,
		instance.StartedAt,
		instance.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance base: %w", err)
	}

	// Replace the task list on updates
	_, err = tx.ExecContext(ctx, "DELETE FROM instance_tasks WHERE instance_id = $1", instance.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing tasks: %w", err)
	}

	err = r.saveTasks(ctx, tx, instance)
	if err != nil {
		return fmt.Errorf("failed to save instance tasks: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *InstanceRepository) saveTasks(ctx context.Context, tx *sql.Tx, instance *models.Instance) error {
	taskQuery := `
		INSERT INTO instance_tasks (instance_id, id, name, task_type, target, action,
params, retries, status, error, result, started_at, finished_at, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for position, task := range instance.Tasks {
		paramsJSON, err := json.Marshal(task.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal params for task %s: %w", task.ID, err)
		}

		resultJSON, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result for task %s: %w", task.ID, err)
		}

		_, err = tx.ExecContext(ctx, taskQuery,
			instance.ID,
			task.ID,
			task.Name,
			task.Type,
			task.Target,
			task.Action,
			paramsJSON,
			task.Retries,
			task.Status,
			task.Error,
			resultJSON,
			task.StartedAt,
			task.FinishedAt,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}

	return nil
}

func (r *InstanceRepository) loadTasks(ctx context.Context, instance *models.Instance) error {
	query := `
		SELECT id, name, task_type, target, action, params, retries, status, error, result, started_at, finished_at
		FROM instance_tasks
		WHERE instance_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to query instance tasks: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating tasks: %w", err)
	}

	instance.Tasks = tasks

	return nil
}

// scanInstance reads an instance row from either *sql.Row or *sql.Rows.
func (r *InstanceRepository) scanInstance(row interface{ Scan(dest ...any) error }) (*models.Instance, error) {
	var (
		instance     models.Instance
		metadataJSON []byte
		startedAt    sql.NullTime
		endedAt      sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.Name,
		&instance.Status,
		&metadataJSON,
		&instance.CreatedAt,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &instance.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if startedAt.Valid {
		instance.StartedAt = &startedAt.Time
	}

	if endedAt.Valid {
		instance.EndedAt = &endedAt.Time
	}

	return &instance, nil
}

func (r *InstanceRepository) scanTask(rows *sql.Rows) (*models.Task, error) {
	var (
		task       models.Task
		target     sql.NullString
		action     sql.NullString
		paramsJSON []byte
		errMsg     sql.NullString
		resultJSON []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := rows.Scan(
		&task.ID,
		&task.Name,
		&task.Type,
		&target,
		&action,
		&paramsJSON,
		&task.Retries,
		&task.Status,
		&errMsg,
		&resultJSON,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Target = target.String
	task.Action = action.String
	task.Error = errMsg.String

	if len(paramsJSON) > 0 {
		err = json.Unmarshal(paramsJSON, &task.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		err = json.Unmarshal(resultJSON, &task.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}

	return &task, nil
}
