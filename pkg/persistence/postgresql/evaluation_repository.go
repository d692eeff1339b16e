package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
)

// EvaluationRepository handles rule evaluation database operations.
type EvaluationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEvaluationRepository creates a new evaluation repository.
func NewEvaluationRepository(db *sql.DB, logger *slog.Logger) *EvaluationRepository {
	return &EvaluationRepository{db: db, logger: logger}
}

// Save appends one rule evaluation record.
func (r *EvaluationRepository) Save(ctx context.Context, evaluation *models.RuleEvaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = uuid.New().String()
	}

	payloadJSON, err := json.Marshal(evaluation.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO rule_evaluations (id, rule_id, event, source, payload,
condition_met, success, error, duration_ms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		evaluation.ID,
		evaluation.RuleID,
		evaluation.Event,
		evaluation.Source,
		payloadJSON,
		evaluation.ConditionMet,
		evaluation.Success,
		evaluation.Error,
		evaluation.DurationMs,
		evaluation.EvaluatedAt,
	)
	if err != nil {
		return &persistence.EvaluationError{Op: "SaveEvaluation", RuleID: evaluation.RuleID, Err: err}
	}

	return nil
}

// List returns evaluation records matching the filter, newest first.
func (r *EvaluationRepository) List(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	query := `
		SELECT id, rule_id, event, source, payload, condition_met, success, error, duration_ms, evaluated_at
		FROM rule_evaluations
	`

	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		conditions = append(conditions, fmt.Sprintf("rule_id = $%d", len(args)))
	}

	if filter.Event != "" {
		args = append(args, filter.Event)
		conditions = append(conditions, fmt.Sprintf("event = $%d", len(args)))
	}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("evaluated_at >= $%d", len(args)))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY evaluated_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	evaluations := make([]*models.RuleEvaluation, 0)

	for rows.Next() {
		evaluation, err := r.scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}

		evaluations = append(evaluations, evaluation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evaluations, nil
}

func (r *EvaluationRepository) scanEvaluation(rows *sql.Rows) (*models.RuleEvaluation, error) {
	var (
		evaluation  models.RuleEvaluation
		source      sql.NullString
		payloadJSON []byte
		errMsg      sql.NullString
	)

	err := rows.Scan(
		&evaluation.ID,
		&evaluation.RuleID,
		&evaluation.Event,
		&source,
		&payloadJSON,
		&evaluation.ConditionMet,
		&evaluation.Success,
		&errMsg,
		&evaluation.DurationMs,
		&evaluation.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}

	evaluation.Source = source.String
	evaluation.Error = errMsg.String

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &evaluation.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &evaluation, nil
}
