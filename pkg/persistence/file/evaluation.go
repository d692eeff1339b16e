package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/harvestman-flow/harvestman/pkg/models"
)

const evaluationLogName = "evaluations.jsonl"

// EvaluationLog stores rule evaluations as an append-only JSON-lines file.
type EvaluationLog struct {
	root string
	mu   sync.Mutex
}

// NewEvaluationLog creates a new evaluation log rooted at the given directory.
func NewEvaluationLog(root string) *EvaluationLog {
	return &EvaluationLog{root: root}
}

// Append writes one evaluation record to the end of the log.
func (el *EvaluationLog) Append(_ context.Context, evaluation *models.RuleEvaluation) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	err := os.MkdirAll(el.root, 0750)
	if err != nil {
		return fmt.Errorf("failed to create evaluation log directory: %w", err)
	}

	data, err := json.Marshal(evaluation)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation %s: %w", evaluation.ID, err)
	}

	logPath := path.Join(el.root, evaluationLogName)

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open evaluation log: %w", err)
	}

	_, err = file.Write(append(data, '\n'))
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to append evaluation %s: %w", evaluation.ID, err)
	}

	return file.Close()
}

// Query returns evaluations matching the filter, newest first.
func (el *EvaluationLog) Query(_ context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	logPath := path.Join(el.root, evaluationLogName)

	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*models.RuleEvaluation, 0), nil
		}

		return nil, fmt.Errorf("failed to open evaluation log: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	matched := make([]*models.RuleEvaluation, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var evaluation models.RuleEvaluation

		err = json.Unmarshal(line, &evaluation)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal evaluation record: %w", err)
		}

		if filter.Matches(evaluation) {
			matched = append(matched, &evaluation)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read evaluation log: %w", err)
	}

	// The log is appended in time order; reverse for newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}
