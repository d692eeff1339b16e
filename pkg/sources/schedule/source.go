// Package schedule provides a cron-driven event source. On every due tick it
// emits schedule:due with a ScheduleFired payload.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/protocol"
)

// Source fires bus events on a cron schedule.
type Source struct {
	ID       string
	CronExpr string
	Enabled  bool

	mu   sync.Mutex
	cron *cron.Cron
	emit protocol.EmitFunc

	logger *slog.Logger
}

// NewSource builds a schedule source from configuration. Config keys: id,
// cron (standard 5-field expression), enabled (default true).
func NewSource(config map[string]any, logger *slog.Logger) (*Source, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)

	enabled := true
	if v, ok := config["enabled"].(bool); ok {
		enabled = v
	}

	source := &Source{
		ID:       id,
		CronExpr: cronExpr,
		Enabled:  enabled,
		logger: logger.With(
			"module", "schedule_source",
			"source_id", id,
			"cron", cronExpr,
		),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func (s *Source) Validate() error {
	if s.ID == "" {
		return errors.New("schedule source id is required")
	}

	if s.CronExpr == "" {
		return errors.New("schedule source cron expression is required")
	}

	if _, err := cron.ParseStandard(s.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Start arms the cron runner. Overlapping runs are skipped and panics in the
// emit path are recovered by the cron chain.
func (s *Source) Start(ctx context.Context, emit protocol.EmitFunc) error {
	if !s.Enabled {
		s.logger.InfoContext(ctx, "Schedule source is disabled")

		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("schedule source already started")
	}

	s.emit = emit
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.CronExpr, s.fire); err != nil {
		s.cron = nil

		return fmt.Errorf("failed to add cron job for source %s: %w", s.ID, err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Schedule source started")

	return nil
}

func (s *Source) fire() {
	ctx := context.Background()

	payload := events.ScheduleFired{
		SourceID:   s.ID,
		Expression: s.CronExpr,
		FiredAt:    time.Now().UTC(),
	}

	if err := s.emit(ctx, events.ScheduleDue, payload); err != nil {
		s.logger.ErrorContext(ctx, "Failed to emit schedule event", "error", err)
	}
}

// Stop halts the cron runner and waits for a running fire to finish.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.mu.Unlock()

	if runner == nil {
		return nil
	}

	<-runner.Stop().Done()
	s.logger.InfoContext(ctx, "Schedule source stopped")

	return nil
}
