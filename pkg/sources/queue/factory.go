package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/harvestman-flow/harvestman/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

// Factory creates redis queue sources.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "queue"
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Source, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	source, err := NewSource(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue source: %w", err)
	}

	return source, nil
}
