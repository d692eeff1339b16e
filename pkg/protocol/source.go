// Package protocol defines the contracts pluggable pieces implement: event
// sources that feed the bus and behavior factories that build container
// variants.
package protocol

import (
	"context"
	"log/slog"
)

// EmitFunc publishes a source's event into the bus. Sources never hold a bus
// reference; the wiring layer binds this to bus.EmitFrom with the source id.
type EmitFunc func(ctx context.Context, name string, payload any) error

// Source is a long-running emitter of external events: a cron schedule, a
// queue consumer, anything that watches the outside world and turns it into
// bus traffic.
type Source interface {
	// Start begins emitting. It must not block beyond setup; emission
	// happens from the source's own goroutines until Stop.
	Start(ctx context.Context, emit EmitFunc) error

	// Stop shuts the source down and waits for in-flight emissions.
	Stop(ctx context.Context) error

	// Validate checks the source configuration.
	Validate() error
}

// SourceFactory builds Source instances from plan configuration. Implemented
// by built-in sources and by .so plugins exposing a `Source` symbol.
type SourceFactory interface {
	// Create instantiates a source from its configuration map.
	Create(config map[string]any, logger *slog.Logger) (Source, error)

	// ID is the source type key referenced by plan files.
	ID() string
}
