package container

import "context"

// Behavior is the hook set a container variant implements. The container
// engine owns the state machine, child registry and event bubbling; the
// behavior supplies what happens at each transition.
type Behavior interface {
	// InitialStats seeds the container's accumulator at construction.
	InitialStats() map[string]any

	OnInitialize(ctx context.Context, c *Container) error
	OnStart(ctx context.Context, c *Container) error
	OnPause(ctx context.Context, c *Container) error
	OnResume(ctx context.Context, c *Container) error
	OnStop(ctx context.Context, c *Container) error
	OnDestroy(ctx context.Context, c *Container) error

	// ExecutionResult summarizes the run for the completion event.
	ExecutionResult(c *Container) map[string]any
}

// Base is a no-op Behavior for embedding. Variants override only the hooks
// they care about.
type Base struct{}

func (Base) InitialStats() map[string]any { return map[string]any{} }

func (Base) OnInitialize(ctx context.Context, c *Container) error { return nil }

func (Base) OnStart(ctx context.Context, c *Container) error { return nil }

func (Base) OnPause(ctx context.Context, c *Container) error { return nil }

func (Base) OnResume(ctx context.Context, c *Container) error { return nil }

func (Base) OnStop(ctx context.Context, c *Container) error { return nil }

func (Base) OnDestroy(ctx context.Context, c *Container) error { return nil }

// ExecutionResult defaults to the final stats snapshot.
func (Base) ExecutionResult(c *Container) map[string]any { return c.Stats() }
