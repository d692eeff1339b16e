// Package container implements the lifecycle engine for harvest units: a
// created → initializing → ready → running ⇄ paused → completed state
// machine with failure and destruction paths, a parent/child registry and
// event bubbling toward the root.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/session"
)

// Config parameterizes a container. A nil Bus means the container creates
// and owns its own; an injected bus is shared and survives Destroy.
type Config struct {
	ID              string
	Name            string
	Params          map[string]any
	Bus             *bus.Bus
	HistoryCapacity int
	Logger          *slog.Logger
}

// Container couples one Behavior to the shared lifecycle engine. Lifecycle
// methods are meant to be driven by a single orchestrator; all accessors are
// safe for concurrent use.
type Container struct {
	id       string
	name     string
	params   map[string]any
	behavior Behavior
	logger   *slog.Logger
	bus      *bus.Bus
	ownsBus  bool
	stats    *stats

	mu       sync.RWMutex
	status   Status
	sess     session.Page
	parent   *Container
	children map[string]*Container
	errCount int
}

func New(cfg Config, behavior Behavior) *Container {
	if behavior == nil {
		behavior = Base{}
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	name := cfg.Name
	if name == "" {
		name = id
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "container", "container_id", id)

	b := cfg.Bus
	ownsBus := b == nil

	if ownsBus {
		b = bus.New(bus.Config{
			Source:          id,
			HistoryCapacity: cfg.HistoryCapacity,
			Logger:          logger,
		})
	}

	return &Container{
		id:       id,
		name:     name,
		params:   cfg.Params,
		behavior: behavior,
		logger:   logger,
		bus:      b,
		ownsBus:  ownsBus,
		stats:    newStats(behavior.InitialStats()),
		status:   StatusCreated,
		children: make(map[string]*Container),
	}
}

func (c *Container) ID() string { return c.id }

func (c *Container) Name() string { return c.name }

// Params is the behavior configuration handed in at construction. Treated
// as read-only.
func (c *Container) Params() map[string]any { return c.params }

func (c *Container) Bus() *bus.Bus { return c.bus }

func (c *Container) Logger() *slog.Logger { return c.logger }

func (c *Container) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// Session returns the page handle set by Initialize, nil before that and
// after cleanup.
func (c *Container) Session() session.Page {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sess
}

func (c *Container) ErrorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.errCount
}

// Stats snapshots the accumulator. The same snapshot rides on every
// container:state:changed payload.
func (c *Container) Stats() map[string]any { return c.stats.snapshot() }

func (c *Container) IncrStat(key string, delta int) { c.stats.incr(key, delta) }

func (c *Container) SetStat(key string, value any) { c.stats.set(key, value) }

func (c *Container) Stat(key string) (any, bool) { return c.stats.get(key) }

// ExecutionResult exposes the behavior's result summary, the same value the
// completion event carries.
func (c *Container) ExecutionResult() map[string]any {
	return c.behavior.ExecutionResult(c)
}

// Initialize stores the session handle and runs the behavior's initialize
// hook. Allowed from created and failed; a hook failure bumps the error
// count, parks the container in failed and is returned wrapped, leaving
// Initialize callable again.
func (c *Container) Initialize(ctx context.Context, sess session.Page) error {
	c.mu.Lock()

	if c.status != StatusCreated && c.status != StatusFailed {
		err := &StateError{ContainerID: c.id, Op: "initialize", Status: c.status, Err: ErrInvalidState}
		c.mu.Unlock()

		return err
	}

	c.sess = sess
	c.mu.Unlock()

	c.setStatus(ctx, StatusInitializing)

	if err := c.behavior.OnInitialize(ctx, c); err != nil {
		c.recordError()
		c.setStatus(ctx, StatusFailed)

		return fmt.Errorf("failed to initialize container %s: %w", c.id, err)
	}

	c.setStatus(ctx, StatusReady)

	return nil
}

// Start moves ready → running and runs the start hook. It fails with a
// StateError when no session was set via Initialize or the container is not
// ready. A start-hook error is counted and returned but does not change
// state.
func (c *Container) Start(ctx context.Context) error {
	c.mu.RLock()
	sess, status := c.sess, c.status
	c.mu.RUnlock()

	if sess == nil {
		return &StateError{ContainerID: c.id, Op: "start", Status: status, Err: ErrNotInitialized}
	}

	if status != StatusReady {
		return &StateError{ContainerID: c.id, Op: "start", Status: status, Err: ErrInvalidState}
	}

	c.setStatus(ctx, StatusRunning)

	if err := c.behavior.OnStart(ctx, c); err != nil {
		c.recordError()

		return fmt.Errorf("failed to start container %s: %w", c.id, err)
	}

	return nil
}

// Pause no-ops unless the container is exactly running.
func (c *Container) Pause(ctx context.Context) error {
	if c.Status() != StatusRunning {
		return nil
	}

	c.setStatus(ctx, StatusPaused)

	if err := c.behavior.OnPause(ctx, c); err != nil {
		c.recordError()

		return fmt.Errorf("failed to pause container %s: %w", c.id, err)
	}

	return nil
}

// Resume no-ops unless the container is exactly paused.
func (c *Container) Resume(ctx context.Context) error {
	if c.Status() != StatusPaused {
		return nil
	}

	c.setStatus(ctx, StatusRunning)

	if err := c.behavior.OnResume(ctx, c); err != nil {
		c.recordError()

		return fmt.Errorf("failed to resume container %s: %w", c.id, err)
	}

	return nil
}

// Stop completes the container from any non-destroyed state: status flips to
// completed, the stop hook and cleanup run, and a completion event carrying
// ExecutionResult goes out. A stop-hook failure is counted and returned
// after cleanup still ran.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()

	if status == StatusDestroyed {
		return &StateError{ContainerID: c.id, Op: "stop", Status: status, Err: ErrInvalidState}
	}

	c.setStatus(ctx, StatusCompleted)

	var hookErr error

	if err := c.behavior.OnStop(ctx, c); err != nil {
		c.recordError()
		c.logger.WarnContext(ctx, "stop hook failed", "error", err)

		hookErr = fmt.Errorf("failed to stop container %s: %w", c.id, err)
	}

	c.cleanup(ctx)

	c.Emit(ctx, events.ContainerCompleted, events.Completion{
		ContainerID: c.id,
		Name:        c.name,
		Result:      c.behavior.ExecutionResult(c),
		Stats:       c.stats.snapshot(),
	})

	return hookErr
}

// Destroy tears the container down from any state and never returns an
// error; hook and teardown failures are counted and logged. Children are
// destroyed first, then the session reference is dropped. A bus created by
// this container is destroyed with it; an injected bus is left alone.
func (c *Container) Destroy(ctx context.Context) {
	c.mu.Lock()

	if c.status == StatusDestroyed {
		c.mu.Unlock()

		return
	}
	c.mu.Unlock()

	// Status change first so the destroyed event still bubbles through the
	// not-yet-severed parent link.
	c.setStatus(ctx, StatusDestroyed)

	if err := c.behavior.OnDestroy(ctx, c); err != nil {
		c.recordError()
		c.logger.WarnContext(ctx, "destroy hook failed", "error", err)
	}

	c.cleanup(ctx)

	c.mu.Lock()
	parent := c.parent
	c.parent = nil
	c.mu.Unlock()

	if parent != nil {
		parent.RemoveChild(c.id)
	}

	if c.ownsBus {
		c.bus.Destroy()
	}
}

// cleanup destroys all children, clears the registry and drops the session
// reference. The session's lifecycle belongs to whoever created it.
func (c *Container) cleanup(ctx context.Context) {
	c.mu.Lock()

	kids := make([]*Container, 0, len(c.children))
	for _, child := range c.children {
		kids = append(kids, child)
	}

	c.children = make(map[string]*Container)
	c.sess = nil
	c.mu.Unlock()

	for _, child := range kids {
		child.Destroy(ctx)
	}
}

// AddChild registers child under its id and points its parent back-reference
// here. Registering an id twice is a warned no-op.
func (c *Container) AddChild(child *Container) {
	if child == nil || child == c {
		return
	}

	c.mu.Lock()

	if _, exists := c.children[child.id]; exists {
		c.mu.Unlock()
		c.logger.Warn("child already registered", "child_id", child.id)

		return
	}

	c.children[child.id] = child
	c.mu.Unlock()

	child.setParent(c)
}

// RemoveChild drops the child from the registry and clears its parent
// back-reference. Missing ids are ignored.
func (c *Container) RemoveChild(id string) {
	c.mu.Lock()
	child, ok := c.children[id]

	if ok {
		delete(c.children, id)
	}
	c.mu.Unlock()

	if ok {
		child.setParent(nil)
	}
}

func (c *Container) Child(id string) (*Container, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	child, ok := c.children[id]

	return child, ok
}

func (c *Container) Children() []*Container {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Container, 0, len(c.children))
	for _, child := range c.children {
		out = append(out, child)
	}

	return out
}

func (c *Container) Parent() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.parent
}

func (c *Container) setParent(parent *Container) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.parent = parent
}

// Emit dispatches on this container's own bus first, then re-emits up the
// ancestor chain with this container recorded as the originating source.
// Ancestors re-dispatch independently; nothing deduplicates, so hierarchies
// sharing one injected bus see one delivery per level.
func (c *Container) Emit(ctx context.Context, name string, payload any) {
	c.emitFrom(ctx, c.id, name, payload)
}

func (c *Container) emitFrom(ctx context.Context, origin, name string, payload any) {
	if err := c.bus.EmitFrom(ctx, origin, name, payload); err != nil {
		c.logger.DebugContext(ctx, "local dispatch failed", "event", name, "error", err)
	}

	c.mu.RLock()
	parent := c.parent
	c.mu.RUnlock()

	if parent != nil {
		parent.emitFrom(ctx, origin, name, payload)
	}
}

func (c *Container) setStatus(ctx context.Context, to Status) {
	c.mu.Lock()
	from := c.status
	c.status = to
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "status changed", "from", from, "to", to)

	c.Emit(ctx, events.ContainerStateChanged, events.StateChange{
		ContainerID: c.id,
		Name:        c.name,
		From:        from.String(),
		To:          to.String(),
		Stats:       c.stats.snapshot(),
		At:          time.Now().UTC(),
	})
}

func (c *Container) recordError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errCount++
}
