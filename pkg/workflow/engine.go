// Package workflow implements the rule engine and the task scheduler: rules
// bind bus events to actions, workflow instances drive an ordered task list
// through a shared FIFO queue, and every evaluation leaves an audit record.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/registry"
)

const (
	// DefaultTickInterval is the task processor period: one dequeue per tick.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultQueueCapacity bounds the shared task queue.
	DefaultQueueCapacity = 1024

	// evaluationTailCapacity bounds the in-memory tail of recent rule
	// evaluations served to the API without a store round-trip.
	evaluationTailCapacity = 256
)

var (
	// ErrInstanceNotPending is returned by StartWorkflow for instances that
	// already left the pending state.
	ErrInstanceNotPending = errors.New("workflow instance is not pending")

	// ErrInstanceTerminal is returned by CancelWorkflow for instances that
	// already reached a terminal state.
	ErrInstanceTerminal = errors.New("workflow instance already terminal")

	// ErrRuleExists is returned by AddRule for duplicate rule ids.
	ErrRuleExists = errors.New("already registered")

	// ErrRuleNotFound is returned by rule operations on unknown ids.
	ErrRuleNotFound = errors.New("not registered")
)

// Config assembles an Engine. Bus and Store are required.
type Config struct {
	Bus      *bus.Bus
	Store    persistence.Persistence
	Registry *registry.Registry // resolves custom task targets; optional
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// TickInterval is the task processor period; zero means
	// DefaultTickInterval.
	TickInterval time.Duration

	// QueueCapacity bounds the task queue; zero means DefaultQueueCapacity.
	QueueCapacity int
}

// Engine evaluates rules against bus events and drives workflow instances
// through the shared task queue.
type Engine struct {
	bus      *bus.Bus
	store    persistence.Persistence
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	tickInterval time.Duration
	queue        *taskQueue

	mu        sync.RWMutex
	rules     map[string]*models.Rule
	ruleSubs  map[string][]*bus.Subscription
	instances map[string]*models.Instance

	taskSubs []*bus.Subscription

	evalMu   sync.Mutex
	evalTail []*models.RuleEvaluation

	loopMu  sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	started bool
}

// NewEngine builds an engine and attaches its task completion subscriptions.
// The processing loop starts lazily with the first StartWorkflow, or
// explicitly via Start.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Bus == nil {
		return nil, errors.New("workflow engine requires a bus")
	}

	if cfg.Store == nil {
		return nil, errors.New("workflow engine requires a store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithModule("workflow")
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("harvestman/workflow")
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}

	queueCapacity := cfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}

	e := &Engine{
		bus:          cfg.Bus,
		store:        cfg.Store,
		registry:     cfg.Registry,
		logger:       logger,
		tracer:       tracer,
		tickInterval: tickInterval,
		queue:        newTaskQueue(queueCapacity),
		rules:        make(map[string]*models.Rule),
		ruleSubs:     make(map[string][]*bus.Subscription),
		instances:    make(map[string]*models.Instance),
	}

	// Internal and external executors share one completion path: both
	// publish workflow:task:completed / workflow:task:error.
	e.taskSubs = []*bus.Subscription{
		cfg.Bus.On(events.WorkflowTaskCompleted, e.handleTaskCompleted),
		cfg.Bus.On(events.WorkflowTaskError, e.handleTaskError),
	}

	return e, nil
}

// Start arms the task processing loop eagerly. StartWorkflow arms it on
// demand, so calling Start is only needed when container tasks should flow
// before any workflow is started locally.
func (e *Engine) Start(ctx context.Context) error {
	e.ensureProcessor()
	e.logger.InfoContext(ctx, "Workflow engine started", "tick_interval", e.tickInterval)

	return nil
}

// Stop halts the task processor. Completion subscriptions stay attached so
// in-flight container tasks can still report back; the next Start or
// StartWorkflow re-arms the loop.
func (e *Engine) Stop(ctx context.Context) error {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if !e.started {
		return nil
	}

	e.ticker.Stop()
	close(e.done)
	e.started = false

	e.logger.InfoContext(ctx, "Workflow engine stopped")

	return nil
}

// Close stops the processor and detaches every bus subscription the engine
// holds, rule evaluators included. The engine is inert afterwards.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	subs := e.taskSubs
	e.taskSubs = nil

	for id, ruleSubs := range e.ruleSubs {
		subs = append(subs, ruleSubs...)
		delete(e.ruleSubs, id)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		e.bus.Off(sub)
	}

	return nil
}

// ensureProcessor arms the ticker loop if it is not already running.
func (e *Engine) ensureProcessor() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.started {
		return
	}

	e.ticker = time.NewTicker(e.tickInterval)
	e.done = make(chan struct{})
	e.started = true

	go e.processLoop(e.ticker, e.done)
}

func (e *Engine) processLoop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.processNextTask(context.Background())
		}
	}
}

// Instance returns a snapshot of a tracked instance.
func (e *Engine) Instance(id string) (*models.Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	instance, ok := e.instances[id]
	if !ok {
		return nil, false
	}

	return instance.Clone(), true
}

// Rules returns the registered rules, sorted by id.
func (e *Engine) Rules() []*models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*models.Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	return rules
}

// Rule returns a registered rule by id.
func (e *Engine) Rule(id string) (*models.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := e.rules[id]

	return rule, ok
}

// QueueDepth reports how many task references are waiting.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// Instances lists persisted workflow instances, newest first. Every engine
// mutation persists a snapshot, so the store view is current.
func (e *Engine) Instances(ctx context.Context) ([]*models.Instance, error) {
	return e.store.Instances(ctx)
}

// Evaluations queries persisted rule evaluations, newest first.
func (e *Engine) Evaluations(ctx context.Context, filter models.EvaluationFilter) ([]*models.RuleEvaluation, error) {
	return e.store.Evaluations(ctx, filter)
}

// RecentEvaluations returns up to limit evaluations from the in-memory tail,
// newest first, without touching the store. Limit <= 0 means the whole tail.
func (e *Engine) RecentEvaluations(limit int) []*models.RuleEvaluation {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	n := len(e.evalTail)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*models.RuleEvaluation, 0, n)
	for i := len(e.evalTail) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.evalTail[i])
	}

	return out
}

// appendEvaluation pushes onto the bounded tail, dropping the oldest entry
// once full.
func (e *Engine) appendEvaluation(evaluation *models.RuleEvaluation) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	if len(e.evalTail) >= evaluationTailCapacity {
		copy(e.evalTail, e.evalTail[1:])
		e.evalTail = e.evalTail[:len(e.evalTail)-1]
	}

	e.evalTail = append(e.evalTail, evaluation)
}

// persistInstance writes a snapshot, logging instead of failing: the
// in-memory state is authoritative and a later write will catch up.
func (e *Engine) persistInstance(ctx context.Context, snapshot *models.Instance) {
	if err := e.store.SaveInstance(ctx, snapshot); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist instance",
			"instance_id", snapshot.ID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// splitTaskID undoes models.NamespacedTaskID. Instance ids are UUIDs and
// never contain underscores, so the first underscore is the separator.
func splitTaskID(namespaced string) (instanceID, taskID string, ok bool) {
	instanceID, taskID, ok = strings.Cut(namespaced, "_")
	if !ok || instanceID == "" || taskID == "" {
		return "", "", false
	}

	return instanceID, taskID, true
}

func instanceDone(instance *models.Instance, reason string) events.InstanceDone {
	completed, failed := instance.Progress()

	return events.InstanceDone{
		InstanceID:     instance.ID,
		Name:           instance.Name,
		Status:         string(instance.Status),
		TasksTotal:     len(instance.Tasks),
		TasksCompleted: completed,
		TasksFailed:    failed,
		Reason:         reason,
	}
}

func notFoundErr(op, instanceID string) error {
	return persistence.NewInstanceError(op, instanceID, persistence.ErrInstanceNotFound)
}

func wrapStateErr(instanceID string, status models.InstanceStatus, sentinel error) error {
	return fmt.Errorf("instance %s is %s: %w", instanceID, status, sentinel)
}
