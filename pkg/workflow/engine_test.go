package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/persistence/file"
	"github.com/harvestman-flow/harvestman/pkg/registry"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus, persistence.Persistence) {
	t.Helper()

	b := bus.New(bus.Config{Source: "test", Logger: log.Discard()})
	store := file.NewPersistence(t.TempDir())

	engine, err := NewEngine(Config{
		Bus:          b,
		Store:        store,
		Logger:       log.Discard(),
		TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Stop(context.Background()) })

	return engine, b, store
}

// eventRecorder captures matched bus events so assertions can run on the test
// goroutine instead of inside handlers.
type eventRecorder struct {
	mu   sync.Mutex
	evts []bus.Event
}

func record(b *bus.Bus, pattern string) *eventRecorder {
	r := &eventRecorder{}

	b.On(pattern, func(ctx context.Context, evt bus.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.evts = append(r.evts, evt)

		return nil
	})

	return r
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.evts)
}

func (r *eventRecorder) events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]bus.Event, len(r.evts))
	copy(out, r.evts)

	return out
}

func waitForStatus(t *testing.T, engine *Engine, id string, status models.InstanceStatus) *models.Instance {
	t.Helper()

	var snapshot *models.Instance

	require.Eventually(t, func() bool {
		instance, ok := engine.Instance(id)
		if !ok || instance.Status != status {
			return false
		}

		snapshot = instance

		return true
	}, 2*time.Second, 5*time.Millisecond, "instance %s never reached %s", id, status)

	return snapshot
}

func TestNewEngine_RequiresBusAndStore(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())

	_, err := NewEngine(Config{Store: store})
	require.Error(t, err)

	_, err = NewEngine(Config{Bus: bus.New(bus.Config{Logger: log.Discard()})})
	require.Error(t, err)
}

func TestEngine_RuleEvaluationRecordsOutcome(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	var thenCalls atomic.Int32

	rule := models.NewRule("r1", events.ScrollBottomReached)
	rule.Then = func(ctx context.Context, evt bus.Event) error {
		thenCalls.Add(1)

		return nil
	}

	require.NoError(t, engine.AddRule(rule))

	payload := events.ScrollProgress{ContainerID: "c-1", Step: 42, AtBottom: true}
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, payload))

	assert.Equal(t, int32(1), thenCalls.Load())

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "r1"})
	require.NoError(t, err)
	require.Len(t, evaluations, 1)

	evaluation := evaluations[0]
	assert.NotEmpty(t, evaluation.ID)
	assert.Equal(t, "r1", evaluation.RuleID)
	assert.Equal(t, events.ScrollBottomReached, evaluation.Event)
	assert.Equal(t, "test", evaluation.Source)
	assert.True(t, evaluation.ConditionMet)
	assert.True(t, evaluation.Success)
	assert.Empty(t, evaluation.Error)
	assert.GreaterOrEqual(t, evaluation.DurationMs, int64(0))
	assert.False(t, evaluation.EvaluatedAt.IsZero())
}

func TestEngine_RuleConditionFalseSkipsActions(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	var thenCalls atomic.Int32

	rule := models.NewRule("gate", events.ScrollStep)
	rule.Condition = func(ctx context.Context, evt bus.Event) (bool, error) {
		progress, ok := evt.Payload.(events.ScrollProgress)

		return ok && progress.AtBottom, nil
	}
	rule.Then = func(ctx context.Context, evt bus.Event) error {
		thenCalls.Add(1)

		return nil
	}

	require.NoError(t, engine.AddRule(rule))

	require.NoError(t, b.Emit(ctx, events.ScrollStep, events.ScrollProgress{Step: 1}))
	require.NoError(t, b.Emit(ctx, events.ScrollStep, events.ScrollProgress{Step: 2, AtBottom: true}))

	assert.Equal(t, int32(1), thenCalls.Load())

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "gate"})
	require.NoError(t, err)
	require.Len(t, evaluations, 2)

	// Newest first: the second emit met the condition.
	assert.True(t, evaluations[0].ConditionMet)
	assert.False(t, evaluations[1].ConditionMet)
	assert.True(t, evaluations[1].Success, "an unmet condition is not a failure")
}

func TestEngine_RuleConditionErrorPublishesRuleError(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	ruleErrors := record(b, events.WorkflowRuleError)

	rule := models.NewRule("brittle", events.PageNavigated)
	rule.Condition = func(ctx context.Context, evt bus.Event) (bool, error) {
		return false, errors.New("selector timeout")
	}

	require.NoError(t, engine.AddRule(rule))
	require.NoError(t, b.Emit(ctx, events.PageNavigated, nil))

	require.Equal(t, 1, ruleErrors.count())

	failure, ok := ruleErrors.events()[0].Payload.(events.RuleFailure)
	require.True(t, ok)
	assert.Equal(t, "brittle", failure.RuleID)
	assert.Equal(t, events.StageCondition, failure.Stage)
	assert.Contains(t, failure.Error, "selector timeout")

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "brittle"})
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
	assert.False(t, evaluations[0].ConditionMet)
	assert.False(t, evaluations[0].Success)
	assert.Contains(t, evaluations[0].Error, "selector timeout")
}

func TestEngine_RuleConditionPanicRecovered(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)

	ruleErrors := record(b, events.WorkflowRuleError)

	rule := models.NewRule("panicky", events.PageNavigated)
	rule.Condition = func(ctx context.Context, evt bus.Event) (bool, error) {
		panic("nil dereference somewhere")
	}

	require.NoError(t, engine.AddRule(rule))
	require.NoError(t, b.Emit(context.Background(), events.PageNavigated, nil))

	require.Equal(t, 1, ruleErrors.count())

	failure, ok := ruleErrors.events()[0].Payload.(events.RuleFailure)
	require.True(t, ok)
	assert.Equal(t, events.StageCondition, failure.Stage)
	assert.Contains(t, failure.Error, "condition panic")
}

func TestEngine_RuleThenErrorPublishesRuleError(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)

	ruleErrors := record(b, events.WorkflowRuleError)

	rule := models.NewRule("callback", events.LinkCollected)
	rule.Then = func(ctx context.Context, evt bus.Event) error {
		return errors.New("sink unavailable")
	}

	require.NoError(t, engine.AddRule(rule))
	require.NoError(t, b.Emit(context.Background(), events.LinkCollected, nil))

	require.Equal(t, 1, ruleErrors.count())

	failure, ok := ruleErrors.events()[0].Payload.(events.RuleFailure)
	require.True(t, ok)
	assert.Equal(t, events.StageThen, failure.Stage)
}

func TestEngine_RuleActionFailureStopsRemaining(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	ruleErrors := record(b, events.WorkflowRuleError)
	downstream := record(b, "harvest:next")

	rule := models.NewRule("chain", events.ScrollBottomReached)
	rule.Actions = []models.RuleAction{
		{Kind: models.ActionKindCustom, Func: func(ctx context.Context, evt bus.Event) error {
			return errors.New("first action broke")
		}},
		{Kind: models.ActionKindEmit, Event: "harvest:next"},
	}

	require.NoError(t, engine.AddRule(rule))
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, nil))

	assert.Equal(t, 0, downstream.count(), "actions after a failure must not run")
	require.Equal(t, 1, ruleErrors.count())

	failure, ok := ruleErrors.events()[0].Payload.(events.RuleFailure)
	require.True(t, ok)
	assert.Equal(t, events.StageAction, failure.Stage)
	assert.Equal(t, string(models.ActionKindCustom), failure.ActionKind)
	assert.Equal(t, 0, failure.ActionIndex)

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "chain"})
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
	assert.False(t, evaluations[0].Success)
}

func TestEngine_RuleEmitAction(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	passthrough := record(b, "harvest:next_page")
	overridden := record(b, "harvest:alert")

	rule := models.NewRule("fanout", events.ScrollBottomReached)
	rule.Actions = []models.RuleAction{
		{Kind: models.ActionKindEmit, Event: "harvest:next_page"},
		{Kind: models.ActionKindEmit, Event: "harvest:alert", Payload: map[string]any{"level": "info"}},
	}

	require.NoError(t, engine.AddRule(rule))

	original := events.ScrollProgress{Step: 7, AtBottom: true}
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, original))

	require.Equal(t, 1, passthrough.count())
	assert.Equal(t, original, passthrough.events()[0].Payload,
		"emit without payload forwards the triggering payload")

	require.Equal(t, 1, overridden.count())
	assert.Equal(t, map[string]any{"level": "info"}, overridden.events()[0].Payload)
}

func TestEngine_RuleDelayAction(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	rule := models.NewRule("pause", events.PagePaginated)
	rule.Actions = []models.RuleAction{
		{Kind: models.ActionKindDelay, DelayMs: 25},
	}

	require.NoError(t, engine.AddRule(rule))
	require.NoError(t, b.Emit(ctx, events.PagePaginated, nil))

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "pause"})
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
	assert.GreaterOrEqual(t, evaluations[0].DurationMs, int64(25))
	assert.True(t, evaluations[0].Success)
}

func TestEngine_AddRule(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	t.Run("nil rule", func(t *testing.T) {
		require.Error(t, engine.AddRule(nil))
	})

	t.Run("invalid rule", func(t *testing.T) {
		err := engine.AddRule(&models.Rule{ID: "no-when", Enabled: true})
		require.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		require.NoError(t, engine.AddRule(models.NewRule("dup", "a:b")))

		err := engine.AddRule(models.NewRule("dup", "c:d"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})
}

func TestEngine_RulesAccessors(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	require.NoError(t, engine.AddRule(models.NewRule("zeta", "a:b")))
	require.NoError(t, engine.AddRule(models.NewRule("alpha", "a:b")))

	rules := engine.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].ID)
	assert.Equal(t, "zeta", rules[1].ID)

	rule, ok := engine.Rule("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", rule.ID)

	_, ok = engine.Rule("missing")
	assert.False(t, ok)
}

func TestEngine_RemoveRuleDetachesSubscriptions(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(models.NewRule("ephemeral", events.ScrollBottomReached)))
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, nil))

	require.NoError(t, engine.RemoveRule("ephemeral"))
	assert.Equal(t, 0, b.SubscriberCount(events.ScrollBottomReached))

	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, nil))

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "ephemeral"})
	require.NoError(t, err)
	assert.Len(t, evaluations, 1, "removed rules must not evaluate")

	_, ok := engine.Rule("ephemeral")
	assert.False(t, ok)

	require.Error(t, engine.RemoveRule("ephemeral"))
}

func TestEngine_SetRuleEnabled(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(models.NewRule("toggle", events.ScrollBottomReached)))

	require.NoError(t, engine.SetRuleEnabled("toggle", false))
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, nil))

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "toggle"})
	require.NoError(t, err)
	assert.Empty(t, evaluations, "disabled rules stay subscribed but must not evaluate")

	rule, ok := engine.Rule("toggle")
	require.True(t, ok)
	assert.False(t, rule.Enabled)

	require.NoError(t, engine.SetRuleEnabled("toggle", true))
	require.NoError(t, b.Emit(ctx, events.ScrollBottomReached, nil))

	evaluations, err = store.Evaluations(ctx, models.EvaluationFilter{RuleID: "toggle"})
	require.NoError(t, err)
	assert.Len(t, evaluations, 1)

	require.Error(t, engine.SetRuleEnabled("missing", true))
}

func TestEngine_WildcardRule(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(models.NewRule("pages", "page:*")))

	require.NoError(t, b.Emit(ctx, events.PageNavigated, nil))
	require.NoError(t, b.Emit(ctx, events.PagePaginated, nil))
	require.NoError(t, b.Emit(ctx, events.LinkCollected, nil))

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "pages"})
	require.NoError(t, err)
	assert.Len(t, evaluations, 2)
}

func TestEngine_WorkflowCompletesWhenAllTasksComplete(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	completions := record(b, events.WorkflowCompleted)

	tasks := []*models.Task{
		{ID: "announce", Type: models.TaskTypeSystem, Action: models.SystemActionLog, Params: map[string]any{"message": "starting"}},
		{ID: "settle", Type: models.TaskTypeSystem, Action: models.SystemActionDelay, Params: map[string]any{"duration_ms": 5}},
		{ID: "wrap-up", Type: models.TaskTypeSystem, Action: models.SystemActionLog},
	}

	instance, err := engine.CreateWorkflow(ctx, "nightly-harvest", tasks, map[string]any{"site": "example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Len(t, instance.Tasks, 3)

	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	final := waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)

	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.EndedAt)

	for _, task := range final.Tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status, "task %s", task.ID)
		assert.NotNil(t, task.FinishedAt, "task %s", task.ID)
	}

	assert.Equal(t, map[string]any{"waited_ms": 5}, final.Tasks[1].Result)

	require.Equal(t, 1, completions.count())

	done, ok := completions.events()[0].Payload.(events.InstanceDone)
	require.True(t, ok)
	assert.Equal(t, instance.ID, done.InstanceID)
	assert.Equal(t, "nightly-harvest", done.Name)
	assert.Equal(t, 3, done.TasksTotal)
	assert.Equal(t, 3, done.TasksCompleted)
	assert.Equal(t, 0, done.TasksFailed)

	stored, err := store.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, stored.Status)
}

func TestEngine_WorkflowFailsOnTaskFailure(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	failures := record(b, events.WorkflowFailed)

	var secondRan atomic.Bool

	tasks := []*models.Task{
		{ID: "doomed", Type: models.TaskTypeCustom, Handler: func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
			return nil, errors.New("target unreachable")
		}},
		{ID: "never", Type: models.TaskTypeCustom, Handler: func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
			secondRan.Store(true)

			return nil, nil
		}},
	}

	instance, err := engine.CreateWorkflow(ctx, "doomed-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	final := waitForStatus(t, engine, instance.ID, models.InstanceStatusFailed)

	assert.Equal(t, models.TaskStatusFailed, final.Tasks[0].Status)
	assert.Contains(t, final.Tasks[0].Error, "target unreachable")
	require.NotNil(t, final.EndedAt)

	require.Equal(t, 1, failures.count())

	done, ok := failures.events()[0].Payload.(events.InstanceDone)
	require.True(t, ok)
	assert.Equal(t, 1, done.TasksFailed)

	// The queued second task drains without running once the instance failed.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, secondRan.Load())
	assert.Equal(t, 0, engine.QueueDepth())
}

func TestEngine_TaskRetryRequeuesAtTail(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	taskErrors := record(b, events.WorkflowTaskError)

	var (
		mu       sync.Mutex
		order    []string
		attempts atomic.Int32
	)

	recordRun := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, id)
	}

	tasks := []*models.Task{
		{ID: "flaky", Retries: 1, Type: models.TaskTypeCustom, Handler: func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
			recordRun("flaky")

			if attempts.Add(1) == 1 {
				return nil, errors.New("transient timeout")
			}

			return map[string]any{"attempt": 2}, nil
		}},
		{ID: "steady", Type: models.TaskTypeCustom, Handler: func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
			recordRun("steady")

			return nil, nil
		}},
	}

	instance, err := engine.CreateWorkflow(ctx, "retry-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	final := waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)

	mu.Lock()
	runOrder := append([]string(nil), order...)
	mu.Unlock()

	assert.Equal(t, []string{"flaky", "steady", "flaky"}, runOrder,
		"a retried task goes to the tail of the queue")

	flaky, ok := final.Task("flaky")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, flaky.Status)
	assert.Equal(t, 0, flaky.Retries, "the retry budget was spent")
	assert.Equal(t, int32(2), attempts.Load())

	assert.Equal(t, 1, taskErrors.count())
}

func TestEngine_TasksNeverRunConcurrently(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	var active, maxActive atomic.Int32

	handler := func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
		current := active.Add(1)
		defer active.Add(-1)

		for {
			seen := maxActive.Load()
			if current <= seen || maxActive.CompareAndSwap(seen, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return nil, nil
	}

	tasks := []*models.Task{
		{ID: "one", Type: models.TaskTypeCustom, Handler: handler},
		{ID: "two", Type: models.TaskTypeCustom, Handler: handler},
		{ID: "three", Type: models.TaskTypeCustom, Handler: handler},
	}

	instance, err := engine.CreateWorkflow(ctx, "serial-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)

	assert.Equal(t, int32(1), maxActive.Load(), "the loop dequeues at most one task per tick")
}

func TestEngine_CustomTaskResolvedFromRegistry(t *testing.T) {
	t.Parallel()

	b := bus.New(bus.Config{Source: "test", Logger: log.Discard()})
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterTaskHandler("echo", func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
		return map[string]any{"echo": task.Params["value"]}, nil
	})

	engine, err := NewEngine(Config{
		Bus:          b,
		Store:        store,
		Registry:     reg,
		Logger:       log.Discard(),
		TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Stop(context.Background()) })

	ctx := context.Background()

	tasks := []*models.Task{
		{ID: "say", Type: models.TaskTypeCustom, Target: "echo", Params: map[string]any{"value": "hello"}},
	}

	instance, err := engine.CreateWorkflow(ctx, "registry-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	final := waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)
	assert.Equal(t, map[string]any{"echo": "hello"}, final.Tasks[0].Result)
}

func TestEngine_ContainerTaskDelegation(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	// Stand in for an external executor: complete whatever gets announced.
	var announced atomic.Int32

	b.On(events.WorkflowTaskReady, func(ctx context.Context, evt bus.Event) error {
		ready, ok := evt.Payload.(events.TaskReady)
		if !ok {
			return errors.New("unexpected payload type")
		}

		announced.Add(1)

		return b.Emit(ctx, events.WorkflowTaskCompleted, events.TaskResult{
			TaskID: ready.TaskID,
			Result: map[string]any{"links": float64(12)},
		})
	})

	tasks := []*models.Task{
		{ID: "visit", Type: models.TaskTypeContainer, Target: "page", Action: "navigate", Params: map[string]any{"url": "https://example.com"}, Retries: 2},
	}

	instance, err := engine.CreateWorkflow(ctx, "delegated-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	final := waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)

	assert.Equal(t, int32(1), announced.Load())
	assert.Equal(t, models.TaskStatusCompleted, final.Tasks[0].Status)
	assert.Equal(t, map[string]any{"links": float64(12)}, final.Tasks[0].Result)
}

func TestEngine_ContainerTaskAnnouncementPayload(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	readyCh := make(chan events.TaskReady, 1)

	b.On(events.WorkflowTaskReady, func(ctx context.Context, evt bus.Event) error {
		if ready, ok := evt.Payload.(events.TaskReady); ok {
			select {
			case readyCh <- ready:
			default:
			}
		}

		return nil
	})

	tasks := []*models.Task{
		{ID: "visit", Type: models.TaskTypeContainer, Target: "page", Action: "navigate", Params: map[string]any{"url": "https://example.com"}, Retries: 1},
	}

	instance, err := engine.CreateWorkflow(ctx, "announce-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	var ready events.TaskReady

	select {
	case ready = <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no task announcement observed")
	}

	assert.Equal(t, instance.ID, ready.InstanceID)
	assert.Equal(t, models.NamespacedTaskID(instance.ID, "visit"), ready.TaskID)
	assert.Equal(t, "page", ready.Target)
	assert.Equal(t, "navigate", ready.Action)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, ready.Params)
	assert.Equal(t, 1, ready.RetriesLeft)

	// Nobody completes the task: it stays processing, the workflow stays
	// running.
	snapshot, ok := engine.Instance(instance.ID)
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusRunning, snapshot.Status)
	assert.Equal(t, models.TaskStatusProcessing, snapshot.Tasks[0].Status)
}

func TestEngine_CancelWorkflow(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	cancellations := record(b, events.WorkflowCancelled)

	tasks := []*models.Task{
		{ID: "noop", Type: models.TaskTypeSystem, Action: models.SystemActionLog},
	}

	instance, err := engine.CreateWorkflow(ctx, "cancel-run", tasks, nil)
	require.NoError(t, err)

	require.NoError(t, engine.CancelWorkflow(ctx, instance.ID, "operator request"))

	snapshot, ok := engine.Instance(instance.ID)
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusCancelled, snapshot.Status)
	assert.Equal(t, "operator request", snapshot.Metadata["cancel_reason"])
	require.NotNil(t, snapshot.EndedAt)

	require.Equal(t, 1, cancellations.count())

	// Terminal instances cannot be started or cancelled again.
	err = engine.StartWorkflow(ctx, instance.ID)
	require.ErrorIs(t, err, ErrInstanceNotPending)

	err = engine.CancelWorkflow(ctx, instance.ID, "again")
	require.ErrorIs(t, err, ErrInstanceTerminal)

	stored, err := store.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, stored.Status)
}

func TestEngine_CancelDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	var tailRan atomic.Bool

	tasks := []*models.Task{
		{ID: "slow", Type: models.TaskTypeSystem, Action: models.SystemActionDelay, Params: map[string]any{"duration_ms": 80}},
		{ID: "tail", Type: models.TaskTypeCustom, Handler: func(ctx context.Context, task *models.Task, logger *slog.Logger) (map[string]any, error) {
			tailRan.Store(true)

			return nil, nil
		}},
	}

	instance, err := engine.CreateWorkflow(ctx, "drain-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	// Wait until the slow task is in flight, then cancel underneath it.
	require.Eventually(t, func() bool {
		snapshot, ok := engine.Instance(instance.ID)

		return ok && snapshot.Tasks[0].Status == models.TaskStatusProcessing
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, engine.CancelWorkflow(ctx, instance.ID, "shutting down"))

	require.Eventually(t, func() bool {
		return engine.QueueDepth() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// The in-flight delay still reports in, but the instance stays cancelled
	// and the queued tail task never runs.
	time.Sleep(120 * time.Millisecond)

	snapshot, ok := engine.Instance(instance.ID)
	require.True(t, ok)
	assert.Equal(t, models.InstanceStatusCancelled, snapshot.Status)
	assert.False(t, tailRan.Load())
}

func TestEngine_StartWorkflowErrors(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.StartWorkflow(ctx, "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))

	tasks := []*models.Task{
		{ID: "noop", Type: models.TaskTypeSystem, Action: models.SystemActionLog},
	}

	instance, err := engine.CreateWorkflow(ctx, "double-start", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	err = engine.StartWorkflow(ctx, instance.ID)
	require.ErrorIs(t, err, ErrInstanceNotPending)
}

func TestEngine_CreateWorkflowValidation(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateWorkflow(ctx, "empty", nil, nil)
	require.Error(t, err)

	_, err = engine.CreateWorkflow(ctx, "bad-task", []*models.Task{
		{ID: "visit", Type: models.TaskTypeContainer}, // no target
	}, nil)
	require.Error(t, err)
}

func TestEngine_MalformedCompletionReports(t *testing.T) {
	t.Parallel()

	_, b, _ := newTestEngine(t)
	ctx := context.Background()

	busErrors := record(b, events.Error)

	// A report without the namespaced id separator is a handler error and
	// surfaces on the bus error event.
	require.NoError(t, b.Emit(ctx, events.WorkflowTaskCompleted, events.TaskResult{TaskID: "nounderscore"}))
	require.Equal(t, 1, busErrors.count())

	failure, ok := busErrors.events()[0].Payload.(events.Failure)
	require.True(t, ok)
	assert.Equal(t, events.StageHandler, failure.Stage)
	assert.Contains(t, failure.Error, "malformed namespaced task id")

	// Reports for unknown instances are tolerated: late completions after a
	// restart are expected traffic.
	require.NoError(t, b.Emit(ctx, events.WorkflowTaskCompleted, events.TaskResult{
		TaskID: models.NamespacedTaskID("11111111-1111-1111-1111-111111111111", "ghost"),
	}))
	assert.Equal(t, 1, busErrors.count())
}

func TestEngine_RecentEvaluationsTail(t *testing.T) {
	t.Parallel()

	engine, b, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(models.NewRule("tail", events.ScrollStep)))

	for range 3 {
		require.NoError(t, b.Emit(ctx, events.ScrollStep, nil))
	}

	recent := engine.RecentEvaluations(2)
	require.Len(t, recent, 2)

	all := engine.RecentEvaluations(0)
	require.Len(t, all, 3)
	// Newest first.
	assert.False(t, all[0].EvaluatedAt.Before(all[2].EvaluatedAt))
}

func TestEngine_CloseDetachesEverything(t *testing.T) {
	t.Parallel()

	engine, b, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddRule(models.NewRule("doomed", events.ScrollStep)))
	require.NoError(t, engine.Start(ctx))

	require.NoError(t, engine.Close(ctx))

	assert.Equal(t, 0, b.SubscriberCount(events.ScrollStep))
	assert.Equal(t, 0, b.SubscriberCount(events.WorkflowTaskCompleted))
	assert.Equal(t, 0, b.SubscriberCount(events.WorkflowTaskError))

	require.NoError(t, b.Emit(ctx, events.ScrollStep, nil))

	evaluations, err := store.Evaluations(ctx, models.EvaluationFilter{RuleID: "doomed"})
	require.NoError(t, err)
	assert.Empty(t, evaluations)
}

func TestEngine_StopAndRestart(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Start(ctx))
	require.NoError(t, engine.Stop(ctx))
	require.NoError(t, engine.Stop(ctx), "stop is idempotent")

	// StartWorkflow re-arms the processing loop after a stop.
	tasks := []*models.Task{
		{ID: "noop", Type: models.TaskTypeSystem, Action: models.SystemActionLog},
	}

	instance, err := engine.CreateWorkflow(ctx, "restart-run", tasks, nil)
	require.NoError(t, err)
	require.NoError(t, engine.StartWorkflow(ctx, instance.ID))

	waitForStatus(t, engine, instance.ID, models.InstanceStatusCompleted)
}
