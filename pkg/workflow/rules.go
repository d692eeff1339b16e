package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/otelhelper"
)

// AddRule validates and stores a rule, subscribing an evaluator to every
// event name (or pattern) in When.
func (e *Engine) AddRule(rule *models.Rule) error {
	if rule == nil {
		return errors.New("rule is nil")
	}

	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.rules[rule.ID]; exists {
		e.mu.Unlock()

		return fmt.Errorf("rule %q: %w", rule.ID, ErrRuleExists)
	}

	e.rules[rule.ID] = rule
	e.mu.Unlock()

	ruleID := rule.ID
	subs := make([]*bus.Subscription, 0, len(rule.When))

	for _, pattern := range rule.When {
		subs = append(subs, e.bus.On(pattern, func(ctx context.Context, evt bus.Event) error {
			e.fireRule(ctx, ruleID, evt)

			// Rule failures surface as workflow:rule:error, never as a
			// handler failure on the triggering emit.
			return nil
		}))
	}

	e.mu.Lock()
	e.ruleSubs[ruleID] = subs
	e.mu.Unlock()

	e.logger.Info("Rule registered", "rule_id", rule.ID, "when", rule.When)

	return nil
}

// RemoveRule deletes a rule and detaches its bus subscriptions.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()

	if _, ok := e.rules[id]; !ok {
		e.mu.Unlock()

		return fmt.Errorf("rule %q: %w", id, ErrRuleNotFound)
	}

	delete(e.rules, id)
	subs := e.ruleSubs[id]
	delete(e.ruleSubs, id)
	e.mu.Unlock()

	for _, sub := range subs {
		e.bus.Off(sub)
	}

	e.logger.Info("Rule removed", "rule_id", id)

	return nil
}

// SetRuleEnabled flips a rule's enabled flag. The stored rule is replaced,
// never mutated, so in-flight evaluations keep a consistent view.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("rule %q: %w", id, ErrRuleNotFound)
	}

	if rule.Enabled == enabled {
		return nil
	}

	updated := *rule
	updated.Enabled = enabled
	e.rules[id] = &updated

	return nil
}

func (e *Engine) fireRule(ctx context.Context, ruleID string, evt bus.Event) {
	e.mu.RLock()
	rule, ok := e.rules[ruleID]
	enabled := ok && rule.Enabled
	e.mu.RUnlock()

	if !enabled {
		return
	}

	e.evaluateRule(ctx, rule, evt)
}

// evaluateRule runs one rule firing: condition, then-callback, action list.
// An evaluation record is appended regardless of outcome, and every failure
// is converted into a workflow:rule:error event instead of propagating.
func (e *Engine) evaluateRule(ctx context.Context, rule *models.Rule, evt bus.Event) {
	start := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.rule.evaluate",
		attribute.String(otelhelper.RuleIDKey, rule.ID),
		attribute.String(otelhelper.EventNameKey, evt.Name),
	)
	defer span.End()

	evaluation := &models.RuleEvaluation{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		Event:        evt.Name,
		Source:       evt.Source,
		Payload:      evt.Payload,
		ConditionMet: true,
		Success:      true,
		EvaluatedAt:  start.UTC(),
	}

	failure := e.runRule(ctx, rule, evt, evaluation)

	evaluation.DurationMs = time.Since(start).Milliseconds()

	e.appendEvaluation(evaluation)

	if err := e.store.SaveEvaluation(ctx, evaluation); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist rule evaluation",
			"rule_id", rule.ID, "event", evt.Name, "error", err)
	}

	if failure != nil {
		otelhelper.SetError(span, errors.New(failure.Error))
		e.publishRuleFailure(ctx, *failure)
	}
}

func (e *Engine) runRule(ctx context.Context, rule *models.Rule, evt bus.Event, evaluation *models.RuleEvaluation) *events.RuleFailure {
	fail := func(stage string, err error) *events.RuleFailure {
		evaluation.Success = false
		evaluation.Error = err.Error()

		return &events.RuleFailure{
			RuleID: rule.ID,
			Event:  evt.Name,
			Stage:  stage,
			Error:  err.Error(),
		}
	}

	if rule.Condition != nil {
		met, err := callCondition(ctx, rule.Condition, evt)
		if err != nil {
			evaluation.ConditionMet = false

			return fail(events.StageCondition, err)
		}

		evaluation.ConditionMet = met
		if !met {
			return nil
		}
	}

	if rule.Then != nil {
		if err := callFunc(ctx, rule.Then, evt); err != nil {
			return fail(events.StageThen, err)
		}
	}

	for i, action := range rule.Actions {
		if err := e.runAction(ctx, action, evt); err != nil {
			failure := fail(events.StageAction, err)
			failure.ActionKind = string(action.Kind)
			failure.ActionIndex = i

			return failure
		}
	}

	return nil
}

// runAction executes one rule action. Emit failures (middleware aborts,
// destroyed bus) count as action failures.
func (e *Engine) runAction(ctx context.Context, action models.RuleAction, evt bus.Event) error {
	switch action.Kind {
	case models.ActionKindEmit:
		var payload any = evt.Payload
		if action.Payload != nil {
			payload = action.Payload
		}

		return e.bus.Emit(ctx, action.Event, payload)
	case models.ActionKindDelay:
		return sleepContext(ctx, time.Duration(action.DelayMs)*time.Millisecond)
	case models.ActionKindCustom:
		return callFunc(ctx, action.Func, evt)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (e *Engine) publishRuleFailure(ctx context.Context, failure events.RuleFailure) {
	e.logger.WarnContext(ctx, "Rule evaluation failed",
		"rule_id", failure.RuleID, "event", failure.Event,
		"stage", failure.Stage, "error", failure.Error)

	if err := e.bus.Emit(ctx, events.WorkflowRuleError, failure); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish rule failure",
			"rule_id", failure.RuleID, "error", err)
	}
}

func callCondition(ctx context.Context, condition models.Condition, evt bus.Event) (met bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			met = false
			err = fmt.Errorf("condition panic: %v", r)
		}
	}()

	return condition(ctx, evt)
}

func callFunc(ctx context.Context, fn models.ActionFunc, evt bus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()

	return fn(ctx, evt)
}
