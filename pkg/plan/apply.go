package plan

import (
	"context"
	"fmt"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

// Apply registers the plan's rules on the engine and binds every start_on
// template to its event. Returned subscriptions let the caller detach the
// bindings; rules are detached through the engine as usual.
func (p *Plan) Apply(ctx context.Context, engine *workflow.Engine, b *bus.Bus) ([]*bus.Subscription, error) {
	for _, rule := range p.Rules {
		if err := engine.AddRule(rule); err != nil {
			return nil, fmt.Errorf("plan %s: failed to add rule %s: %w", p.Name, rule.ID, err)
		}
	}

	var subs []*bus.Subscription

	for _, tpl := range p.Workflows {
		if tpl.StartOn == "" {
			continue
		}

		subs = append(subs, b.On(tpl.StartOn, p.startHandler(engine, tpl)))
	}

	return subs, nil
}

// startHandler instantiates the template once per triggering event. Tasks are
// cloned because the engine owns whatever task list it is handed.
func (p *Plan) startHandler(engine *workflow.Engine, tpl *WorkflowTemplate) bus.Handler {
	return func(ctx context.Context, evt bus.Event) error {
		tasks := make([]*models.Task, 0, len(tpl.Tasks))
		for _, task := range tpl.Tasks {
			tasks = append(tasks, task.Clone())
		}

		metadata := map[string]any{
			"plan":             p.Name,
			"triggered_by":     evt.Name,
			"trigger_event_id": evt.ID,
		}
		for k, v := range tpl.Metadata {
			metadata[k] = v
		}

		instance, err := engine.CreateWorkflow(ctx, tpl.Name, tasks, metadata)
		if err != nil {
			return fmt.Errorf("plan %s: failed to create workflow %s: %w", p.Name, tpl.Name, err)
		}

		if err := engine.StartWorkflow(ctx, instance.ID); err != nil {
			return fmt.Errorf("plan %s: failed to start workflow %s: %w", p.Name, instance.ID, err)
		}

		return nil
	}
}
