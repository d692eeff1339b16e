// Package scroll implements incremental scrolling for lazy-loading pages.
// Each step scrolls one increment and checks whether the viewport reached
// the bottom of the document; hitting bottom emits scroll:bottom_reached.
package scroll

import (
	"context"
	"fmt"
	"time"

	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/events"
)

const (
	defaultStepPx   = 800
	defaultMaxSteps = 50
	defaultDelay    = 250 * time.Millisecond
)

type Behavior struct {
	container.Base

	StepPx   int
	MaxSteps int
	Delay    time.Duration
}

// NewBehavior builds the behavior from task parameters. Recognized keys:
// "step_px", "max_steps", "delay_ms".
func NewBehavior(params map[string]any) *Behavior {
	b := &Behavior{
		StepPx:   defaultStepPx,
		MaxSteps: defaultMaxSteps,
		Delay:    defaultDelay,
	}

	if px, ok := asInt(params["step_px"]); ok && px > 0 {
		b.StepPx = px
	}

	if steps, ok := asInt(params["max_steps"]); ok && steps > 0 {
		b.MaxSteps = steps
	}

	if ms, ok := asInt(params["delay_ms"]); ok && ms >= 0 {
		b.Delay = time.Duration(ms) * time.Millisecond
	}

	return b
}

// Script returns the step script: scroll one increment, report whether the
// viewport now covers the document bottom.
func (b *Behavior) Script() string {
	return fmt.Sprintf(
		"window.scrollBy(0, %d); window.scrollY + window.innerHeight >= document.body.scrollHeight",
		b.StepPx,
	)
}

func (b *Behavior) InitialStats() map[string]any {
	return map[string]any{"scroll_steps": 0, "bottom_reached": false}
}

func (b *Behavior) OnStart(ctx context.Context, c *container.Container) error {
	sess := c.Session()
	script := b.Script()

	for step := 1; step <= b.MaxSteps; step++ {
		// Pausing or stopping the container interrupts the loop.
		if c.Status() != container.StatusRunning {
			return nil
		}

		value, err := sess.Evaluate(ctx, script)
		if err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}

		c.IncrStat("scroll_steps", 1)

		atBottom, _ := value.(bool)

		c.Emit(ctx, events.ScrollStep, events.ScrollProgress{
			ContainerID: c.ID(),
			Step:        step,
			AtBottom:    atBottom,
		})

		if atBottom {
			c.SetStat("bottom_reached", true)
			c.Emit(ctx, events.ScrollBottomReached, events.ScrollProgress{
				ContainerID: c.ID(),
				Step:        step,
				AtBottom:    true,
			})

			return nil
		}

		if err := sess.Sleep(ctx, b.Delay); err != nil {
			return err
		}
	}

	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
