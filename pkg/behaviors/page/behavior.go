// Package page implements the navigation behavior: point the session at a
// URL during initialization, optionally wait for a landmark selector, and
// leave the page ready for child behaviors.
package page

import (
	"context"
	"fmt"
	"time"

	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/events"
)

const defaultWaitTimeout = 10 * time.Second

type Behavior struct {
	container.Base

	URL         string
	WaitFor     string
	WaitTimeout time.Duration
}

// NewBehavior builds the behavior from task parameters. Recognized keys:
// "url" (required), "wait_for" (selector), "wait_timeout_ms".
func NewBehavior(params map[string]any) *Behavior {
	b := &Behavior{WaitTimeout: defaultWaitTimeout}

	if url, ok := params["url"].(string); ok {
		b.URL = url
	}

	if waitFor, ok := params["wait_for"].(string); ok {
		b.WaitFor = waitFor
	}

	if ms, ok := asInt(params["wait_timeout_ms"]); ok && ms > 0 {
		b.WaitTimeout = time.Duration(ms) * time.Millisecond
	}

	return b
}

func (b *Behavior) InitialStats() map[string]any {
	return map[string]any{"pages_visited": 0}
}

func (b *Behavior) OnInitialize(ctx context.Context, c *container.Container) error {
	sess := c.Session()

	if err := sess.Navigate(ctx, b.URL); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", b.URL, err)
	}

	if b.WaitFor != "" {
		if err := sess.WaitFor(ctx, b.WaitFor, b.WaitTimeout); err != nil {
			return fmt.Errorf("failed to settle on %s: %w", b.URL, err)
		}
	}

	c.IncrStat("pages_visited", 1)
	c.SetStat("current_url", sess.URL())

	c.Emit(ctx, events.PageNavigated, events.Navigation{
		ContainerID: c.ID(),
		URL:         sess.URL(),
		At:          time.Now().UTC(),
	})

	return nil
}

func (b *Behavior) ExecutionResult(c *container.Container) map[string]any {
	result := c.Stats()
	result["url"] = b.URL

	return result
}

// asInt normalizes the numeric shapes JSON decoding produces.
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
