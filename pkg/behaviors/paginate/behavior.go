// Package paginate implements next-page traversal: follow the configured
// "next" link until it disappears or the page budget runs out.
package paginate

import (
	"context"
	"fmt"
	"time"

	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/events"
)

const (
	defaultNextSelector = "a[rel=next]"
	defaultMaxPages     = 10
	defaultDelay        = 500 * time.Millisecond
)

type Behavior struct {
	container.Base

	NextSelector string
	MaxPages     int
	Delay        time.Duration
}

// NewBehavior builds the behavior from task parameters. Recognized keys:
// "next_selector", "max_pages", "delay_ms".
func NewBehavior(params map[string]any) *Behavior {
	b := &Behavior{
		NextSelector: defaultNextSelector,
		MaxPages:     defaultMaxPages,
		Delay:        defaultDelay,
	}

	if selector, ok := params["next_selector"].(string); ok && selector != "" {
		b.NextSelector = selector
	}

	if pages, ok := asInt(params["max_pages"]); ok && pages > 0 {
		b.MaxPages = pages
	}

	if ms, ok := asInt(params["delay_ms"]); ok && ms >= 0 {
		b.Delay = time.Duration(ms) * time.Millisecond
	}

	return b
}

func (b *Behavior) InitialStats() map[string]any {
	return map[string]any{"pages_visited": 0}
}

func (b *Behavior) OnStart(ctx context.Context, c *container.Container) error {
	sess := c.Session()

	for page := 1; page <= b.MaxPages; page++ {
		if c.Status() != container.StatusRunning {
			return nil
		}

		nodes, err := sess.QueryAll(ctx, b.NextSelector)
		if err != nil {
			return fmt.Errorf("failed to query %q: %w", b.NextSelector, err)
		}

		// No next link means the listing is exhausted.
		if len(nodes) == 0 {
			return nil
		}

		href := nodes[0].Attr("href")
		if href == "" {
			return nil
		}

		if err := sess.Navigate(ctx, href); err != nil {
			return fmt.Errorf("failed to follow next link %s: %w", href, err)
		}

		c.IncrStat("pages_visited", 1)
		c.SetStat("current_url", sess.URL())

		c.Emit(ctx, events.PagePaginated, events.Pagination{
			ContainerID: c.ID(),
			URL:         sess.URL(),
			PageNumber:  page,
		})

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
