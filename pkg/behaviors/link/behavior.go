// Package link implements the link-extraction behavior: query anchors on the
// current page and publish the collected hrefs as one batch.
package link

import (
	"context"
	"fmt"

	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/events"
)

const (
	defaultSelector  = "a[href]"
	defaultAttribute = "href"
)

type Behavior struct {
	container.Base

	Selector  string
	Attribute string
	Unique    bool
	Max       int

	links []string
}

// NewBehavior builds the behavior from task parameters. Recognized keys:
// "selector", "attribute", "unique" (default true), "max".
func NewBehavior(params map[string]any) *Behavior {
	b := &Behavior{
		Selector:  defaultSelector,
		Attribute: defaultAttribute,
		Unique:    true,
	}

	if selector, ok := params["selector"].(string); ok && selector != "" {
		b.Selector = selector
	}

	if attribute, ok := params["attribute"].(string); ok && attribute != "" {
		b.Attribute = attribute
	}

	if unique, ok := params["unique"].(bool); ok {
		b.Unique = unique
	}

	if max, ok := asInt(params["max"]); ok && max > 0 {
		b.Max = max
	}

	return b
}

func (b *Behavior) InitialStats() map[string]any {
	return map[string]any{"links_found": 0}
}

func (b *Behavior) OnStart(ctx context.Context, c *container.Container) error {
	sess := c.Session()

	nodes, err := sess.QueryAll(ctx, b.Selector)
	if err != nil {
		return fmt.Errorf("failed to query %q: %w", b.Selector, err)
	}

	seen := make(map[string]struct{}, len(nodes))
	links := make([]string, 0, len(nodes))

	for _, node := range nodes {
		value := node.Attr(b.Attribute)
		if value == "" {
			continue
		}

		if b.Unique {
			if _, dup := seen[value]; dup {
				continue
			}

			seen[value] = struct{}{}
		}

		links = append(links, value)

		if b.Max > 0 && len(links) == b.Max {
			break
		}
	}

	b.links = links
	c.IncrStat("links_found", len(links))

	c.Emit(ctx, events.LinkCollected, events.LinkBatch{
		ContainerID: c.ID(),
		URL:         sess.URL(),
		Links:       links,
	})

	return nil
}

func (b *Behavior) ExecutionResult(c *container.Container) map[string]any {
	return map[string]any{
		"links":       b.links,
		"links_found": len(b.links),
	}
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
