// Package session defines the opaque browsing handle harvest behaviors run
// against. Containers hold a Page reference without managing its lifecycle;
// concrete implementations (a headless browser adapter, a replay fixture)
// live with the embedding application.
package session

import (
	"context"
	"time"
)

// Node is a minimal view of a queried element.
type Node struct {
	Tag   string            `json:"tag"`
	Text  string            `json:"text,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute or "".
func (n Node) Attr(name string) string {
	return n.Attrs[name]
}

// Page is the shared context a container receives at initialize time. It
// exposes navigation, script evaluation, element queries and timing; nothing
// about rendering or transport leaks through.
type Page interface {
	// Navigate loads url and blocks until the page settles.
	Navigate(ctx context.Context, url string) error

	// Evaluate runs a script in page scope and returns its value.
	Evaluate(ctx context.Context, script string) (any, error)

	// QueryAll returns the elements matching selector.
	QueryAll(ctx context.Context, selector string) ([]Node, error)

	// WaitFor blocks until selector matches or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Sleep pauses for d, honoring ctx cancellation.
	Sleep(ctx context.Context, d time.Duration) error

	// URL reports the current location.
	URL() string

	// Close releases the underlying resource. Owned by whoever created the
	// page; containers only drop their reference.
	Close(ctx context.Context) error
}
