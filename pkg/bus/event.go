// Package bus implements the in-process event bus at the heart of
// harvestman: pattern-based subscriptions, an ordered middleware chain, a
// bounded event history and all-settled fan-out with per-handler error
// isolation.
package bus

import (
	"context"
	"time"
)

// Event is the unit of traffic on the bus. Payloads for core events are the
// typed structs in pkg/events; externally named events carry whatever the
// emitter handed in.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler consumes one event. A non-nil error (or a panic) is caught by the
// bus and republished as an "error" event; it never reaches the emitter or
// sibling handlers.
type Handler func(ctx context.Context, evt Event) error

// Next continues a middleware chain.
type Next func(ctx context.Context) error

// Middleware wraps event delivery. It may inspect or mutate the event before
// calling next; not calling next drops the event, returning an error aborts
// the emit.
type Middleware func(ctx context.Context, evt *Event, next Next) error
