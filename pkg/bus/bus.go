package bus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvestman-flow/harvestman/pkg/events"
)

// Config parameterizes a Bus. Zero values get sane defaults.
type Config struct {
	// Source identifies events emitted through Emit (EmitFrom overrides it).
	Source string
	// HistoryCapacity bounds the event history ring.
	HistoryCapacity int
	Logger          *slog.Logger
}

// Subscription is the handle returned by On and Once. Handlers are
// unregistered by handle, so two registrations of the same function are
// independent subscriptions.
type Subscription struct {
	id      string
	pattern string
	handler Handler
	once    bool
	matcher *regexp.Regexp // nil for exact-name subscriptions
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Pattern() string { return s.pattern }

// Bus routes events to exact and wildcard subscribers. All methods are safe
// for concurrent use.
type Bus struct {
	source  string
	logger  *slog.Logger
	history *history

	mu         sync.RWMutex
	exact      map[string][]*Subscription
	wildcards  []*Subscription
	middleware []Middleware
	destroyed  bool
}

func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	source := cfg.Source
	if source == "" {
		source = "bus"
	}

	return &Bus{
		source:  source,
		logger:  logger.With("module", "bus"),
		history: newHistory(cfg.HistoryCapacity),
		exact:   make(map[string][]*Subscription),
	}
}

// Source returns the default source id attached to events emitted via Emit.
func (b *Bus) Source() string {
	return b.source
}

// On registers handler for every event whose name matches pattern.
func (b *Bus) On(pattern string, handler Handler) *Subscription {
	return b.subscribe(pattern, handler, false)
}

// Once registers handler for at most one delivery; the subscription is
// claimed atomically at match time, so re-emits from inside the handler
// cannot trigger it again.
func (b *Bus) Once(pattern string, handler Handler) *Subscription {
	return b.subscribe(pattern, handler, true)
}

func (b *Bus) subscribe(pattern string, handler Handler, once bool) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
		once:    once,
	}

	if isPattern(pattern) {
		sub.matcher = compilePattern(pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		b.logger.Warn("subscription after destroy ignored", "pattern", pattern)

		return sub
	}

	if sub.matcher != nil {
		b.wildcards = append(b.wildcards, sub)
	} else {
		b.exact[pattern] = append(b.exact[pattern], sub)
	}

	return sub
}

// Off unregisters a subscription. It reports false when the handle is nil,
// already removed, or was consumed by Once.
func (b *Bus) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) bool {
	if sub.matcher != nil {
		for i, s := range b.wildcards {
			if s == sub {
				b.wildcards = append(b.wildcards[:i], b.wildcards[i+1:]...)

				return true
			}
		}

		return false
	}

	subs := b.exact[sub.pattern]
	for i, s := range subs {
		if s != sub {
			continue
		}

		subs = append(subs[:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.exact, sub.pattern)
		} else {
			b.exact[sub.pattern] = subs
		}

		return true
	}

	return false
}

// Use appends a middleware to the chain. Middlewares run in registration
// order around every delivery.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		b.logger.Warn("middleware after destroy ignored")

		return
	}

	b.middleware = append(b.middleware, mw)
}

// Emit publishes an event under the bus's default source. It returns after
// every matched handler has settled. Handler failures are isolated and
// republished as "error" events; only a middleware abort (or a destroyed
// bus) surfaces as a returned error.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	return b.EmitFrom(ctx, b.source, name, payload)
}

// EmitFrom is Emit with an explicit source id, used by containers to keep
// the originating container visible while an event bubbles.
func (b *Bus) EmitFrom(ctx context.Context, source, name string, payload any) error {
	b.mu.RLock()
	destroyed := b.destroyed
	mws := make([]Middleware, len(b.middleware))
	copy(mws, b.middleware)
	b.mu.RUnlock()

	if destroyed {
		return ErrDestroyed
	}

	evt := &Event{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}

	if err := b.runChain(ctx, mws, evt); err != nil {
		b.publishFailure(ctx, events.StageMiddleware, evt.Name, evt.Source, "", err)

		return &MiddlewareError{Event: name, Err: err}
	}

	return nil
}

// runChain threads the event through the middleware chain with delivery as
// the innermost step. A middleware that never calls next drops the event
// without error; a middleware error or panic aborts before delivery.
func (b *Bus) runChain(ctx context.Context, mws []Middleware, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware panic: %v", r)
		}
	}()

	var exec func(ctx context.Context, i int) error

	exec = func(ctx context.Context, i int) error {
		if i == len(mws) {
			b.deliver(ctx, *evt)

			return nil
		}

		return mws[i](ctx, evt, func(c context.Context) error {
			return exec(c, i+1)
		})
	}

	return exec(ctx, 0)
}

// deliver appends to history and fans the event out to every matched
// subscriber as its own goroutine, then joins them all.
func (b *Bus) deliver(ctx context.Context, evt Event) {
	b.history.append(evt)

	matched := b.match(evt.Name)
	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup

	for _, sub := range matched {
		wg.Add(1)

		go func(sub *Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.publishFailure(ctx, events.StageHandler, evt.Name, evt.Source, sub.id,
						fmt.Errorf("handler panic: %v", r))
				}
			}()

			if err := sub.handler(ctx, evt); err != nil {
				b.publishFailure(ctx, events.StageHandler, evt.Name, evt.Source, sub.id, err)
			}
		}(sub)
	}

	wg.Wait()
}

// match snapshots the subscriptions receiving name. Once-subscriptions are
// claimed (removed) here, under the same lock, so concurrent emits cannot
// double-deliver them.
func (b *Bus) match(name string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return nil
	}

	matched := make([]*Subscription, 0, len(b.exact[name])+len(b.wildcards))
	matched = append(matched, b.exact[name]...)

	for _, sub := range b.wildcards {
		if sub.matcher.MatchString(name) {
			matched = append(matched, sub)
		}
	}

	for _, sub := range matched {
		if sub.once {
			b.removeLocked(sub)
		}
	}

	return matched
}

// publishFailure republishes a caught failure as an "error" event. Failures
// raised while delivering an "error" event are logged instead, so a broken
// error subscriber cannot recurse. Error events skip the middleware chain.
func (b *Bus) publishFailure(ctx context.Context, stage, eventName, source, subscriptionID string, cause error) {
	if eventName == events.Error {
		b.logger.ErrorContext(ctx, "error event delivery failed",
			"stage", stage,
			"subscription_id", subscriptionID,
			"error", cause)

		return
	}

	b.logger.WarnContext(ctx, "failure republished as error event",
		"stage", stage,
		"event", eventName,
		"subscription_id", subscriptionID,
		"error", cause)

	b.deliver(ctx, Event{
		ID:     uuid.New().String(),
		Name:   events.Error,
		Source: source,
		Payload: events.Failure{
			Stage:          stage,
			Event:          eventName,
			Source:         source,
			SubscriptionID: subscriptionID,
			Error:          cause.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
}

// SubscriberCount reports how many subscriptions would currently receive an
// event named name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.exact[name])

	for _, sub := range b.wildcards {
		if sub.matcher.MatchString(name) {
			count++
		}
	}

	return count
}

// History returns the retained events matching filter, oldest first.
func (b *Bus) History(filter HistoryFilter) []Event {
	return b.history.filtered(filter)
}

// Stats aggregates the retained history.
func (b *Bus) Stats() HistoryStats {
	return b.history.stats()
}

// Destroy drops all subscriptions, middleware and history. Further emits
// return ErrDestroyed; further registrations are ignored. Idempotent.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}

	b.destroyed = true
	b.exact = make(map[string][]*Subscription)
	b.wildcards = nil
	b.middleware = nil
	b.history.clear()
}
