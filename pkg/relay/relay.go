// Package relay bridges the in-process bus and a watermill topic. Outbound,
// every bus event is forwarded to the topic as a JSON message carrying
// name/source/id metadata; inbound, topic messages are decoded and emitted
// back into the bus. Source metadata on both legs keeps a process from
// re-consuming its own traffic.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/log"
)

// DefaultSource is stamped on events the relay emits into the bus.
const DefaultSource = "relay"

// Config assembles a Relay. Bus, Publisher and Subscriber are required; the
// publisher and subscriber usually come from pkg/channels.
type Config struct {
	Bus        *bus.Bus
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Source identifies this relay as an event source on the bus.
	// Defaults to DefaultSource.
	Source string

	Logger *slog.Logger
}

// Relay mirrors bus traffic onto a message topic and back.
type Relay struct {
	bus        *bus.Bus
	publisher  message.Publisher
	subscriber message.Subscriber
	source     string
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	outSub  *bus.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(config Config) (*Relay, error) {
	if config.Bus == nil {
		return nil, errors.New("relay requires a bus")
	}

	if config.Publisher == nil || config.Subscriber == nil {
		return nil, errors.New("relay requires a publisher and a subscriber")
	}

	source := config.Source
	if source == "" {
		source = DefaultSource
	}

	logger := config.Logger
	if logger == nil {
		logger = log.WithModule("relay")
	}

	return &Relay{
		bus:        config.Bus,
		publisher:  config.Publisher,
		subscriber: config.Subscriber,
		source:     source,
		logger:     logger.With("source", source),
	}, nil
}

// Start attaches the outbound wildcard subscription and launches the inbound
// consumer loop.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("relay already started")
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	messages, err := r.subscriber.Subscribe(consumeCtx, events.Topic)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}

	r.started = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.outSub = r.bus.On("*", r.forward)

	go r.consume(consumeCtx, messages)

	r.logger.InfoContext(ctx, "Relay started", "topic", events.Topic)

	return nil
}

// forward publishes one bus event onto the topic. Events the relay itself
// emitted inbound are skipped so topic traffic is not echoed back out.
func (r *Relay) forward(ctx context.Context, evt bus.Event) error {
	if evt.Source == r.source {
		return nil
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", evt.Name, err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.NameMetadataKey, evt.Name)
	msg.Metadata.Set(events.SourceMetadataKey, evt.Source)
	msg.Metadata.Set(events.IDMetadataKey, evt.ID)

	if err := r.publisher.Publish(events.Topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Name, err)
	}

	return nil
}

func (r *Relay) consume(ctx context.Context, messages <-chan *message.Message) {
	defer close(r.done)

	for msg := range messages {
		name := msg.Metadata.Get(events.NameMetadataKey)
		if name == "" {
			r.logger.WarnContext(ctx, "Dropping message without event name", "message_id", msg.UUID)
			msg.Ack()

			continue
		}

		// Messages this process published have already been delivered
		// locally; emitting them again would double-fire every handler.
		if msg.Metadata.Get(events.SourceMetadataKey) == r.bus.Source() {
			msg.Ack()

			continue
		}

		payload, err := events.Decode(name, msg.Payload)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to decode message payload",
				"event", name, "message_id", msg.UUID, "error", err)
			msg.Nack()

			continue
		}

		if err := r.bus.EmitFrom(ctx, r.source, name, payload); err != nil {
			r.logger.ErrorContext(ctx, "Failed to emit relayed event",
				"event", name, "message_id", msg.UUID, "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}

	r.logger.Info("Relay consumer stopped")
}

// Stop detaches the bus subscription, drains the consumer and closes the
// underlying publisher and subscriber.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	r.started = false

	r.bus.Off(r.outSub)
	r.outSub = nil

	r.cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown interrupted: %w", ctx.Err())
	}

	if err := r.publisher.Close(); err != nil {
		return fmt.Errorf("failed to close publisher: %w", err)
	}

	if err := r.subscriber.Close(); err != nil {
		return fmt.Errorf("failed to close subscriber: %w", err)
	}

	return nil
}
