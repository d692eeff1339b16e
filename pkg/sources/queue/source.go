// Package queue provides a redis-list event source. Messages are popped with
// BLPop and emitted into the bus, either as the event named in a
// {event, payload} envelope or under the source's configured event name.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/protocol"
)

const (
	// DefaultEvent is emitted for messages without an envelope.
	DefaultEvent = "queue:message"

	popTimeout  = 1 * time.Second
	pingTimeout = 5 * time.Second
)

// envelope is the optional message framing: {"event": "...", "payload": ...}.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Source consumes a redis list and turns its messages into bus events.
type Source struct {
	ID         string
	Queue      string
	Event      string
	Connection map[string]string
	Enabled    bool

	client redis.UniversalClient
	emit   protocol.EmitFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewSource builds a queue source. Config keys: id, queue (redis list name),
// event (name for raw messages, default queue:message), enabled, connection
// {addr, password, db}.
func NewSource(config map[string]any, logger *slog.Logger) (*Source, error) {
	id, _ := config["id"].(string)
	queue, _ := config["queue"].(string)

	event, _ := config["event"].(string)
	if event == "" {
		event = DefaultEvent
	}

	enabled := true
	if v, ok := config["enabled"].(bool); ok {
		enabled = v
	}

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)
	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	source := &Source{
		ID:         id,
		Queue:      queue,
		Event:      event,
		Connection: connection,
		Enabled:    enabled,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_source",
			"source_id", id,
			"queue", queue,
		),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func (s *Source) Validate() error {
	if s.ID == "" {
		return errors.New("queue source id is required")
	}

	if s.Queue == "" {
		return errors.New("queue source queue name is required")
	}

	return nil
}

// Start connects to redis and launches the consumer loop.
func (s *Source) Start(ctx context.Context, emit protocol.EmitFunc) error {
	if !s.Enabled {
		s.logger.InfoContext(ctx, "Queue source is disabled")

		return nil
	}

	s.emit = emit

	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

func (s *Source) connect(ctx context.Context) error {
	addr := s.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if dbStr := s.Connection["db"]; dbStr != "" {
		if _, err := fmt.Sscanf(dbStr, "%d", &db); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: s.Connection["password"],
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.logger.InfoContext(ctx, "Connected to redis", "addr", addr, "db", db)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	s.logger.InfoContext(ctx, "Queue consumer started")

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := s.processMessage(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, popTimeout, s.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	name, payload := s.decodeMessage([]byte(result[1]))

	// Synchronous emit keeps per-message ordering.
	if err := s.emit(ctx, name, payload); err != nil {
		return fmt.Errorf("failed to emit queue event %s: %w", name, err)
	}

	return nil
}

// decodeMessage maps a raw list entry to an event name and payload. Messages
// carrying an {event, payload} envelope dispatch under their own name with a
// typed payload where the name is a core event; everything else emits under
// the configured event name with the raw text attached.
func (s *Source) decodeMessage(raw []byte) (string, any) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Event != "" {
		payload, err := events.Decode(env.Event, env.Payload)
		if err == nil {
			return env.Event, payload
		}

		s.logger.Warn("Undecodable envelope payload", "event", env.Event, "error", err)
	}

	return s.Event, map[string]any{"message": string(raw)}
}

// Stop halts the consumer loop and closes the redis client.
func (s *Source) Stop(ctx context.Context) error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.ErrorContext(ctx, "Error closing redis client", "error", err)
		}
	}

	return nil
}
