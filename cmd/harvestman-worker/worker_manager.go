package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/plan"
	"github.com/harvestman-flow/harvestman/pkg/protocol"
	"github.com/harvestman-flow/harvestman/pkg/registry"
	"github.com/harvestman-flow/harvestman/pkg/relay"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

// WorkerManager owns the runtime of one worker process: it applies the
// loaded plans to the engine, runs their event sources, bridges the bus to
// the relay channel and tears everything down on SIGINT/SIGTERM.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	bus      *bus.Bus
	engine   *workflow.Engine
	registry *registry.Registry
	relay    *relay.Relay
	plans    []*plan.Plan

	sources map[string]protocol.Source
	subs    []*bus.Subscription
}

func NewWorkerManager(
	id string,
	b *bus.Bus,
	engine *workflow.Engine,
	registry *registry.Registry,
	r *relay.Relay,
	plans []*plan.Plan,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger,
		bus:      b,
		engine:   engine,
		registry: registry,
		relay:    r,
		plans:    plans,
		sources:  make(map[string]protocol.Source),
	}
}

// Run wires everything up and blocks until a shutdown signal or context
// cancellation, then tears down in reverse order.
func (m *WorkerManager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager")

	if err := m.applyPlans(ctx); err != nil {
		return err
	}

	if err := m.relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	if err := m.startSources(ctx); err != nil {
		m.shutdown(ctx)

		return err
	}

	m.logger.InfoContext(ctx, "Worker started successfully",
		"plans", len(m.plans), "sources", len(m.sources))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		m.logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		m.logger.InfoContext(ctx, "Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	m.shutdown(shutdownCtx)
	m.logger.Info("Worker manager stopped")

	return nil
}

// applyPlans registers every plan's rules and start_on bindings.
func (m *WorkerManager) applyPlans(ctx context.Context) error {
	for _, p := range m.plans {
		subs, err := p.Apply(ctx, m.engine, m.bus)
		if err != nil {
			return err
		}

		m.subs = append(m.subs, subs...)
		m.logger.InfoContext(ctx, "Plan applied",
			"plan", p.Name, "rules", len(p.Rules), "workflows", len(p.Workflows))
	}

	return nil
}

// startSources creates and starts every source the plans declare. Source ids
// are global: two plans declaring the same id is a configuration error.
func (m *WorkerManager) startSources(ctx context.Context) error {
	for _, p := range m.plans {
		for _, cfg := range p.Sources {
			if _, exists := m.sources[cfg.ID]; exists {
				return fmt.Errorf("plan %s: source %s already declared", p.Name, cfg.ID)
			}

			source, err := m.registry.CreateSource(cfg.Type, cfg.FactoryConfig())
			if err != nil {
				return fmt.Errorf("plan %s: failed to create source %s: %w", p.Name, cfg.ID, err)
			}

			if err := source.Start(ctx, m.emitAs(cfg.ID)); err != nil {
				return fmt.Errorf("plan %s: failed to start source %s: %w", p.Name, cfg.ID, err)
			}

			m.sources[cfg.ID] = source
			m.logger.InfoContext(ctx, "Source started",
				"plan", p.Name, "source_id", cfg.ID, "source_type", cfg.Type)
		}
	}

	return nil
}

// emitAs binds a source id to the bus so sources never hold a bus reference.
func (m *WorkerManager) emitAs(sourceID string) protocol.EmitFunc {
	return func(ctx context.Context, name string, payload any) error {
		return m.bus.EmitFrom(ctx, sourceID, name, payload)
	}
}

// shutdown stops sources first so nothing new enters the bus, then the
// engine, then the relay, and finally detaches the plan subscriptions.
func (m *WorkerManager) shutdown(ctx context.Context) {
	for id, source := range m.sources {
		if err := source.Stop(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Failed to stop source", "source_id", id, "error", err)
		}
	}

	m.sources = make(map[string]protocol.Source)

	if err := m.engine.Close(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
	}

	if err := m.relay.Stop(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to stop relay", "error", err)
	}

	for _, sub := range m.subs {
		m.bus.Off(sub)
	}

	m.subs = nil

	m.bus.Destroy()
}
