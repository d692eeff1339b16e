package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/cmd"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/otelhelper"
	"github.com/harvestman-flow/harvestman/pkg/plan"
	"github.com/harvestman-flow/harvestman/pkg/relay"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "harvestman-worker",
		Usage:                 "Run harvest plans: rules, workflows and event sources",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Relay channel type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("CHANNEL_TYPE"),
			},
			&cli.StringFlag{
				Name:    "plans-path",
				Usage:   "Path to the directory containing plan files",
				Value:   "./plans",
				Sources: cli.EnvVars("PLANS_PATH"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing behavior and source plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.DurationFlag{
				Name:    "tick",
				Usage:   "Task processor tick interval",
				Value:   workflow.DefaultTickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "history",
				Usage:   "Event history capacity",
				Value:   0,
				Sources: cli.EnvVars("HISTORY_CAPACITY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("harvestman-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Harvestman worker")

			if command.Bool("tracing") {
				tracerProvider, err := otelhelper.InitTracer(ctx, "harvestman-worker")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := tracerProvider.Shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			plans, err := plan.LoadDir(command.String("plans-path"))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Loaded plans", "count", len(plans))

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			b := bus.New(bus.Config{
				Source:          workerID,
				HistoryCapacity: command.Int("history"),
				Logger:          logger,
			})

			engine, err := workflow.NewEngine(workflow.Config{
				Bus:          b,
				Store:        store,
				Registry:     registry,
				Logger:       logger,
				TickInterval: command.Duration("tick"),
			})
			if err != nil {
				return err
			}

			publisher, subscriber, err := cmd.NewChannel(command.String("channel"), logger, "harvestman-worker")
			if err != nil {
				return err
			}

			r, err := relay.New(relay.Config{
				Bus:        b,
				Publisher:  publisher,
				Subscriber: subscriber,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			worker := NewWorkerManager(workerID, b, engine, registry, r, plans, logger)

			return worker.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("harvestman-worker").Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

// shutdownTimeout bounds teardown after a signal.
const shutdownTimeout = 10 * time.Second
