package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/cmd"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("harvestman-api")

	command := &cli.Command{
		Name:                  "harvestman-api",
		Usage:                 "Manage rules, workflow instances and event history",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Harvestman API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			b := bus.New(bus.Config{
				Source:          "api",
				HistoryCapacity: command.Int("history"),
				Logger:          logger,
			})

			engine, err := workflow.NewEngine(workflow.Config{
				Bus:    b,
				Store:  store,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			defer func() {
				if err := engine.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
				}
			}()

			api := NewAPI(logger, store, b, engine)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("API exited with error", "error", err)
		os.Exit(1)
	}
}
