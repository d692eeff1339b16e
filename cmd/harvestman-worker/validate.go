package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/harvestman-flow/harvestman/pkg/cmd"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/plan"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate plan files without running them",
		Flags: []cli.Flag{
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("harvestman-worker").With("action", "validate")

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			dir := command.String("plans-path")

			files, err := fs.Glob(os.DirFS(dir), "*.json")
			if err != nil {
				return fmt.Errorf("failed to list plans in %s: %w", dir, err)
			}

			logger.InfoContext(ctx, "Validating plans", "files", len(files))

			fmt.Println("Plan Validation Results:")
			fmt.Println("========================")

			validPlans := 0
			invalidPlans := 0
			validSources := 0
			invalidSources := 0

			for _, name := range files {
				fmt.Printf("\nPlan file: %s\n", name)

				p, err := plan.Load(filepath.Join(dir, name))
				if err != nil {
					fmt.Printf("  ❌ INVALID: %v\n", err)
					invalidPlans++

					continue
				}

				fmt.Printf("  ✅ VALID: %s (%d rules, %d workflows)\n", p.Name, len(p.Rules), len(p.Workflows))
				validPlans++

				// Sources need the registry: the plan layer only checks
				// structure.
				for _, cfg := range p.Sources {
					fmt.Printf("  Source: %s (%s)\n", cfg.ID, cfg.Type)

					_, err := registry.CreateSource(cfg.Type, cfg.FactoryConfig())
					if err != nil {
						fmt.Printf("    ❌ INVALID: %v\n", err)
						invalidSources++
					} else {
						fmt.Printf("    ✅ VALID\n")
						validSources++
					}
				}
			}

			fmt.Printf("\nValidation Summary:\n")
			fmt.Printf("  Total plans: %d\n", validPlans+invalidPlans)
			fmt.Printf("  Valid plans: %d\n", validPlans)
			fmt.Printf("  Invalid plans: %d\n", invalidPlans)
			fmt.Printf("  Total sources: %d\n", validSources+invalidSources)
			fmt.Printf("  Valid sources: %d\n", validSources)
			fmt.Printf("  Invalid sources: %d\n", invalidSources)

			if invalidPlans > 0 {
				return fmt.Errorf("found %d invalid plans", invalidPlans)
			}

			if invalidSources > 0 {
				return fmt.Errorf("found %d invalid sources", invalidSources)
			}

			fmt.Println("All plans are valid! ✅")

			return nil
		},
	}
}
