// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/harvestman-flow/harvestman/pkg/behaviors/link"
	"github.com/harvestman-flow/harvestman/pkg/behaviors/page"
	"github.com/harvestman-flow/harvestman/pkg/behaviors/paginate"
	"github.com/harvestman-flow/harvestman/pkg/behaviors/scroll"
	"github.com/harvestman-flow/harvestman/pkg/registry"
	"github.com/harvestman-flow/harvestman/pkg/sources/queue"
	"github.com/harvestman-flow/harvestman/pkg/sources/schedule"
)

func registerBehaviorPlugins(reg *registry.Registry, pluginsPath string) {
	behaviorPlugins, err := reg.LoadBehaviorPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range behaviorPlugins {
		reg.RegisterBehavior(plugin)
	}
}

func registerSourcePlugins(reg *registry.Registry, pluginsPath string) {
	sourcePlugins, err := reg.LoadSourcePlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range sourcePlugins {
		reg.RegisterSource(plugin)
	}
}

func registerNativeBehaviors(reg *registry.Registry) {
	reg.RegisterBehavior(page.NewFactory())
	reg.RegisterBehavior(link.NewFactory())
	reg.RegisterBehavior(scroll.NewFactory())
	reg.RegisterBehavior(paginate.NewFactory())
}

func registerNativeSources(reg *registry.Registry) {
	reg.RegisterSource(schedule.NewFactory())
	reg.RegisterSource(queue.NewFactory())
}

// NewRegistry builds a registry with the built-in behaviors and sources, plus
// whatever .so plugins live under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	if pluginsPath != "" {
		registerBehaviorPlugins(reg, pluginsPath)
		registerSourcePlugins(reg, pluginsPath)
	}

	registerNativeBehaviors(reg)
	registerNativeSources(reg)

	return reg
}
