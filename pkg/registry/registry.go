// Package registry holds the factories the engine resolves pluggable pieces
// from: container behaviors, event sources, and custom task handlers.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"

	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/protocol"
)

type Registry struct {
	logger            *slog.Logger
	behaviorFactories map[string]protocol.BehaviorFactory
	sourceFactories   map[string]protocol.SourceFactory
	taskHandlers      map[string]models.TaskHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log,
		behaviorFactories: make(map[string]protocol.BehaviorFactory),
		sourceFactories:   make(map[string]protocol.SourceFactory),
		taskHandlers:      make(map[string]models.TaskHandler),
	}
}

func (r *Registry) LoadBehaviorPlugins(pluginsPath string) ([]protocol.BehaviorFactory, error) {
	return loadPlugin[protocol.BehaviorFactory](r.logger, pluginsPath, "Behavior")
}

func (r *Registry) LoadSourcePlugins(pluginsPath string) ([]protocol.SourceFactory, error) {
	return loadPlugin[protocol.SourceFactory](r.logger, pluginsPath, "Source")
}

func (r *Registry) RegisterBehavior(behaviorFactory protocol.BehaviorFactory) {
	r.behaviorFactories[behaviorFactory.ID()] = behaviorFactory
}

func (r *Registry) RegisterSource(sourceFactory protocol.SourceFactory) {
	r.sourceFactories[sourceFactory.ID()] = sourceFactory
}

// RegisterTaskHandler binds a named handler that custom tasks reference via
// their target field.
func (r *Registry) RegisterTaskHandler(name string, handler models.TaskHandler) {
	r.taskHandlers[name] = handler
}

func (r *Registry) CreateBehavior(behaviorID string, params map[string]any) (container.Behavior, error) {
	factory, ok := r.behaviorFactories[behaviorID]
	if !ok {
		return nil, fmt.Errorf("behavior '%s' not registered", behaviorID)
	}

	return factory.Create(params)
}

func (r *Registry) CreateSource(sourceID string, config map[string]any) (protocol.Source, error) {
	factory, ok := r.sourceFactories[sourceID]
	if !ok {
		return nil, fmt.Errorf("source '%s' not registered", sourceID)
	}

	return factory.Create(config, r.logger)
}

func (r *Registry) TaskHandler(name string) (models.TaskHandler, error) {
	handler, ok := r.taskHandlers[name]
	if !ok {
		return nil, fmt.Errorf("task handler '%s' not registered", name)
	}

	return handler, nil
}

// AvailableBehaviors returns registered behavior ids, sorted.
func (r *Registry) AvailableBehaviors() []string {
	ids := make([]string, 0, len(r.behaviorFactories))
	for id := range r.behaviorFactories {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// AvailableSources returns registered source ids, sorted.
func (r *Registry) AvailableSources() []string {
	ids := make([]string, 0, len(r.sourceFactories))
	for id := range r.sourceFactories {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func loadPlugin[T interface{}](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			panic(err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			panic(err)
		}

		castV, ok := v.(T)
		if !ok {
			panic("Could not cast plugin")
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
