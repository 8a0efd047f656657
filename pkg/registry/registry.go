// Package registry holds the set of node action factories available to a
// worker process, with JSON-schema validation of node configuration.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cadenzr/cadenza/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// AvailableActions returns the registered node types.
func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// CreateAction validates the config against the factory's schema and builds
// the action.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	if err := r.validateConfig(factory, config); err != nil {
		return nil, fmt.Errorf("invalid config for action type '%s': %w", actionType, err)
	}

	return factory.Create(config)
}

func (r *Registry) validateConfig(factory protocol.ActionFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("config does not match schema: %s", strings.Join(details, "; "))
	}

	return nil
}

// LoadActionPlugins loads ActionFactory symbols from compiled plugin files
// under <pluginsPath>/actions.
func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	rootPath := pluginsPath + "/actions"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(slog.String("path", pluginsPath))
	logger.Info("Loading action plugins")

	factories := make([]protocol.ActionFactory, 0, len(pluginPathList))

	for _, path := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + path)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
		}

		symbol, err := plg.Lookup("Action")
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no Action symbol: %w", path, err)
		}

		factory, ok := symbol.(protocol.ActionFactory)
		if !ok {
			return nil, fmt.Errorf("plugin %s Action symbol is not an ActionFactory", path)
		}

		factories = append(factories, factory)

		logger.Info("Loaded action plugin", slog.String("plugin", path))
	}

	return factories, nil
}
