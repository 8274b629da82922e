// Package registry tracks the action executors available to the engine,
// built in or loaded from .so plugins, and validates step configuration
// against each executor's published schema.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

var (
	ErrActionNotRegistered = errors.New("action type not registered")
	ErrInvalidActionConfig = errors.New("invalid action configuration")
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory
}

func (r *Registry) IsActionRegistered(actionType string) bool {
	_, ok := r.actionFactories[actionType]

	return ok
}

// CreateAction validates the resolved configuration against the factory's
// schema and instantiates the executor.
func (r *Registry) CreateAction(ctx context.Context, actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotRegistered, actionType)
	}

	err := r.ValidateActionConfig(actionType, config)
	if err != nil {
		return nil, err
	}

	return factory.Create(ctx, config)
}

// ValidateActionConfig checks configuration against the executor's JSON
// schema. Executors publishing no schema accept any configuration.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]any) error {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrActionNotRegistered, actionType)
	}

	schema := factory.Schema()
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	configLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, configLoader)
	if err != nil {
		return fmt.Errorf("failed to validate action configuration: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, validationErr := range result.Errors() {
			details = append(details, validationErr.String())
		}

		return fmt.Errorf("%w for %q: %s", ErrInvalidActionConfig, actionType, strings.Join(details, "; "))
	}

	return nil
}

// HealthCheck reports whether the registry can execute action steps at all.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.actionFactories) == 0 {
		return "No action executors registered", false
	}

	return fmt.Sprintf("%d action executors registered", len(r.actionFactories)), true
}

// ActionTypes returns the registered executor types, sorted.
func (r *Registry) ActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	sort.Strings(types)

	return types
}

// Executors describes every registered executor for the authoring API.
func (r *Registry) Executors() []models.RegisteredExecutor {
	executors := make([]models.RegisteredExecutor, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		executors = append(executors, models.RegisteredExecutor{
			Type:        factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	sort.Slice(executors, func(i, j int) bool {
		return executors[i].Type < executors[j].Type
	})

	return executors
}

func (r *Registry) LoadActionPlugins(_ context.Context, pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
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
			panic("could not cast plugin symbol " + symbolName)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
