package registry_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
)

type stubAction struct {
	config map[string]any
}

func (a *stubAction) Execute(_ context.Context, _ protocol.ActionInput, _ *slog.Logger) (any, error) {
	return a.config["message"], nil
}

func (a *stubAction) Validate(_ context.Context) error {
	return nil
}

type stubFactory struct {
	id     string
	schema map[string]any
}

func (f *stubFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return &stubAction{config: config}, nil
}

func (f *stubFactory) ID() string   { return f.id }
func (f *stubFactory) Name() string { return "Stub" }

func (f *stubFactory) Description() string { return "stub executor for tests" }

func (f *stubFactory) Schema() map[string]any { return f.schema }

func messageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []string{"message"},
	}
}

func TestRegistryCreateAction(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterAction(&stubFactory{id: "stub", schema: messageSchema()})

	action, err := reg.CreateAction(context.Background(), "stub", map[string]any{"message": "hello"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), protocol.ActionInput{}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, "hello", output)
}

func TestRegistryCreateActionUnknownType(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())

	_, err := reg.CreateAction(context.Background(), "missing", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrActionNotRegistered)
}

func TestRegistryValidateActionConfig(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterAction(&stubFactory{id: "stub", schema: messageSchema()})
	reg.RegisterAction(&stubFactory{id: "schemaless"})

	testCases := []struct {
		name       string
		actionType string
		config     map[string]any
		wantErr    error
	}{
		{
			name:       "valid config",
			actionType: "stub",
			config:     map[string]any{"message": "hi"},
		},
		{
			name:       "missing required key",
			actionType: "stub",
			config:     map[string]any{},
			wantErr:    registry.ErrInvalidActionConfig,
		},
		{
			name:       "wrong type",
			actionType: "stub",
			config:     map[string]any{"message": 42},
			wantErr:    registry.ErrInvalidActionConfig,
		},
		{
			name:       "no schema accepts anything",
			actionType: "schemaless",
			config:     map[string]any{"whatever": true},
		},
		{
			name:       "unregistered type",
			actionType: "missing",
			config:     map[string]any{},
			wantErr:    registry.ErrActionNotRegistered,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := reg.ValidateActionConfig(tc.actionType, tc.config)

			if tc.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryCreateActionRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterAction(&stubFactory{id: "stub", schema: messageSchema()})

	_, err := reg.CreateAction(context.Background(), "stub", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrInvalidActionConfig)
}

func TestRegistryExecutors(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.RegisterAction(&stubFactory{id: "webhook"})
	reg.RegisterAction(&stubFactory{id: "add_tag"})

	executors := reg.Executors()
	require.Len(t, executors, 2)
	assert.Equal(t, "add_tag", executors[0].Type)
	assert.Equal(t, "webhook", executors[1].Type)
	assert.Equal(t, "Stub", executors[0].Name)

	assert.Equal(t, []string{"add_tag", "webhook"}, reg.ActionTypes())
	assert.True(t, reg.IsActionRegistered("webhook"))
	assert.False(t, reg.IsActionRegistered("nope"))
}
