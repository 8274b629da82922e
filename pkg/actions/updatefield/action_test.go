package updatefield_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/actions/updatefield"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

type stubStore struct {
	updates map[string]any
	tags    []string
	fail    error
}

func newStubStore() *stubStore {
	return &stubStore{updates: map[string]any{}}
}

func (s *stubStore) Get(_ context.Context, _ models.EntityRef) (map[string]any, error) {
	return map[string]any{}, nil
}

func (s *stubStore) UpdateField(_ context.Context, _ models.EntityRef, field string, value any) error {
	if s.fail != nil {
		return s.fail
	}

	s.updates[field] = value

	return nil
}

func (s *stubStore) AddTag(_ context.Context, _ models.EntityRef, tag string) error {
	if s.fail != nil {
		return s.fail
	}

	s.tags = append(s.tags, tag)

	return nil
}

func TestNewActionRequiresField(t *testing.T) {
	t.Parallel()

	_, err := updatefield.NewAction(newStubStore(), map[string]any{"value": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, updatefield.ErrFieldRequired)
}

func TestExecuteWritesField(t *testing.T) {
	t.Parallel()

	store := newStubStore()

	action, err := updatefield.NewAction(store, map[string]any{
		"field": "lifecycle_stage",
		"value": "customer",
	})
	require.NoError(t, err)

	input := protocol.ActionInput{
		StepID: "step-1",
		Entity: models.EntityRef{Type: "contact", ID: "c-1"},
	}

	output, err := action.Execute(context.Background(), input, log.Discard())
	require.NoError(t, err)

	assert.Equal(t, "customer", store.updates["lifecycle_stage"])

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["updated"])
	assert.Equal(t, "lifecycle_stage", result["field"])
}

func TestExecutePropagatesStoreClassification(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.fail = models.NewPermanentError("", "record not found", nil)

	action, err := updatefield.NewAction(store, map[string]any{
		"field": "lifecycle_stage",
		"value": "customer",
	})
	require.NoError(t, err)

	input := protocol.ActionInput{
		StepID: "step-1",
		Entity: models.EntityRef{Type: "contact", ID: "gone"},
	}

	_, err = action.Execute(context.Background(), input, log.Discard())
	require.Error(t, err)
	assert.True(t, models.IsPermanentError(err))
}

func TestFactoryMetadata(t *testing.T) {
	t.Parallel()

	factory := updatefield.NewActionFactory(newStubStore())

	assert.Equal(t, "update_field", factory.ID())
	assert.Contains(t, factory.Schema()["required"], "field")

	action, err := factory.Create(context.Background(), map[string]any{"field": "owner_id", "value": "u-9"})
	require.NoError(t, err)
	assert.NoError(t, action.Validate(context.Background()))
}
