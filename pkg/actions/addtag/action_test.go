package addtag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/actions/addtag"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/protocol"
)

type stubStore struct {
	tags []string
	fail error
}

func (s *stubStore) Get(_ context.Context, _ models.EntityRef) (map[string]any, error) {
	return map[string]any{}, nil
}

func (s *stubStore) UpdateField(_ context.Context, _ models.EntityRef, _ string, _ any) error {
	return nil
}

func (s *stubStore) AddTag(_ context.Context, _ models.EntityRef, tag string) error {
	if s.fail != nil {
		return s.fail
	}

	s.tags = append(s.tags, tag)

	return nil
}

func TestNewActionRequiresTag(t *testing.T) {
	t.Parallel()

	_, err := addtag.NewAction(&stubStore{}, map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, addtag.ErrTagRequired)
}

func TestExecuteAddsTag(t *testing.T) {
	t.Parallel()

	store := &stubStore{}

	action, err := addtag.NewAction(store, map[string]any{"tag": "nurtured"})
	require.NoError(t, err)

	input := protocol.ActionInput{
		StepID: "step-1",
		Entity: models.EntityRef{Type: "contact", ID: "c-1"},
	}

	output, err := action.Execute(context.Background(), input, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"nurtured"}, store.tags)

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "nurtured", result["tag"])
}

func TestExecutePropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	store := &stubStore{fail: models.NewTransientError("", "store unavailable", nil)}

	action, err := addtag.NewAction(store, map[string]any{"tag": "nurtured"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), protocol.ActionInput{StepID: "step-1"}, log.Discard())
	require.Error(t, err)
	assert.True(t, models.IsTransientError(err))
}

func TestFactoryMetadata(t *testing.T) {
	t.Parallel()

	factory := addtag.NewActionFactory(&stubStore{})

	assert.Equal(t, "add_tag", factory.ID())
	assert.Contains(t, factory.Schema()["required"], "tag")
}
