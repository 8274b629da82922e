package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logaction "github.com/journeyhq/journey/pkg/actions/log"
	"github.com/journeyhq/journey/pkg/protocol"
)

func TestNewLogActionRequiresMessage(t *testing.T) {
	t.Parallel()

	_, err := logaction.NewLogAction(map[string]any{"level": "info"})
	require.Error(t, err)
	assert.ErrorIs(t, err, logaction.ErrMessageRequired)
}

func TestExecuteLogsMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	action, err := logaction.NewLogAction(map[string]any{
		"message": "scored contact at 87",
		"level":   "warn",
	})
	require.NoError(t, err)

	input := protocol.ActionInput{
		WorkflowID:   "wf-1",
		EnrollmentID: "enr-1",
		StepID:       "log-1",
	}

	output, err := action.Execute(context.Background(), input, logger)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "scored contact at 87")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "enrollment_id=enr-1")

	result, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "warn", result["level"])
}

func TestExecuteDefaultsToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	action, err := logaction.NewLogAction(map[string]any{"message": "hello"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), protocol.ActionInput{}, logger)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
}

func TestFactoryMetadata(t *testing.T) {
	t.Parallel()

	factory := logaction.NewActionFactory()

	assert.Equal(t, "log", factory.ID())
	assert.Equal(t, "Log", factory.Name())
	assert.Contains(t, factory.Schema()["required"], "message")
}
