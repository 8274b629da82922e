package models_test

import (
	"errors"
	"testing"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataContextCloneIsolation(t *testing.T) {
	t.Parallel()

	original := models.NewDataContext()
	original.SetVariable("score", 42)
	original.SetStepOutput("step-1", map[string]any{"status": "ok"})

	clone := original.Clone()
	clone.SetVariable("score", 99)
	clone.StepOutputs["step-1"].(map[string]any)["status"] = "changed"

	assert.Equal(t, 42, original.Variables["score"])
	assert.Equal(t, "ok", original.StepOutputs["step-1"].(map[string]any)["status"])
	assert.Equal(t, 99, clone.Variables["score"])
}

func TestDataContextSetOnNilMaps(t *testing.T) {
	t.Parallel()

	dc := &models.DataContext{}
	dc.SetVariable("a", 1)
	dc.SetStepOutput("s", "out")

	assert.Equal(t, 1, dc.Variables["a"])
	assert.Equal(t, "out", dc.StepOutputs["s"])
}

func TestStepEdgeTo(t *testing.T) {
	t.Parallel()

	step := &models.Step{
		ID:   "cond-1",
		Type: models.StepTypeCondition,
		Edges: []models.Edge{
			{Branch: models.BranchYes, To: "step-a"},
			{Branch: models.BranchNo, To: "step-b"},
		},
	}

	to, ok := step.EdgeTo(models.BranchYes)
	require.True(t, ok)
	assert.Equal(t, "step-a", to)

	_, ok = step.EdgeTo("missing")
	assert.False(t, ok)
}

func TestStepBranchEdgesExcludesNext(t *testing.T) {
	t.Parallel()

	step := &models.Step{
		ID:   "par-1",
		Type: models.StepTypeParallel,
		Edges: []models.Edge{
			{Branch: "email-path", To: "step-a"},
			{Branch: "sms-path", To: "step-b"},
			{Branch: models.BranchNext, To: "step-c"},
		},
	}

	branches := step.BranchEdges()
	require.Len(t, branches, 2)
	assert.Equal(t, "email-path", branches[0].Branch)
	assert.Equal(t, "sms-path", branches[1].Branch)
}

func TestStepDecodeConfig(t *testing.T) {
	t.Parallel()

	step := &models.Step{
		ID:   "delay-1",
		Type: models.StepTypeDelay,
		Config: map[string]any{
			"kind":    "duration",
			"seconds": 604800,
		},
	}

	var cfg models.DelayConfig

	err := step.DecodeConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, models.DelayKindDuration, cfg.Kind)
	assert.Equal(t, 604800, cfg.Seconds)
}

func TestWorkflowStepLookups(t *testing.T) {
	t.Parallel()

	wf := &models.Workflow{
		ID:     "wf-1",
		Name:   "welcome",
		Status: models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger-1", Type: models.StepTypeTrigger},
			{ID: "action-1", Type: models.StepTypeAction},
		},
	}

	assert.Equal(t, "action-1", wf.StepByID("action-1").ID)
	assert.Nil(t, wf.StepByID("missing"))
	assert.Equal(t, "trigger-1", wf.TriggerStep().ID)
	assert.True(t, wf.IsEnrollable())

	wf.Status = models.WorkflowStatusPaused
	assert.False(t, wf.IsEnrollable())
}

func TestEnrollmentTerminal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status   models.EnrollmentStatus
		terminal bool
	}{
		{models.EnrollmentStatusActive, false},
		{models.EnrollmentStatusWaiting, false},
		{models.EnrollmentStatusCompleted, true},
		{models.EnrollmentStatusFailed, true},
		{models.EnrollmentStatusCanceled, true},
	}

	for _, testCase := range testCases {
		enrollment := models.NewEnrollment("wf-1", models.EntityRef{Type: "contact", ID: "c-1"})
		enrollment.Status = testCase.status

		assert.Equal(t, testCase.terminal, enrollment.IsTerminal(), string(testCase.status))
	}
}

func TestStepErrorClassification(t *testing.T) {
	t.Parallel()

	configErr := models.NewConfigurationError("step-1", "unknown operator", nil)
	transientErr := models.NewTransientError("step-1", "timeout", nil)
	permanentErr := models.NewPermanentError("step-1", "record gone", nil)

	assert.True(t, models.IsConfigurationError(configErr))
	assert.True(t, models.IsTransientError(transientErr))
	assert.True(t, models.IsPermanentError(permanentErr))

	// Unclassified errors default to transient so external failures retry.
	plain := errors.New("connection reset")
	assert.True(t, models.IsTransientError(plain))
	assert.Equal(t, models.ErrorKindTransient, models.Classify(plain))
}

func TestAsStepErrorAttributesStep(t *testing.T) {
	t.Parallel()

	wrapped := models.AsStepError(errors.New("boom"), "step-9")
	assert.Equal(t, "step-9", wrapped.StepID)
	assert.Equal(t, models.ErrorKindTransient, wrapped.Kind)

	// An existing StepError keeps its kind and gains the step id.
	inner := models.NewPermanentError("", "gone", nil)
	attributed := models.AsStepError(inner, "step-3")
	assert.Equal(t, models.ErrorKindPermanent, attributed.Kind)
	assert.Equal(t, "step-3", attributed.StepID)
}
