package workflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/workflow"
)

func TestPolicyForFillsDefaults(t *testing.T) {
	t.Parallel()

	policy := workflow.PolicyFor(models.WorkflowSettings{})
	assert.Equal(t, workflow.DefaultMaxAttempts, policy.MaxAttempts)
	assert.Equal(t, time.Duration(workflow.DefaultBackoffSeconds)*time.Second, policy.Backoff)

	custom := workflow.PolicyFor(models.WorkflowSettings{MaxAttempts: 5, BackoffSeconds: 10})
	assert.Equal(t, 5, custom.MaxAttempts)
	assert.Equal(t, 10*time.Second, custom.Backoff)
}

func TestNextDelayDoublesPerAttempt(t *testing.T) {
	t.Parallel()

	policy := workflow.PolicyFor(models.WorkflowSettings{BackoffSeconds: 60})

	assert.Equal(t, 60*time.Second, policy.NextDelay(1))
	assert.Equal(t, 120*time.Second, policy.NextDelay(2))
	assert.Equal(t, 240*time.Second, policy.NextDelay(3))
}

func TestNextDelayIsCapped(t *testing.T) {
	t.Parallel()

	policy := workflow.PolicyFor(models.WorkflowSettings{BackoffSeconds: 3600})

	assert.Equal(t, 6*time.Hour, policy.NextDelay(30))
}

func TestExhausted(t *testing.T) {
	t.Parallel()

	policy := workflow.PolicyFor(models.WorkflowSettings{MaxAttempts: 3})

	assert.False(t, policy.Exhausted(1))
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(4))
}
