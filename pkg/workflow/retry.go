package workflow

import (
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

// Engine-wide retry defaults, applied when workflow settings leave them
// unset.
const (
	DefaultMaxAttempts    = 3
	DefaultBackoffSeconds = 60

	// maxBackoff caps exponential growth so late attempts stay within an
	// operational horizon.
	maxBackoff = 6 * time.Hour
)

// RetryPolicy decides how transient step failures are rescheduled.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// PolicyFor derives the retry policy from workflow settings, filling engine
// defaults for unset values.
func PolicyFor(settings models.WorkflowSettings) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts: settings.MaxAttempts,
		Backoff:     time.Duration(settings.BackoffSeconds) * time.Second,
	}

	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}

	if policy.Backoff <= 0 {
		policy.Backoff = DefaultBackoffSeconds * time.Second
	}

	return policy
}

// NextDelay returns the wait before re-running a step whose attempt number
// just failed: base × 2^(attempt−1), capped.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Backoff

	for n := 1; n < attempt; n++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}

	return delay
}

// Exhausted reports whether the attempt count used up the retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
