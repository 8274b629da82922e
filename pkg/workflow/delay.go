package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/resolver"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DelayTarget computes a delay step's wake time from the moment the
// enrollment entered the step. Computing from entry time rather than from
// the current clock keeps the target stable across wake checks and makes a
// mid-wait configuration change re-apply from the original entry.
//
// Kinds: "duration" waits a fixed number of seconds; "until" waits for an
// RFC3339 instant; "at" targets the entry day's clock time in UTC, so an
// enrollment entering after that time advances immediately; "weekday"
// targets the next occurrence of the weekday (the entry day itself counts)
// at the optional clock time.
func DelayTarget(cfg models.DelayConfig, entered time.Time) (time.Time, error) {
	entered = entered.UTC()

	switch cfg.Kind {
	case models.DelayKindDuration, "":
		return entered.Add(time.Duration(cfg.Seconds) * time.Second), nil
	case models.DelayKindUntil:
		target, err := time.Parse(time.RFC3339, cfg.Until)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse until %q as RFC3339: %w", cfg.Until, err)
		}

		return target.UTC(), nil
	case models.DelayKindAt:
		clock, err := parseClock(cfg.At)
		if err != nil {
			return time.Time{}, err
		}

		return atClock(entered, clock), nil
	case models.DelayKindWeekday:
		weekday, ok := weekdays[strings.ToLower(cfg.Weekday)]
		if !ok {
			return time.Time{}, fmt.Errorf("unknown weekday %q", cfg.Weekday)
		}

		clock, err := parseClock(cfg.At)
		if err != nil {
			return time.Time{}, err
		}

		target := atClock(entered, clock)
		for target.Weekday() != weekday {
			target = target.AddDate(0, 0, 1)
		}

		return target, nil
	default:
		return time.Time{}, fmt.Errorf("unknown delay kind %q", cfg.Kind)
	}
}

func parseClock(at string) (time.Duration, error) {
	if at == "" {
		return 0, nil
	}

	clock, err := time.Parse("15:04", at)
	if err != nil {
		return 0, fmt.Errorf("failed to parse at %q as HH:MM: %w", at, err)
	}

	return time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute, nil
}

func atClock(day time.Time, clock time.Duration) time.Time {
	year, month, date := day.Date()

	return time.Date(year, month, date, 0, 0, 0, 0, time.UTC).Add(clock)
}

func (i *Interpreter) interpretDelay(ctx context.Context, enrollment *models.Enrollment, step *models.Step, scope resolver.Scope, depth int) (*StepResult, error) {
	var cfg models.DelayConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid delay configuration", err)
	}

	// The until instant may come from the record itself, e.g. a trial-end
	// field.
	if cfg.Until != "" {
		cfg.Until, err = resolver.Render(cfg.Until, scope)
		if err != nil {
			return nil, models.NewConfigurationError(step.ID, "failed to resolve until", err)
		}
	}

	now := i.Now()

	// A waiting enrollment re-entering its own delay step keeps the original
	// entry time, so a re-targeted configuration applies from entry rather
	// than from the moment of the edit.
	entered := now
	if depth == 0 && enrollment.WaitReason == models.WaitReasonDelay && enrollment.WaitingSince != nil && enrollment.CurrentStepID == step.ID {
		entered = *enrollment.WaitingSince
	}

	target, err := DelayTarget(cfg, entered)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid delay target", err)
	}

	input := map[string]any{"kind": string(cfg.Kind), "target": target.Format(time.RFC3339)}

	if i.FastForward || !target.After(now) {
		return &StepResult{Branch: models.BranchNext, Input: input}, nil
	}

	if depth > 0 {
		return i.inlineDelay(ctx, step, target.Sub(now), input)
	}

	return &StepResult{
		Suspended:    true,
		ResumeAt:     target,
		WaitingSince: entered,
		WaitReason:   models.WaitReasonDelay,
		Input:        input,
	}, nil
}

// inlineDelay waits out a delay inside a nested region. Regions run
// synchronously within one worker turn, so the wait happens in place and is
// bounded by InlineDelayLimit.
func (i *Interpreter) inlineDelay(ctx context.Context, step *models.Step, wait time.Duration, input map[string]any) (*StepResult, error) {
	limit := i.InlineDelayLimit
	if limit <= 0 {
		limit = defaultInlineDelayLimit
	}

	if wait > limit {
		return nil, models.NewConfigurationError(step.ID,
			fmt.Sprintf("delay of %s inside a nested region exceeds the %s in-turn limit", wait.Round(time.Second), limit), nil)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, models.NewTransientError(step.ID, "execution interrupted during delay", ctx.Err())
	case <-timer.C:
	}

	return &StepResult{Branch: models.BranchNext, Input: input}, nil
}
