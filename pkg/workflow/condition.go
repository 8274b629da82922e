package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/resolver"
)

func (i *Interpreter) interpretCondition(step *models.Step, scope resolver.Scope) (*StepResult, error) {
	var cfg models.ConditionConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid condition configuration", err)
	}

	left, err := resolveOperand(cfg.Left, cfg.Operator, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve left operand", err)
	}

	var right any

	if isBinaryOperator(cfg.Operator) {
		right, err = resolveOperand(cfg.Right, cfg.Operator, scope)
		if err != nil {
			return nil, models.NewConfigurationError(step.ID, "failed to resolve right operand", err)
		}
	}

	outcome, err := EvaluateCondition(left, cfg.Operator, right)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to evaluate condition", err)
	}

	branch := models.BranchNo
	if outcome {
		branch = models.BranchYes
	}

	input := map[string]any{"left": left, "operator": string(cfg.Operator), "right": right}

	return &StepResult{Branch: branch, Input: input}, nil
}

// resolveOperand resolves a condition operand to its typed value. Unary
// operators tolerate unresolved references: a missing field is empty and
// falsy, not an authoring error.
func resolveOperand(template string, operator models.ConditionOperator, scope resolver.Scope) (any, error) {
	value, err := resolver.Resolve(template, scope)
	if err != nil {
		if !isBinaryOperator(operator) && errors.Is(err, resolver.ErrUnresolved) {
			return nil, nil
		}

		return nil, err
	}

	return value, nil
}

func isBinaryOperator(operator models.ConditionOperator) bool {
	switch operator {
	case models.OperatorIsEmpty, models.OperatorIsNotEmpty, models.OperatorIsTrue, models.OperatorIsFalse:
		return false
	default:
		return true
	}
}

// KnownOperator reports whether the operator is one the engine evaluates.
func KnownOperator(operator models.ConditionOperator) bool {
	switch operator {
	case models.OperatorEquals, models.OperatorNotEquals,
		models.OperatorContains, models.OperatorNotContains,
		models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorIsEmpty, models.OperatorIsNotEmpty,
		models.OperatorIsTrue, models.OperatorIsFalse:
		return true
	default:
		return false
	}
}

// EvaluateCondition applies one comparison operator to resolved operands.
// It is a pure function: the same operands and operator always produce the
// same branch.
func EvaluateCondition(left any, operator models.ConditionOperator, right any) (bool, error) {
	switch operator {
	case models.OperatorEquals:
		return looseEquals(left, right), nil
	case models.OperatorNotEquals:
		return !looseEquals(left, right), nil
	case models.OperatorContains:
		return contains(left, right)
	case models.OperatorNotContains:
		outcome, err := contains(left, right)
		if err != nil {
			return false, err
		}

		return !outcome, nil
	case models.OperatorGreaterThan:
		return compareNumbers(left, right, func(l, r float64) bool { return l > r })
	case models.OperatorLessThan:
		return compareNumbers(left, right, func(l, r float64) bool { return l < r })
	case models.OperatorIsEmpty:
		return isEmpty(left), nil
	case models.OperatorIsNotEmpty:
		return !isEmpty(left), nil
	case models.OperatorIsTrue:
		return isTruthy(left), nil
	case models.OperatorIsFalse:
		return !isTruthy(left), nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// looseEquals compares numerically when both sides coerce to numbers,
// otherwise by formatted representation, so "42" equals 42 and resolved
// typed values compare naturally against template literals.
func looseEquals(left, right any) bool {
	leftNum, leftOk := coerceNumber(left)
	rightNum, rightOk := coerceNumber(right)

	if leftOk && rightOk {
		return leftNum == rightNum
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func contains(left, right any) (bool, error) {
	switch container := left.(type) {
	case string:
		return strings.Contains(container, fmt.Sprintf("%v", right)), nil
	case []any:
		for _, item := range container {
			if looseEquals(item, right) {
				return true, nil
			}
		}

		return false, nil
	case map[string]any:
		_, ok := container[fmt.Sprintf("%v", right)]

		return ok, nil
	default:
		return false, fmt.Errorf("contains requires a string, sequence or map, got %T", left)
	}
}

func compareNumbers(left, right any, compare func(l, r float64) bool) (bool, error) {
	leftNum, ok := coerceNumber(left)
	if !ok {
		return false, fmt.Errorf("numeric comparison requires numbers, got %T", left)
	}

	rightNum, ok := coerceNumber(right)
	if !ok {
		return false, fmt.Errorf("numeric comparison requires numbers, got %T", right)
	}

	return compare(leftNum, rightNum), nil
}

func coerceNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}

// isTruthy coerces a value to a boolean: booleans as themselves, strings by
// ParseBool falling back to non-emptiness, numbers by non-zero, containers
// by non-empty length.
func isTruthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(typed)
		if err == nil {
			return parsed
		}

		return strings.TrimSpace(typed) != ""
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		number, ok := coerceNumber(typed)
		if ok {
			return number != 0
		}

		return false
	}
}
