package resolver

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// filterDefault is handled inside the evaluator because it also absorbs
// unresolved references; it acts as identity on present values unless the
// value is nil or an empty string.
const filterDefault = "default"

type filterFunc func(value any, arg string) (any, error)

var filterFuncs = map[string]filterFunc{
	"upper": func(value any, _ string) (any, error) {
		return strings.ToUpper(formatValue(value)), nil
	},
	"lower": func(value any, _ string) (any, error) {
		return strings.ToLower(formatValue(value)), nil
	},
	"trim": func(value any, _ string) (any, error) {
		return strings.TrimSpace(formatValue(value)), nil
	},
	"title": func(value any, _ string) (any, error) {
		return titleCase(formatValue(value)), nil
	},
	"json": func(value any, _ string) (any, error) {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value as json: %w", err)
		}

		return string(raw), nil
	},
	"date":  filterDate,
	"round": filterRound,
}

func applyFilter(value any, call filterCall) (any, error) {
	if call.name == filterDefault {
		if value == nil || formatValue(value) == "" {
			return coerceLiteral(call.arg), nil
		}

		return value, nil
	}

	fn, ok := filterFuncs[call.name]
	if !ok {
		return nil, fmt.Errorf("filter %q: %w", call.name, ErrUnknownFilter)
	}

	return fn(value, call.arg)
}

// filterDate formats a time value with a Go reference layout, e.g.
// "date:2006-01-02". Accepts time.Time, RFC 3339 strings and Unix-second
// numbers.
func filterDate(value any, arg string) (any, error) {
	layout := strings.TrimSpace(arg)
	if layout == "" {
		layout = time.RFC3339
	}

	switch typed := value.(type) {
	case time.Time:
		return typed.Format(layout), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, typed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %q as a timestamp: %w", typed, err)
		}

		return parsed.Format(layout), nil
	case float64:
		return time.Unix(int64(typed), 0).UTC().Format(layout), nil
	default:
		return nil, fmt.Errorf("date filter requires a timestamp, got %T", value)
	}
}

// filterRound rounds a numeric value to the given number of decimals
// (default 0), e.g. "round:2".
func filterRound(value any, arg string) (any, error) {
	decimals := 0

	if trimmed := strings.TrimSpace(arg); trimmed != "" {
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("round filter requires an integer argument, got %q", arg)
		}

		decimals = parsed
	}

	number, err := toFloat(value)
	if err != nil {
		return nil, err
	}

	factor := math.Pow(10, float64(decimals))

	return math.Round(number*factor) / factor, nil
}

func toFloat(value any) (float64, error) {
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %q as a number: %w", typed, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

func titleCase(input string) string {
	var out strings.Builder

	atBoundary := true

	for _, r := range input {
		switch {
		case unicode.IsSpace(r):
			atBoundary = true

			out.WriteRune(r)
		case atBoundary:
			atBoundary = false

			out.WriteRune(unicode.ToUpper(r))
		default:
			out.WriteRune(unicode.ToLower(r))
		}
	}

	return out.String()
}
