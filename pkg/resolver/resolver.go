// Package resolver substitutes {{...}} placeholder expressions against an
// execution scope. It is purely functional: the same template and scope
// always produce the same result, so simulation reuses it unmodified.
//
// Reference forms:
//
//	{{ contact.email }}            entity field (leading segment = entity type, or "entity")
//	{{ variables.leadScore }}      enrollment variable
//	{{ steps.step-1.body.total }}  recorded step output, nested to any depth
//	{{ contact.name | upper }}     pipe filter chain, applied left to right
//
// A missing path never resolves to an empty string: it yields an error
// wrapping ErrUnresolved unless a default filter absorbs it.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnresolved is returned when a referenced path has no value in scope.
	ErrUnresolved = errors.New("unresolved reference")

	// ErrUnknownFilter is returned when a filter name is not registered.
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrBadTemplate is returned for malformed placeholder syntax.
	ErrBadTemplate = errors.New("malformed template")
)

// Scope carries the data placeholders resolve against.
type Scope struct {
	// EntityType is the enrollment's record type; paths starting with this
	// segment (or the literal "entity") read the entity snapshot.
	EntityType  string
	Entity      map[string]any
	Variables   map[string]any
	StepOutputs map[string]any
}

// Render substitutes every placeholder in the template and returns the
// resulting string. Literal text without placeholders is returned unchanged.
func Render(template string, scope Scope) (string, error) {
	var (
		out        strings.Builder
		unresolved []string
	)

	rest := template

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unclosed placeholder in %q: %w", template, ErrBadTemplate)
		}

		out.WriteString(rest[:start])

		expr := rest[start+2 : start+end]
		rest = rest[start+end+2:]

		value, err := evalExpression(expr, scope)
		if err != nil {
			if errors.Is(err, ErrUnresolved) {
				unresolved = append(unresolved, strings.TrimSpace(expr))

				continue
			}

			return "", err
		}

		out.WriteString(formatValue(value))
	}

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved references: %s: %w", strings.Join(unresolved, ", "), ErrUnresolved)
	}

	return out.String(), nil
}

// Resolve returns the typed value when the template is a single bare
// placeholder (sequences stay sequences, numbers stay numbers); anything
// else renders to a string.
func Resolve(template string, scope Scope) (any, error) {
	trimmed := strings.TrimSpace(template)

	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := trimmed[2 : len(trimmed)-2]
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			value, err := evalExpression(inner, scope)
			if err != nil {
				if errors.Is(err, ErrUnresolved) {
					return nil, fmt.Errorf("unresolved references: %s: %w", strings.TrimSpace(inner), ErrUnresolved)
				}

				return nil, err
			}

			return value, nil
		}
	}

	return Render(template, scope)
}

// RenderConfig deep-walks a configuration value and resolves every string
// leaf. Full-placeholder strings keep their typed value.
func RenderConfig(config map[string]any, scope Scope) (map[string]any, error) {
	resolved, err := renderValue(config, scope)
	if err != nil {
		return nil, err
	}

	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rendered configuration is not a map: %w", ErrBadTemplate)
	}

	return out, nil
}

func renderValue(value any, scope Scope) (any, error) {
	switch typed := value.(type) {
	case string:
		return Resolve(typed, scope)
	case map[string]any:
		out := make(map[string]any, len(typed))

		for key, entry := range typed {
			resolved, err := renderValue(entry, scope)
			if err != nil {
				return nil, err
			}

			out[key] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(typed))

		for i, entry := range typed {
			resolved, err := renderValue(entry, scope)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// CheckSyntax verifies placeholder delimiters and filter names without
// resolving anything. Used at workflow validation time.
func CheckSyntax(template string) error {
	rest := template

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if strings.Contains(rest, "}}") {
				return fmt.Errorf("stray closing delimiter in %q: %w", template, ErrBadTemplate)
			}

			return nil
		}

		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return fmt.Errorf("unclosed placeholder in %q: %w", template, ErrBadTemplate)
		}

		expr := rest[start+2 : start+end]

		_, filters, err := splitExpression(expr)
		if err != nil {
			return err
		}

		for _, f := range filters {
			if _, ok := filterFuncs[f.name]; !ok && f.name != filterDefault {
				return fmt.Errorf("filter %q: %w", f.name, ErrUnknownFilter)
			}
		}

		rest = rest[start+end+2:]
	}
}

type filterCall struct {
	name string
	arg  string
}

func splitExpression(expr string) (string, []filterCall, error) {
	parts := strings.Split(expr, "|")

	path := strings.TrimSpace(parts[0])
	if path == "" {
		return "", nil, fmt.Errorf("empty reference: %w", ErrBadTemplate)
	}

	filters := make([]filterCall, 0, len(parts)-1)

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", nil, fmt.Errorf("empty filter in %q: %w", expr, ErrBadTemplate)
		}

		name, arg, _ := strings.Cut(raw, ":")
		filters = append(filters, filterCall{name: strings.TrimSpace(name), arg: arg})
	}

	return path, filters, nil
}

func evalExpression(expr string, scope Scope) (any, error) {
	path, filters, err := splitExpression(expr)
	if err != nil {
		return nil, err
	}

	value, lookupErr := lookupPath(path, scope)

	start := 0

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrUnresolved) {
			return nil, lookupErr
		}

		// A default filter absorbs the unresolved state; filters after it
		// still apply.
		absorbed := false

		for i, f := range filters {
			if f.name == filterDefault {
				value = coerceLiteral(f.arg)
				start = i + 1
				absorbed = true

				break
			}
		}

		if !absorbed {
			return nil, lookupErr
		}
	}

	for _, f := range filters[start:] {
		value, err = applyFilter(value, f)
		if err != nil {
			return nil, err
		}
	}

	return value, nil
}

func lookupPath(path string, scope Scope) (any, error) {
	segments := strings.Split(path, ".")

	var root any

	switch segments[0] {
	case "variables":
		root = scope.Variables
	case "steps":
		root = scope.StepOutputs
	case "entity", scope.EntityType:
		root = scope.Entity
	default:
		return nil, fmt.Errorf("%q: %w", path, ErrUnresolved)
	}

	value, err := walk(root, segments[1:])
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}

	return value, nil
}

func walk(value any, segments []string) (any, error) {
	for _, segment := range segments {
		switch container := value.(type) {
		case map[string]any:
			next, ok := container[segment]
			if !ok {
				return nil, ErrUnresolved
			}

			value = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(container) {
				return nil, ErrUnresolved
			}

			value = container[index]
		default:
			return nil, ErrUnresolved
		}
	}

	return value, nil
}

// formatValue renders a resolved value into template output. Structured
// values serialize as JSON.
func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}

		return string(raw)
	}
}

// coerceLiteral interprets a filter argument: JSON literals become typed
// values, anything else stays a string.
func coerceLiteral(raw string) any {
	trimmed := strings.TrimSpace(raw)

	var value any

	err := json.Unmarshal([]byte(trimmed), &value)
	if err != nil {
		return trimmed
	}

	return value
}
