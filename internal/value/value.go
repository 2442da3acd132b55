// Package value validates port values typed in by a user against the
// port's type hint, and formats values for display.
package value

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidValue = errors.New("invalid value")

type Kind string

const (
	KindString  Kind = "string"
	KindInt     Kind = "int"
	KindFloat   Kind = "float"
	KindPercent Kind = "percent"
	KindBool    Kind = "bool"
	KindVector  Kind = "vector"
)

// Hint is a parsed type hint. Arity is only set for vectors.
type Hint struct {
	Kind  Kind
	Arity int
}

var vectorHint = regexp.MustCompile(`^vec([1-9][0-9]*)[fi]?$`)

// ParseHint understands the hints announced by peers. Unknown hints fall
// back to plain strings.
func ParseHint(raw string) Hint {
	h := strings.ToLower(strings.TrimSpace(raw))
	switch h {
	case "int", "integer":
		return Hint{Kind: KindInt}
	case "flt", "float", "double":
		return Hint{Kind: KindFloat}
	case "percent", "percentage":
		return Hint{Kind: KindPercent}
	case "bool", "boolean":
		return Hint{Kind: KindBool}
	}
	if m := vectorHint.FindStringSubmatch(h); m != nil {
		arity, err := strconv.Atoi(m[1])
		if err == nil {
			return Hint{Kind: KindVector, Arity: arity}
		}
	}
	return Hint{Kind: KindString}
}

// Parse converts user input into a typed value. The error wraps
// ErrInvalidValue.
func Parse(hint string, input string) (any, error) {
	h := ParseHint(hint)
	text := strings.TrimSpace(input)

	switch h.Kind {
	case KindInt:
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, input)
		}
		return v, nil
	case KindFloat, KindPercent:
		v, err := strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, input)
		}
		return v, nil
	case KindBool:
		switch strings.ToLower(text) {
		case "true", "yes", "1":
			return true, nil
		default:
			return false, nil
		}
	case KindVector:
		return parseVector(text, h.Arity)
	default:
		return input, nil
	}
}

func parseVector(text string, arity int) ([]float64, error) {
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, fmt.Errorf("%w: vector must be bracketed", ErrInvalidValue)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return nil, fmt.Errorf("%w: expected %d components, got 0", ErrInvalidValue, arity)
	}
	parts := strings.Split(body, ",")
	if len(parts) != arity {
		return nil, fmt.Errorf("%w: expected %d components, got %d", ErrInvalidValue, arity, len(parts))
	}
	out := make([]float64, 0, arity)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: component %d %q is not a number", ErrInvalidValue, i, part)
		}
		out = append(out, v)
	}
	return out, nil
}

const (
	displayLimit = 9
	displayKeep  = 6
)

// Display renders a value the way it is shown next to a port. Long values
// are cut to keep blocks narrow.
func Display(v any) string {
	s := Format(v)
	if len([]rune(s)) > displayLimit {
		return string([]rune(s)[:displayKeep]) + "..."
	}
	return s
}

// Format renders a value in the same syntax Parse accepts.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []float64:
		parts := make([]string, len(t))
		for i, f := range t {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprint(t)
	}
}
