package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type stringSchema struct {
	base
}

func (s *stringSchema) Kind() string { return "string" }

func (s *stringSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case int, int64, float64, json.Number:
		return fmt.Sprint(value), nil
	default:
		return nil, castError(v, "string")
	}
}

func (s *stringSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *stringSchema) Default(now time.Time) (any, error) {
	return s.Cast(s.staticDefault())
}

func (s *stringSchema) JSONValue(v any) (any, error) {
	return s.Cast(v)
}

func (s *stringSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return cast.(string), nil
}

func (s *stringSchema) SourceAssignment(name string, v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", name, pyStringLiteral(cast.(string))), nil
}

func (s *stringSchema) SourceImports() []string { return nil }

type integerSchema struct {
	base
}

func (s *integerSchema) Kind() string { return "integer" }

func (s *integerSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		if value != math.Trunc(value) {
			return nil, castError(v, "integer")
		}
		return int(value), nil
	case json.Number:
		i, err := value.Int64()
		if err != nil {
			return nil, castError(v, "integer")
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, castError(v, "integer")
		}
		return i, nil
	default:
		return nil, castError(v, "integer")
	}
}

func (s *integerSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *integerSchema) Default(now time.Time) (any, error) {
	return s.Cast(s.staticDefault())
}

func (s *integerSchema) JSONValue(v any) (any, error) {
	return s.Cast(v)
}

func (s *integerSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(cast.(int)), nil
}

func (s *integerSchema) SourceAssignment(name string, v any) (string, error) {
	qs, err := s.QueryStringValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", name, qs), nil
}

func (s *integerSchema) SourceImports() []string { return nil }

type numberSchema struct {
	base
}

func (s *numberSchema) Kind() string { return "number" }

func (s *numberSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return nil, castError(v, "number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, castError(v, "number")
		}
		return f, nil
	default:
		return nil, castError(v, "number")
	}
}

func (s *numberSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *numberSchema) Default(now time.Time) (any, error) {
	return s.Cast(s.staticDefault())
}

func (s *numberSchema) JSONValue(v any) (any, error) {
	return s.Cast(v)
}

func (s *numberSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(cast.(float64), 'g', -1, 64), nil
}

func (s *numberSchema) SourceAssignment(name string, v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", name, pyFloatLiteral(cast.(float64))), nil
}

func (s *numberSchema) SourceImports() []string { return nil }

type booleanSchema struct {
	base
}

func (s *booleanSchema) Kind() string { return "boolean" }

func (s *booleanSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case string:
		switch strings.ToLower(value) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, castError(v, "boolean")
	default:
		return nil, castError(v, "boolean")
	}
}

func (s *booleanSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *booleanSchema) Default(now time.Time) (any, error) {
	return s.Cast(s.staticDefault())
}

func (s *booleanSchema) JSONValue(v any) (any, error) {
	return s.Cast(v)
}

func (s *booleanSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	// Query strings follow the JSON spelling, lowercase true/false.
	return strconv.FormatBool(cast.(bool)), nil
}

func (s *booleanSchema) SourceAssignment(name string, v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	literal := "False"
	if cast.(bool) {
		literal = "True"
	}
	return fmt.Sprintf("%s = %s", name, literal), nil
}

func (s *booleanSchema) SourceImports() []string { return nil }

// pyStringLiteral quotes a string as a Python single-quoted literal.
func pyStringLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// pyFloatLiteral renders a float the way Python's repr would, keeping the
// trailing .0 on whole numbers so the notebook variable stays a float.
func pyFloatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
