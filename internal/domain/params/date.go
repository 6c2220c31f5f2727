package params

import (
	"fmt"
	"time"
)

const isoDate = "2006-01-02"

// naiveDatetimeLayouts are ISO-8601 layouts without a UTC offset. Values
// parsed with one of these are normalized to UTC, matching the rule that a
// naive datetime is assumed to be UTC.
var naiveDatetimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	isoDate,
}

var offsetDatetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range offsetDatetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveDatetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO 8601 datetime: %q", s)
}

type dateSchema struct {
	base
}

func (s *dateSchema) Kind() string { return "date" }

// Cast returns the date as midnight UTC. A datetime input keeps only its
// calendar date.
func (s *dateSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case string:
		t, err := time.ParseInLocation(isoDate, value, time.UTC)
		if err != nil {
			return nil, castError(v, "date")
		}
		return t, nil
	case time.Time:
		return midnight(value), nil
	default:
		return nil, castError(v, "date")
	}
}

func (s *dateSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *dateSchema) Default(now time.Time) (any, error) {
	if s.dynamic != nil {
		return s.dynamic.Evaluate(now), nil
	}
	return s.Cast(s.staticDefault())
}

func (s *dateSchema) JSONValue(v any) (any, error) {
	return s.QueryStringValue(v)
}

func (s *dateSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return cast.(time.Time).Format(isoDate), nil
}

func (s *dateSchema) SourceAssignment(name string, v any) (string, error) {
	qs, err := s.QueryStringValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = datetime.date.fromisoformat(%q)", name, qs), nil
}

func (s *dateSchema) SourceImports() []string { return []string{"import datetime"} }

type datetimeSchema struct {
	base
}

func (s *datetimeSchema) Kind() string { return "datetime" }

func (s *datetimeSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case string:
		t, err := parseDatetime(value)
		if err != nil {
			return nil, castError(v, "datetime")
		}
		return t, nil
	case time.Time:
		return value, nil
	default:
		return nil, castError(v, "datetime")
	}
}

func (s *datetimeSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *datetimeSchema) Default(now time.Time) (any, error) {
	return s.Cast(s.staticDefault())
}

func (s *datetimeSchema) JSONValue(v any) (any, error) {
	return s.QueryStringValue(v)
}

func (s *datetimeSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return cast.(time.Time).Format(time.RFC3339Nano), nil
}

func (s *datetimeSchema) SourceAssignment(name string, v any) (string, error) {
	qs, err := s.QueryStringValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = datetime.datetime.fromisoformat(%q)", name, qs), nil
}

func (s *datetimeSchema) SourceImports() []string { return []string{"import datetime"} }
