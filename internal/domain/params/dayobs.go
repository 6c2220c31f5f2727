package params

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// The dayobs kinds implement the Rubin Observatory convention: the
// astronomical day is the calendar date in the UTC-12 timezone. Which
// calendar day a report belongs to depends on this conversion, so datetime
// inputs are shifted into UTC-12 before the date is extracted. Date inputs
// are already a calendar day and pass through unshifted; since native date
// values are midnight UTC, a time at exactly 00:00:00 UTC is a date.

var (
	dayObsDigits = regexp.MustCompile(`^\d{8}$`)
	dayObsDashed = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// dayObsSchema is the YYYYMMDD encoding: the native value is an int like
// 20250214, validated as a digit string.
type dayObsSchema struct {
	base
}

func (s *dayObsSchema) Kind() string { return formatDayObs }

func (s *dayObsSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case string:
		if !dayObsDigits.MatchString(value) {
			return nil, castError(v, formatDayObs)
		}
		return s.castDigits(value)
	case int:
		return s.castDigits(fmt.Sprintf("%08d", value))
	case int64:
		return s.castDigits(fmt.Sprintf("%08d", value))
	case json.Number:
		return s.castDigits(value.String())
	case time.Time:
		day := observatoryDay(value)
		return day.Year()*10000 + int(day.Month())*100 + day.Day(), nil
	default:
		return nil, castError(v, formatDayObs)
	}
}

func (s *dayObsSchema) castDigits(digits string) (any, error) {
	if !dayObsDigits.MatchString(digits) {
		return nil, castError(digits, formatDayObs)
	}
	year, _ := strconv.Atoi(digits[:4])
	month, _ := strconv.Atoi(digits[4:6])
	day, _ := strconv.Atoi(digits[6:8])
	if !validCivilDate(year, month, day) {
		return nil, castError(digits, formatDayObs)
	}
	return year*10000 + month*100 + day, nil
}

func (s *dayObsSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *dayObsSchema) Default(now time.Time) (any, error) {
	if s.dynamic != nil {
		// The reference day for dayobs defaults is today in UTC-12.
		ref := now.In(dayObsLocation)
		day := s.dynamic.Evaluate(midnight(ref))
		return day.Year()*10000 + int(day.Month())*100 + day.Day(), nil
	}
	return s.Cast(s.staticDefault())
}

func (s *dayObsSchema) JSONValue(v any) (any, error) {
	return s.QueryStringValue(v)
}

func (s *dayObsSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(cast.(int)), nil
}

func (s *dayObsSchema) SourceAssignment(name string, v any) (string, error) {
	qs, err := s.QueryStringValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", name, qs), nil
}

func (s *dayObsSchema) SourceImports() []string { return nil }

// dayObsDateSchema is the dashed YYYY-MM-DD encoding of the same UTC-12
// convention; the native value is a date (midnight UTC).
type dayObsDateSchema struct {
	base
}

func (s *dayObsDateSchema) Kind() string { return formatDayObsDate }

func (s *dayObsDateSchema) Cast(v any) (any, error) {
	switch value := v.(type) {
	case string:
		if !dayObsDashed.MatchString(value) {
			return nil, castError(v, formatDayObsDate)
		}
		t, err := time.ParseInLocation(isoDate, value, time.UTC)
		if err != nil {
			return nil, castError(v, formatDayObsDate)
		}
		return t, nil
	case time.Time:
		day := observatoryDay(value)
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
	default:
		return nil, castError(v, formatDayObsDate)
	}
}

func (s *dayObsDateSchema) Validate(v any) bool { return validateValue(s, &s.base, v) }

func (s *dayObsDateSchema) Default(now time.Time) (any, error) {
	if s.dynamic != nil {
		ref := now.In(dayObsLocation)
		return s.dynamic.Evaluate(midnight(ref)), nil
	}
	return s.Cast(s.staticDefault())
}

func (s *dayObsDateSchema) JSONValue(v any) (any, error) {
	return s.QueryStringValue(v)
}

func (s *dayObsDateSchema) QueryStringValue(v any) (string, error) {
	cast, err := s.Cast(v)
	if err != nil {
		return "", err
	}
	return cast.(time.Time).Format(isoDate), nil
}

func (s *dayObsDateSchema) SourceAssignment(name string, v any) (string, error) {
	qs, err := s.QueryStringValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = datetime.date.fromisoformat(%q)", name, qs), nil
}

func (s *dayObsDateSchema) SourceImports() []string { return []string{"import datetime"} }

// observatoryDay picks the calendar day a value belongs to. A date value
// (midnight UTC) is already cast and must not move again; a datetime is
// shifted into UTC-12 first.
func observatoryDay(t time.Time) time.Time {
	utc := t.In(time.UTC)
	if utc.Hour() == 0 && utc.Minute() == 0 && utc.Second() == 0 && utc.Nanosecond() == 0 {
		return utc
	}
	return t.In(dayObsLocation)
}

func validCivilDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= daysInMonth(year, time.Month(month))
}
