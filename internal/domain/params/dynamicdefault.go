package params

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// dynamicDefaultPattern matches the relative-date expressions accepted by the
// X-Dynamic-Default schema key: the simple words today/yesterday/tomorrow, a
// signed whole-period offset such as +7d, -2w, +1m or -1y, and the period
// boundaries week_start, month_end, year_start and friends with an optional
// signed period-count prefix (e.g. -1month_start).
var dynamicDefaultPattern = regexp.MustCompile(
	`^(?:(?P<sign>[+-])(?P<offset>\d+)(?P<base>d|w|m|y|(?:week|month|year)_(?:start|end))|` +
		`(?P<simple>today|yesterday|tomorrow|(?:week|month|year)_(?:start|end)))$`,
)

// DynamicDefault evaluates a relative-date expression against a reference
// instant. Expressions are parsed once at page-definition time; evaluation is
// pure and must happen at resolve time, never earlier.
type DynamicDefault struct {
	expr   string
	base   string
	offset int
}

func ParseDynamicDefault(expr string) (*DynamicDefault, error) {
	m := dynamicDefaultPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid dynamic default format: %q", expr)
	}

	d := &DynamicDefault{expr: expr}
	groups := map[string]string{}
	for i, name := range dynamicDefaultPattern.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}

	if simple := groups["simple"]; simple != "" {
		d.base = simple
		return d, nil
	}

	offset, err := strconv.Atoi(groups["offset"])
	if err != nil {
		return nil, fmt.Errorf("invalid dynamic default offset in %q: %w", expr, err)
	}
	if groups["sign"] == "-" {
		offset = -offset
	}
	d.base = groups["base"]
	d.offset = offset
	return d, nil
}

func (d *DynamicDefault) String() string {
	return d.expr
}

// Evaluate computes the default date relative to ref. Only the calendar date
// of ref is significant; the result is midnight UTC of the computed day.
func (d *DynamicDefault) Evaluate(ref time.Time) time.Time {
	day := midnight(ref)

	switch d.base {
	case "today":
		return day
	case "yesterday":
		return day.AddDate(0, 0, -1)
	case "tomorrow":
		return day.AddDate(0, 0, 1)
	case "d":
		return day.AddDate(0, 0, d.offset)
	case "w":
		return day.AddDate(0, 0, d.offset*7)
	case "m":
		return addMonthsClamped(day, d.offset)
	case "y":
		return addMonthsClamped(day, d.offset*12)
	case "week_start":
		return weekStart(day).AddDate(0, 0, d.offset*7)
	case "week_end":
		return weekStart(day).AddDate(0, 0, 6+d.offset*7)
	case "month_start":
		return addMonthsClamped(monthStart(day), d.offset)
	case "month_end":
		start := addMonthsClamped(monthStart(day), d.offset)
		return start.AddDate(0, 1, -1)
	case "year_start":
		return time.Date(day.Year()+d.offset, time.January, 1, 0, 0, 0, 0, time.UTC)
	case "year_end":
		return time.Date(day.Year()+d.offset, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	// Unreachable: the parser only admits the bases above.
	return day
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart returns the Monday of the week containing day.
func weekStart(day time.Time) time.Time {
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}

func monthStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped shifts day by whole months, clamping to the last day of
// the target month when the day-of-month would overflow (Jan 31 +1m is
// Feb 28/29, not Mar 2/3 as time.AddDate would produce).
func addMonthsClamped(day time.Time, months int) time.Time {
	year := day.Year()
	month := int(day.Month()) + months
	for month < 1 {
		month += 12
		year--
	}
	for month > 12 {
		month -= 12
		year++
	}

	last := daysInMonth(year, time.Month(month))
	d := day.Day()
	if d > last {
		d = last
	}
	return time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
