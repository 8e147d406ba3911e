package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// searchYears bounds Next. Leap days can be eight years apart.
const searchYears = 8

// cronField is one parsed field of a 5-field cron expression. star is set
// when the field begins with "*", which leaves a day field unrestricted for
// the day-of-month/day-of-week union.
type cronField struct {
	wildcard bool
	star     bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, bounded to [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true, star: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, base
		}

		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range start %q: %w", part, err)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range end %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			start, end = v, v
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			values[v] = true
		}
	}
	return cronField{star: strings.HasPrefix(field, "*"), values: values}, nil
}

// Schedule is a parsed "minute hour day-of-month month day-of-week"
// expression evaluated in UTC.
type Schedule struct {
	expr       string
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// ParseSchedule parses a standard 5-field cron expression. Day-of-week
// accepts 0-7 with both 0 and 7 meaning Sunday. When day-of-month and
// day-of-week are both restricted a day matching either one fires, as in
// Vixie cron.
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("archive: cron %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("archive: cron %q: %s field: %w", expr, names[i], err)
		}
		parsed[i] = cf
	}
	if dow := parsed[4]; dow.values[7] {
		dow.values[0] = true
		delete(dow.values, 7)
	}

	return Schedule{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

func (s Schedule) String() string { return s.expr }

func (s Schedule) dayMatches(t time.Time) bool {
	dom := s.dayOfMonth.matches(t.Day())
	dow := s.dayOfWeek.matches(int(t.Weekday()))
	if s.dayOfMonth.star || s.dayOfWeek.star {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching minute strictly after after. It skips
// whole months, days and hours that cannot match and gives up after
// searchYears.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(searchYears, 0, 0)

	for t.Before(limit) {
		switch {
		case !s.month.matches(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !s.dayMatches(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
		case !s.hour.matches(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
		case !s.minute.matches(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("archive: cron %q: no match within %d years", s.expr, searchYears)
}
