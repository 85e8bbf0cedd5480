// Package tz converts weekly wall-clock rules into UTC instants and UTC
// instants back into display wall-clock time. Interval math never happens in
// local time.
package tz

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/availability"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

const MinutesPerDay = 24 * 60

var locations sync.Map

// LoadLocation resolves an IANA zone name. "Local" and the empty string are
// rejected so results never depend on the host configuration.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, apperr.Validation("timezone", "an IANA zone name is required")
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Validation("timezone", "unknown zone %q", name)
	}
	locations.Store(name, loc)
	return loc, nil
}

// Date is a civil calendar date without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// At returns the instant for minute-of-day m on d in loc. Minute 1440 is the
// following midnight.
func (d Date) At(minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, minute, 0, 0, loc)
}

// DatesCovering lists every civil date in loc that intersects [start, end).
func DatesCovering(start, end time.Time, loc *time.Location) []Date {
	if !end.After(start) {
		return nil
	}
	first := DateOf(start.In(loc))
	last := DateOf(end.Add(-time.Nanosecond).In(loc))
	var out []Date
	for d := first; !last.Before(d); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// ExpandRule converts rule on the given rule-local date into a UTC interval.
// The second return is false when the rule does not apply to date or the
// converted interval is empty.
func ExpandRule(rule model.AvailabilityRule, date Date) (availability.Interval, bool, error) {
	loc, err := LoadLocation(rule.Timezone)
	if err != nil {
		return availability.Interval{}, false, err
	}
	if date.Weekday() != rule.DayOfWeek {
		return availability.Interval{}, false, nil
	}
	iv := availability.Interval{
		Start: date.At(rule.StartMinute, loc).UTC(),
		End:   date.At(rule.EndMinute, loc).UTC(),
	}
	if iv.Empty() {
		return availability.Interval{}, false, nil
	}
	return iv, true, nil
}

// ToDisplay renders an instant in the display zone. Formatting only.
func ToDisplay(instant time.Time, loc *time.Location) time.Time {
	return instant.In(loc)
}

// ParseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, apperr.Validation("time", "expected HH:MM, got %q", s)
	}
	h, herr := strconv.Atoi(s[:2])
	m, merr := strconv.Atoi(s[3:])
	if herr != nil || merr != nil {
		return 0, apperr.Validation("time", "expected HH:MM, got %q", s)
	}
	if h == 24 && m == 0 {
		return MinutesPerDay, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperr.Validation("time", "out of range %q", s)
	}
	return h*60 + m, nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ValidateRule checks the invariants of a weekly rule.
func ValidateRule(rule model.AvailabilityRule) error {
	if rule.DayOfWeek < time.Sunday || rule.DayOfWeek > time.Saturday {
		return apperr.Validation("day_of_week", "must be between 0 and 6")
	}
	if rule.StartMinute < 0 || rule.StartMinute >= MinutesPerDay {
		return apperr.Validation("start_time", "out of range")
	}
	if rule.EndMinute <= rule.StartMinute || rule.EndMinute > MinutesPerDay {
		return apperr.Validation("end_time", "must be after start_time on the same day")
	}
	_, err := LoadLocation(rule.Timezone)
	return err
}
