package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the wire form of a calendar date.
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical time-of-day form stored on a slot.
	ClockLayout = "15:04"
)

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls within the range, ignoring time of day.
func (r DateRange) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(r.From) && !d.After(r.To)
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// DateOf strips the time of day from t, keeping its calendar date as seen in
// t's own location, and returns it at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a calendar date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, invalidArgument("date %q must be YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseClock validates a time of day and returns its canonical HH:MM form.
// Seconds are accepted and dropped.
func ParseClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == len("15:04:05") {
		s = s[:5]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return "", invalidArgument("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", invalidArgument("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", invalidArgument("time %q has an invalid minute", s)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// Resolve returns the instant at which (date, clock) happens in loc.
func Resolve(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	canonical, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	h, _ := strconv.Atoi(canonical[:2])
	m, _ := strconv.Atoi(canonical[3:])
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

// DaysIn returns the number of days of month in year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayRange is the single-day range for d.
func DayRange(d time.Time) DateRange {
	d = DateOf(d)
	return DateRange{From: d, To: d}
}

// MonthRange returns the first and last day of month in year.
func MonthRange(month, year int) (DateRange, error) {
	if month < 1 || month > 12 {
		return DateRange{}, invalidArgument("month %d must be between 1 and 12", month)
	}
	if err := checkYear(year); err != nil {
		return DateRange{}, err
	}
	first := NewDate(year, time.Month(month), 1)
	last := NewDate(year, time.Month(month), DaysIn(year, time.Month(month)))
	return DateRange{From: first, To: last}, nil
}

// ISOWeekRange returns Monday..Sunday of ISO-8601 week `week` of `year`.
// Week 1 is the week containing January 4th.
func ISOWeekRange(week, year int) (DateRange, error) {
	if err := checkYear(year); err != nil {
		return DateRange{}, err
	}
	if week < 1 || week > ISOWeeksInYear(year) {
		return DateRange{}, invalidArgument("week %d is not an ISO week of %d", week, year)
	}
	jan4 := NewDate(year, time.January, 4)
	offset := (int(jan4.Weekday()) + 6) % 7 // days since Monday
	monday := jan4.AddDate(0, 0, -offset+(week-1)*7)
	return DateRange{From: monday, To: monday.AddDate(0, 0, 6)}, nil
}

// ISOWeeksInYear is 53 for long ISO years and 52 otherwise.
func ISOWeeksInYear(year int) int {
	_, w := NewDate(year, time.December, 28).ISOWeek()
	return w
}

func checkYear(year int) error {
	if year < 1 || year > 9999 {
		return invalidArgument("year %d is out of range", year)
	}
	return nil
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
