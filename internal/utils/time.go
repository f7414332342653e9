package utils

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/constants"
)

// LoadLocation loads a timezone location from an IANA timezone name.
// If the timezone is "Local" or empty, it returns the system's local timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return loc, nil
}

// ValidateTimezone checks if the timezone name is valid.
func ValidateTimezone(timezone string) bool {
	_, err := LoadLocation(timezone)
	return err == nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Day is a calendar date with no time or zone attached.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// Ordinal returns a day number where consecutive calendar days differ by exactly one.
// It is computed in UTC so DST transitions in the source zone cannot skew it.
func (d Day) Ordinal() int64 {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func (d Day) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(constants.DateFormat)
}

// CalendarDaysBetween returns the number of calendar day boundaries between a and b in
// loc. It is negative when b is before a.
func CalendarDaysBetween(a, b time.Time, loc *time.Location) int {
	return int(DayOf(b, loc).Ordinal() - DayOf(a, loc).Ordinal())
}

// FormatTimestamp renders t in the stored UTC layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(constants.TimestampLayout)
}

// ParseTimestamp parses a stored timestamp. RFC3339 values are accepted as well so
// documents written by other clients still load.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(constants.TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
