package util

import (
	"strconv"
	"time"
)

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", time.DateOnly}

// ParseTime accepts RFC3339, a minute-precision timestamp, a plain date or
// unix seconds. Inputs without a zone are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// HourFloor truncates t to the start of its UTC hour.
func HourFloor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// DayAheadCutoff is the auction gate closure for the delivery day containing
// t: hour o'clock local time on the previous day.
func DayAheadCutoff(t time.Time, loc *time.Location, hour int) time.Time {
	d := StartOfDay(t, loc)
	return time.Date(d.Year(), d.Month(), d.Day()-1, hour, 0, 0, 0, loc).UTC()
}

// SplitDays cuts [from, to) into consecutive chunks of at most days days.
func SplitDays(from, to time.Time, days int) []Range {
	if days <= 0 {
		days = 1
	}
	var out []Range
	for start := from; start.Before(to); {
		end := start.AddDate(0, 0, days)
		if end.After(to) {
			end = to
		}
		out = append(out, Range{From: start, To: end})
		start = end
	}
	return out
}

// SplitMonths cuts [from, to) at calendar month boundaries in loc.
func SplitMonths(from, to time.Time, loc *time.Location) []Range {
	var out []Range
	for start := from; start.Before(to); {
		l := start.In(loc)
		end := time.Date(l.Year(), l.Month()+1, 1, 0, 0, 0, 0, loc)
		if end.After(to) {
			end = to
		}
		out = append(out, Range{From: start, To: end})
		start = end
	}
	return out
}
