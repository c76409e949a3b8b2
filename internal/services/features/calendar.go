package features

import (
	"fmt"
	"time"
)

// FixedCalendar marks the same month-day pairs as holidays every year.
type FixedCalendar struct {
	loc  *time.Location
	days map[string]struct{}
}

// NewFixedCalendar accepts "MM-DD" entries evaluated in loc.
func NewFixedCalendar(loc *time.Location, monthDays []string) (*FixedCalendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := &FixedCalendar{loc: loc, days: make(map[string]struct{}, len(monthDays))}
	for _, md := range monthDays {
		if _, err := time.Parse("01-02", md); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", md, err)
		}
		c.days[md] = struct{}{}
	}
	return c, nil
}

func (c *FixedCalendar) IsHoliday(t time.Time) bool {
	_, ok := c.days[t.In(c.loc).Format("01-02")]
	return ok
}
