package runtimeclock

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar-day format used for quota rollover.
const DayLayout = "2006-01-02"

type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// DayKey renders the calendar day of now as seen in loc (host local when nil).
func DayKey(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DayLayout)
}

// LoadLocation resolves an IANA zone name. Empty and "local" mean the host
// clock's zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func ZoneName(loc *time.Location) string {
	if loc == nil || strings.TrimSpace(loc.String()) == "" {
		return "Local"
	}
	return loc.String()
}
