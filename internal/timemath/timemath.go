// Package timemath computes trigger instants for weekly recurring alarms.
//
// Day masks use ISO week order: Monday is bit 0 and Sunday is bit 6. This is
// independent of time.Weekday, which numbers Sunday as 0.
package timemath

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DayMask is a 7-bit weekday selector.
type DayMask uint8

const (
	Monday DayMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
	Weekends = Saturday | Sunday
	Daily    = Weekdays | Weekends
)

// maskBit maps time.Weekday to the ISO bit index.
var maskBit = [7]int{
	time.Sunday:    6,
	time.Monday:    0,
	time.Tuesday:   1,
	time.Wednesday: 2,
	time.Thursday:  3,
	time.Friday:    4,
	time.Saturday:  5,
}

var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// BitIndex returns the mask bit for a weekday (Monday=0 ... Sunday=6).
func BitIndex(wd time.Weekday) int {
	return maskBit[wd]
}

// Has reports whether the weekday's bit is set.
func (m DayMask) Has(wd time.Weekday) bool {
	return (m>>BitIndex(wd))&1 == 1
}

// Valid reports whether m selects at least one day and nothing else.
func (m DayMask) Valid() bool {
	return m != 0 && m&^Daily == 0
}

func (m DayMask) String() string {
	if m&Daily == 0 {
		return "none"
	}
	var names []string
	for i, n := range dayNames {
		if m&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, ",")
}

// ParseDays parses a comma separated day list ("mon,wed"), one of the
// shorthands "daily", "weekdays", "weekends", or a decimal mask.
func ParseDays(s string) (DayMask, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "once":
		return 0, nil
	case "daily", "everyday":
		return Daily, nil
	case "weekdays":
		return Weekdays, nil
	case "weekends":
		return Weekends, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > int(Daily) {
			return 0, fmt.Errorf("day mask %d out of range", n)
		}
		return DayMask(n), nil
	}
	var m DayMask
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if len(part) < 3 {
			return 0, fmt.Errorf("unknown day %q", part)
		}
		found := false
		for i, n := range dayNames {
			if strings.EqualFold(part[:3], n) {
				m |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown day %q", part)
		}
	}
	return m, nil
}

// NextOccurrence returns the first instant strictly after now that falls on
// hour:minute of a day selected by mask. It returns false when mask selects
// no day.
func NextOccurrence(now time.Time, hour, minute int, mask DayMask) (time.Time, bool) {
	if mask&Daily == 0 {
		return time.Time{}, false
	}

	y, mo, d := now.Date()
	loc := now.Location()
	start := 0
	if !time.Date(y, mo, d, hour, minute, 0, 0, loc).After(now) {
		start = 1
	}

	for i := start; i < start+7; i++ {
		candidate := time.Date(y, mo, d+i, hour, minute, 0, 0, loc)
		if mask.Has(candidate.Weekday()) && candidate.After(now) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// Weekly is a cron.Schedule firing at Hour:Minute on the days of Mask.
type Weekly struct {
	Hour   int
	Minute int
	Mask   DayMask
}

var _ cron.Schedule = Weekly{}

// Next implements cron.Schedule. The zero time means "never".
func (w Weekly) Next(t time.Time) time.Time {
	next, ok := NextOccurrence(t, w.Hour, w.Minute, w.Mask)
	if !ok {
		return time.Time{}
	}
	return next
}

// CronSpec renders the equivalent standard five-field cron expression.
// Cron numbers Sunday as 0.
func CronSpec(hour, minute int, mask DayMask) string {
	var dows []string
	for _, wd := range []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
		if mask.Has(wd) {
			dows = append(dows, strconv.Itoa(int(wd)))
		}
	}
	if len(dows) == 7 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(dows, ","))
}
