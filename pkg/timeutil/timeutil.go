// Package timeutil provides timezone-aware day arithmetic and an injectable clock.
// The service timezone is configurable (APP_TIMEZONE); every calendar-day
// decision (streaks, default log dates) goes through these helpers so that
// "today" means the same thing everywhere.
// No external dependencies - uses only standard library.
package timeutil

import (
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the wall clock so day boundaries can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant until moved.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock creates a FixedClock set to t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// AddDays moves the clock forward by n calendar days.
func (c *FixedClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.AddDate(0, 0, n)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCATION
// ══════════════════════════════════════════════════════════════════════════════

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY ARITHMETIC
// ══════════════════════════════════════════════════════════════════════════════

// Common date/time formats.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04:05"
)

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	loc = orUTC(loc)
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsSameDay checks if two instants fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return StartOfDay(t1, loc).Equal(StartOfDay(t2, loc))
}

// IsConsecutiveDay checks if t2 falls on the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 1
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
// Calendar arithmetic is used so DST shifts never produce fractional days.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	loc = orUTC(loc)
	a, b := t1.In(loc), t2.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// FormatDateIn formats t as YYYY-MM-DD in loc.
func FormatDateIn(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(FormatDate)
}

// ParseDateIn parses a YYYY-MM-DD string as midnight in loc.
func ParseDateIn(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, orUTC(loc))
}
