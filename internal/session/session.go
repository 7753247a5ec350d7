// Package session defines the trading-day boundary used for daily risk
// resets. Crypto markets trade around the clock, so a "day" is simply a
// calendar day in a fixed location (UTC by default).
package session

import (
	"fmt"
	"sync"
	"time"
)

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextReset returns the next day boundary strictly after t.
func NextReset(t time.Time, loc *time.Location) time.Time {
	return DayStart(t, loc).AddDate(0, 0, 1)
}

// TimeUntilReset returns the duration until the next day boundary.
func TimeUntilReset(t time.Time, loc *time.Location) time.Duration {
	return NextReset(t, loc).Sub(t)
}

// Daily tracks the current trading day and reports when it rolls over.
type Daily struct {
	loc *time.Location

	mu  sync.Mutex
	day time.Time
}

// NewDaily starts tracking at now. A nil loc means UTC.
func NewDaily(now time.Time, loc *time.Location) *Daily {
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{loc: loc, day: DayStart(now, loc)}
}

// Due reports whether now is on a later day than the last call that
// returned true (or construction), and advances to now's day if so.
// Clocks moving backwards never trigger a reset.
func (d *Daily) Due(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	today := DayStart(now, d.loc)
	if !today.After(d.day) {
		return false
	}
	d.day = today
	return true
}

// Day returns the start of the current trading day.
func (d *Daily) Day() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.day
}

// StatusString returns a human-readable session status.
func StatusString(t time.Time, loc *time.Location) string {
	return fmt.Sprintf("Trading day %s, resets in %s",
		DayStart(t, loc).Format("2006-01-02"), fmtDur(TimeUntilReset(t, loc)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
