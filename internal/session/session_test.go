package session

import (
	"testing"
	"time"
)

func TestDayBoundaries(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	if got := DayStart(ts, time.UTC); !got.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DayStart = %v", got)
	}
	if got := NextReset(ts, time.UTC); !got.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NextReset = %v", got)
	}
	if got := TimeUntilReset(ts, time.UTC); got != 30*time.Minute {
		t.Errorf("TimeUntilReset = %v", got)
	}
	if got := StatusString(ts, time.UTC); got != "Trading day 2024-03-09, resets in 30m" {
		t.Errorf("StatusString = %q", got)
	}
}

func TestDaily_Due(t *testing.T) {
	start := time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)
	d := NewDaily(start, nil)

	steps := []struct {
		at   time.Time
		want bool
	}{
		{start.Add(time.Hour), false},
		{start.Add(2*time.Hour + time.Second), true}, // 00:00:01 next day
		{start.Add(3 * time.Hour), false},
		{start.Add(-time.Hour), false}, // clock went back
		{start.Add(50 * time.Hour), true},
	}
	for i, s := range steps {
		if got := d.Due(s.at); got != s.want {
			t.Errorf("step %d: Due(%v) = %v, want %v", i, s.at, got, s.want)
		}
	}
	if !d.Day().Equal(time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Day = %v", d.Day())
	}
}

func TestDaily_Location(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+30*60)
	// 19:00 UTC is 00:30 IST the next day
	d := NewDaily(time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC), ist)
	if !d.Due(time.Date(2024, 3, 9, 19, 0, 0, 0, time.UTC)) {
		t.Fatal("IST midnight not detected")
	}
}
