package models

import "time"

// Interval is the named spacing between two reposts of a task
type Interval string

const (
	Minutely Interval = "minutely"
	Hourly   Interval = "hourly"
	Daily    Interval = "daily"
	Weekly   Interval = "weekly"
	Monthly  Interval = "monthly"
	Yearly   Interval = "yearly"
)

// Intervals lists every supported interval, shortest first.
var Intervals = []Interval{Minutely, Hourly, Daily, Weekly, Monthly, Yearly}

var intervalDurations = map[Interval]time.Duration{
	Minutely: time.Minute,
	Hourly:   time.Hour,
	Daily:    24 * time.Hour,
	Weekly:   7 * 24 * time.Hour,
	Monthly:  30 * 24 * time.Hour,
	Yearly:   365 * 24 * time.Hour,
}

// Duration returns the fixed duration bound to the interval, or zero if unknown.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether i is a supported interval
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// HighFrequency reports whether i belongs to the class subject to the per-user cap.
func (i Interval) HighFrequency() bool {
	return i == Minutely || i == Hourly || i == Daily
}

func (i Interval) String() string {
	return string(i)
}

// IntervalFromDuration maps a persisted duration back to its interval
func IntervalFromDuration(d time.Duration) (Interval, bool) {
	for interval, duration := range intervalDurations {
		if duration == d {
			return interval, true
		}
	}
	return "", false
}
