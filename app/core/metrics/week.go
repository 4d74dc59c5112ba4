package metrics

import "time"

// dayNames in week order, Monday first.
var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// weekBounds returns Monday 00:00:00 and Sunday 23:59:59 of the week
// containing now shifted by weekOffset weeks, in the reference location.
func weekBounds(now time.Time, weekOffset int, loc *time.Location) (time.Time, time.Time) {
	shifted := now.In(loc).AddDate(0, 0, 7*weekOffset)

	daysSinceMonday := (int(shifted.Weekday()) + 6) % 7
	monday := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -daysSinceMonday)
	sunday := monday.AddDate(0, 0, 6).Add(23*time.Hour + 59*time.Minute + 59*time.Second)

	return monday, sunday
}

// weekdayIndex maps a time to its Monday-first weekday index.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
