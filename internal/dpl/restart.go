package dpl

import "time"

// computeNextRestart returns the next occurrence of hour:00 strictly after
// wallClock, robust to crossing midnight. hour < 0 or hour > 23 disables the
// feature (ok = false).
func computeNextRestart(wallClock time.Time, hour int) (next time.Time, ok bool) {
	if hour < 0 || hour > 23 {
		return time.Time{}, false
	}

	next = time.Date(wallClock.Year(), wallClock.Month(), wallClock.Day(), hour, 0, 0, 0, wallClock.Location())
	if !next.After(wallClock) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true
}
