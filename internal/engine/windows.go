package engine

import "time"

// isToday reports whether start and now fall on the same calendar date in
// their own locations. Clinic scheduling is calendar-based, not 24h-based.
func isToday(start, now time.Time) bool {
	sy, sm, sd := start.Date()
	ny, nm, nd := now.Date()
	return sy == ny && sm == nm && sd == nd
}

// isNearFuture reports whether start's calendar date is strictly later than
// now's. Today and the past are excluded.
func isNearFuture(start, now time.Time) bool {
	sy, sm, sd := start.Date()
	ny, nm, nd := now.Date()
	if sy != ny {
		return sy > ny
	}
	if sm != nm {
		return sm > nm
	}
	return sd > nd
}

// inWindow reports whether start sits inside the half-open interval
// [now, now+window). The window opens exactly at trigger time and closes
// the instant now passes start.
func inWindow(now, start time.Time, window time.Duration) bool {
	return !start.Before(now) && start.Before(now.Add(window))
}
