package scheduler

// All values are epoch or duration milliseconds.

// Boundary is the open time of the bar containing now.
func Boundary(now, resolution int64) int64 {
	return now - mod(now, resolution)
}

// Remaining is the time left until frontRun before the next boundary. It can
// be tiny or negative right after a front-run wake-up; see NextDelay.
func Remaining(now, resolution, frontRun int64) int64 {
	return resolution - mod(now, resolution) - frontRun
}

// HasSufficientLeadTime gates start-up: remaining must not be below threshold.
func HasSufficientLeadTime(remaining, threshold int64) bool {
	return remaining >= threshold
}

// NextDelay is the wait before the following tick. A remaining value under a
// quarter resolution means now is already at or past the boundary that was
// just served, so the wait is pushed one full bar out. Never <= 0.
func NextDelay(now, resolution, frontRun int64) int64 {
	remaining := Remaining(now, resolution, frontRun)
	if remaining < resolution>>2 {
		remaining += resolution
	}
	for remaining <= 0 {
		remaining += resolution
	}
	return remaining
}

// FirstDelay is the wait until the front-run point of the bar opening at
// opentime. No quarter guard: that bar is served even when start-up (warmup
// included) ran past its close, in which case the tick fires at once.
func FirstDelay(now, opentime, resolution, frontRun int64) int64 {
	return dueIn(now, opentime, resolution, frontRun)
}

// AlignedDelay is NextDelay for a feed whose next bar opens at next. When
// that bar is already due the wait is cut short and a late feed catches up.
func AlignedDelay(now, next, resolution, frontRun int64) int64 {
	delay := NextDelay(now, resolution, frontRun)
	if due := dueIn(now, next, resolution, frontRun); due < delay {
		return due
	}
	return delay
}

func dueIn(now, opentime, resolution, frontRun int64) int64 {
	d := opentime + resolution - frontRun - now
	if d < 1 {
		return 1
	}
	return d
}

func mod(v, m int64) int64 {
	if m <= 0 {
		return 0
	}
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}
