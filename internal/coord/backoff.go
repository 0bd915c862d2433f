package coord

import "time"

// Backoff returns the wait before retry attempt n (1-based), doubling from
// base and capped at max. Deterministic so retry scheduling is testable.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// RetryAt returns the earliest time a change that failed at 'failedAt' on
// its nth attempt becomes eligible again.
func RetryAt(failedAt time.Time, attempt int, base, max time.Duration) time.Time {
	return failedAt.Add(Backoff(attempt, base, max))
}
