package jobs

import "time"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 2 * time.Minute
)

// Backoff returns the delay before the given retry attempt (1-based),
// doubling each attempt up to maxDelay.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
