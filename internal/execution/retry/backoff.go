package retry

import "time"

// Backoff returns base * 2^(attempt-1). Attempts are 1-indexed; there is no
// jitter and no cap.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
