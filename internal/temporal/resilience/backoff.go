package resilience

import "time"

// Backoff computes the delay before retry attempt (0-indexed): initial grown
// by multiplier per attempt and capped at maxBackoff. A multiplier below 1
// is treated as 1; a zero maxBackoff disables the cap.
func Backoff(initial time.Duration, multiplier float64, maxBackoff time.Duration, attempt int) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := initial
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if maxBackoff > 0 && backoff > maxBackoff {
			return maxBackoff
		}
	}
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
