package supervisor

// ExponentialBackoffMs returns the delay before retry attempt (1-indexed),
// doubling each attempt and capped at maxMs (spec §4.D "exponential backoff:
// min(base * 2^(attempt-1), max)").
func ExponentialBackoffMs(attempt int, baseMs, maxMs int64) int64 {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseMs
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxMs {
			return maxMs
		}
	}
	if delay > maxMs {
		delay = maxMs
	}
	return delay
}
