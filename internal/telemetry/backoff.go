package telemetry

import "time"

// maxShift bounds the exponent so 1<<attempt cannot overflow.
const maxShift = 30

// backoffDelay returns the reconnection delay for attempt n (0-based):
// base doubled n times, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift || base > max>>uint(attempt) {
		return max
	}
	return base << uint(attempt)
}
