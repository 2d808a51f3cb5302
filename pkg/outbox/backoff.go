package outbox

import "time"

const (
	maxBackoff         = 60 * time.Minute
	backoffCapExponent = 6
)

// Backoff returns min(2^attempts minutes, 60 minutes).
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= backoffCapExponent {
		return maxBackoff
	}
	wait := time.Duration(1<<uint(attempts)) * time.Minute
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}
