package parawork

import "time"

// isRetriable reports whether a processing error should trigger a retry
// rather than a terminal failure. Every non-nil error is retriable today;
// this is the seam a future poison-message classifier would hang off of.
func isRetriable(err error) bool {
	return err != nil
}

// backoffForAttempt computes the delay before a work container's next
// attempt: base * 2^attempt, capped at 60 seconds. Grounded in the
// exponential-backoff-with-cap policy from the teacher's error tracking.
func backoffForAttempt(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20 // avoid overflowing the shift before the cap kicks in
	}
	backoff := base * time.Duration(1<<uint(attempt))
	const cap = 60 * time.Second
	if backoff > cap || backoff < 0 {
		backoff = cap
	}
	return backoff
}
