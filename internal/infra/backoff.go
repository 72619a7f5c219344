package infra

import (
	"time"
)

// Retry pacing shared by the broker's submission retries and the
// websocket reconnect loop: a doubling schedule from one second, capped
// at one minute. The broker walks only the first few steps (its retry
// budget is small); the reconnect loop keeps drawing the cap.
const (
	retryBase = time.Second
	retryCap  = time.Minute
)

// CalculateBackoff returns the pause before retry attempt n: 1s, 2s, 4s,
// doubling up to the cap. Attempts below zero pace like the first.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^6 seconds already exceeds the cap.
	if attempt > 5 {
		return retryCap
	}

	d := retryBase << uint(attempt)
	if d > retryCap {
		return retryCap
	}
	return d
}
