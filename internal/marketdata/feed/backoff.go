package feed

import (
	"time"

	"github.com/jpillora/backoff"
)

// Backoff computes reconnect delays: min(base * 2^attempt, cap), no jitter.
type Backoff struct {
	b backoff.Backoff
}

// NewBackoff returns a Backoff with the given base and cap.
func NewBackoff(base, cap time.Duration) Backoff {
	return Backoff{b: backoff.Backoff{
		Min:    base,
		Max:    cap,
		Factor: 2,
		Jitter: false,
	}}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.b.ForAttempt(float64(attempt))
}

// Cap returns the longest delay, which is also the length of one backoff
// cycle for the attempt-reset rule.
func (b Backoff) Cap() time.Duration { return b.b.Max }
