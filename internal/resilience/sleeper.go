package resilience

import (
	"context"
	"time"
)

// Sleeper pauses the control loop. Implementations must return ctx.Err()
// as soon as ctx is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done, whichever comes first.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SinkBackoff returns min(2^failures, limit) seconds.
func SinkBackoff(failures int, limit time.Duration) time.Duration {
	if failures < 0 {
		failures = 0
	}
	// 2^30s already exceeds any sensible limit and avoids overflow.
	if failures >= 30 {
		return limit
	}
	backoff := time.Duration(1<<failures) * time.Second
	return min(backoff, limit)
}
