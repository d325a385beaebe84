package cfn

import (
	"context"
	"fmt"
	"math"
	"time"
)

// waitInterval returns the poll delay for the given time since the wait
// started. Intervals grow with the square root of elapsed time so that
// long-running stack operations are polled less and less aggressively.
func waitInterval(elapsed time.Duration) time.Duration {
	secs := int(math.Sqrt(elapsed.Seconds())*2.5) + 4
	return time.Duration(secs) * time.Second
}

// waiter paces a polling loop. A zero timeout means the wait is bounded
// only by context cancellation.
type waiter struct {
	start   time.Time
	timeout time.Duration
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

func newWaiter(timeout time.Duration) *waiter {
	return &waiter{
		start:   time.Now(),
		timeout: timeout,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// wait blocks for the next poll interval. It fails once elapsed time
// exceeds the timeout; callers treat that the same way as a remote
// failure.
func (w *waiter) wait(ctx context.Context) error {
	elapsed := w.now().Sub(w.start)
	if w.timeout > 0 && elapsed > w.timeout {
		return fmt.Errorf("operation timed out after %s", w.timeout)
	}
	return w.sleep(ctx, waitInterval(elapsed))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
