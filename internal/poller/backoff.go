package poller

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff returns the deterministic schedule min(maxDelay, base*2^n). A maxDelay
// of zero or less leaves the schedule uncapped.
func newBackOff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(base, maxDelay)
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Schedule lists the first n waits of the retry schedule.
func Schedule(base, maxDelay time.Duration, n int) []time.Duration {
	b := newBackOff(base, maxDelay)
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
