package main

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

// backoff doubles the idle wait after each failed batch up to ceiling and
// snaps back to base once a batch succeeds.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(base, ceiling time.Duration) *backoff {
	return &backoff{base: base, ceiling: ceiling, current: base}
}

func (b *backoff) fail() time.Duration {
	b.current = min(max(b.current, b.base)*2, b.ceiling)
	return b.current
}

func (b *backoff) reset() time.Duration {
	b.current = b.base
	return b.current
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

// sleep waits for d or until ctx ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
