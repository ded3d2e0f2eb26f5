package generate

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case. Injectable so tests can simulate elapsed time.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is the retry schedule applied to transient client failures.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delays holds the backoff before attempt 2, 3, ... The last entry
	// repeats if Attempts exceeds len(Delays)+1.
	Delays []time.Duration
	Sleep  SleepFunc
}

// DefaultPolicy retries 3 times total with 1s, 2s, 4s backoff.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Delays:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Sleep:    sleepCtx,
	}
}

// delay returns the backoff to insert after the given failed attempt
// (1-based).
func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	return p.Delays[i]
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
