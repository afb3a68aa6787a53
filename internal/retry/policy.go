// Package retry runs a single network operation under a bounded exponential
// backoff schedule. Only errors the classifier reports as transient are retried.
package retry

import (
	"context"
	"math"
	"time"

	"veogen/internal/clock"
	"veogen/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// Operation is one attempt of the wrapped call. attempt is 1-indexed.
type Operation func(ctx context.Context, attempt int) error

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Stats describes how an operation was executed.
type Stats struct {
	Attempts int
	Elapsed  time.Duration
	Delays   []time.Duration
}

// Policy is an exponential backoff schedule:
// Delay(n) = min(MaxDelay, BaseDelay * 2^(n-1)).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       clock.Clock

	// OnRetry, when set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns 3 attempts with delays growing from 1s to at most 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// IsTransient is the default classifier.
func IsTransient(err error) bool {
	return domain.IsTransient(err)
}

// Delay returns the wait between attempt n and n+1 (n is 1-indexed).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do invokes op until it succeeds, returns a non-transient error, or
// MaxAttempts is reached. The last error is returned unmodified. A cancelled
// ctx interrupts the wait between attempts with a KindCancelled error.
func (p Policy) Do(ctx context.Context, op Operation, classify Classifier) (Stats, error) {
	if classify == nil {
		classify = IsTransient
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := clk.Now()
	var stats Stats
	for attempt := 1; ; attempt++ {
		stats.Attempts = attempt
		err := op(ctx, attempt)
		if err == nil {
			stats.Elapsed = clk.Now().Sub(start)
			return stats, nil
		}
		if attempt >= maxAttempts || !classify(err) || ctx.Err() != nil {
			stats.Elapsed = clk.Now().Sub(start)
			return stats, err
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		stats.Delays = append(stats.Delays, delay)
		if sleepErr := clk.Sleep(ctx, delay); sleepErr != nil {
			stats.Elapsed = clk.Now().Sub(start)
			return stats, domain.CancelledError("retry wait", sleepErr)
		}
	}
}
