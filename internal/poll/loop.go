// Package poll tracks a submitted operation until it completes, fails or runs
// out of time.
package poll

import (
	"context"
	"time"

	"veogen/internal/clock"
	"veogen/internal/domain"
	"veogen/internal/infra"
)

const (
	DefaultInitialInterval = 10 * time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 1.2
	DefaultMaxWait         = 600 * time.Second
	DefaultMaxPollErrors   = 3
)

// State is the lifecycle position of an operation.
type State int

const (
	Submitted State = iota
	Polling
	Completed
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == TimedOut
}

// Poller performs one status request.
type Poller interface {
	Poll(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error)
}

// PollerFunc adapts a function to Poller.
type PollerFunc func(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error)

func (f PollerFunc) Poll(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error) {
	return f(ctx, handle)
}

// Result is the terminal outcome of a loop.
type Result struct {
	State       State
	ArtifactURI string
	ErrorInfo   *domain.APIErrorInfo
	Elapsed     time.Duration
	Polls       int
}

// Err converts a Failed or TimedOut result into the matching error.
func (r Result) Err(maxWait time.Duration) error {
	switch r.State {
	case Completed:
		return nil
	case Failed:
		info := domain.APIErrorInfo{}
		if r.ErrorInfo != nil {
			info = *r.ErrorInfo
		}
		e := domain.APIError(0, "", "video generation failed: "+info.String())
		if info.Code > 0 {
			e.StatusCode = info.Code
		}
		e.Retryable = false
		return e
	case TimedOut:
		return domain.TimeoutError(r.Elapsed, maxWait)
	default:
		return domain.APIError(0, "", "operation ended in state "+r.State.String())
	}
}

// Loop polls an operation on a growing interval until a terminal state.
type Loop struct {
	Poller          Poller
	Clock           clock.Clock
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxWait         time.Duration
	MaxPollErrors   int
	Logger          *infra.Logger

	// OnPoll, when set, is called after every successful poll with the
	// elapsed time.
	OnPoll func(elapsed time.Duration, status domain.JobStatus)
}

func (l *Loop) defaults() Loop {
	out := *l
	if out.Clock == nil {
		out.Clock = clock.Real{}
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = DefaultInitialInterval
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = DefaultMaxInterval
	}
	if out.MaxInterval < out.InitialInterval {
		out.MaxInterval = out.InitialInterval
	}
	if out.Multiplier < 1 {
		out.Multiplier = DefaultMultiplier
	}
	if out.MaxWait <= 0 {
		out.MaxWait = DefaultMaxWait
	}
	if out.MaxPollErrors <= 0 {
		out.MaxPollErrors = DefaultMaxPollErrors
	}
	if out.Logger == nil {
		out.Logger = infra.NopLogger()
	}
	return out
}

// Run polls handle until Completed, Failed or TimedOut. The returned error is
// non-nil only for cancellation, a non-transient poll error, or a run of
// MaxPollErrors consecutive transient errors.
func (l *Loop) Run(ctx context.Context, handle domain.OperationHandle) (Result, error) {
	cfg := l.defaults()
	clk := cfg.Clock
	start := clk.Now()
	deadline := start.Add(cfg.MaxWait)
	interval := cfg.InitialInterval
	consecutiveErrors := 0
	res := Result{State: Submitted}

	for {
		elapsed := clk.Now().Sub(start)
		res.Elapsed = elapsed
		if elapsed > cfg.MaxWait {
			res.State = TimedOut
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, domain.CancelledError("poll", err)
		}

		res.State = Polling
		status, err := cfg.Poller.Poll(ctx, handle)
		res.Polls++
		res.Elapsed = clk.Now().Sub(start)

		if err != nil {
			if ctx.Err() != nil {
				return res, domain.CancelledError("poll", ctx.Err())
			}
			if !domain.IsTransient(err) {
				return res, err
			}
			consecutiveErrors++
			cfg.Logger.Warn().
				Err(err).
				Str("operation", handle.Name).
				Int("consecutive_errors", consecutiveErrors).
				Msg("poll: transient error")
			if consecutiveErrors >= cfg.MaxPollErrors {
				return res, err
			}
		} else {
			consecutiveErrors = 0
			if cfg.OnPoll != nil {
				cfg.OnPoll(res.Elapsed, status)
			}
			if status.Done {
				if clk.Now().After(deadline) {
					res.State = TimedOut
					return res, nil
				}
				if status.ErrorInfo != nil {
					res.State = Failed
					res.ErrorInfo = status.ErrorInfo
					return res, nil
				}
				res.State = Completed
				res.ArtifactURI = status.ArtifactURI
				return res, nil
			}
		}

		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			res.State = TimedOut
			res.Elapsed = clk.Now().Sub(start)
			return res, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if sleepErr := clk.Sleep(ctx, wait); sleepErr != nil {
			return res, domain.CancelledError("poll", sleepErr)
		}
		if err == nil {
			interval = nextInterval(interval, cfg.Multiplier, cfg.MaxInterval)
		}
	}
}

func nextInterval(current time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > ceiling {
		return ceiling
	}
	return next
}
