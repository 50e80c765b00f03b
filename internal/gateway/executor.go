package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/apperr"
)

// CallConfig bounds a single logical remote call.
type CallConfig struct {
	Timeout        time.Duration `default:"4s"    usage:"Per-attempt timeout for remote calls"`
	MaxAttempts    int           `default:"3"     usage:"Attempts per remote call, including the first"`
	InitialBackoff time.Duration `default:"100ms" usage:"Delay before the first retry"`
	MaxBackoff     time.Duration `default:"1s"    usage:"Upper bound of the retry delay"`
}

// DefaultCallConfig returns the call policy used for remote authorities.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		Timeout:        4 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Fallback produces the result of a call that could not be completed because
// the breaker is open or every attempt failed. It must return a failure.
type Fallback[T any] func(ctx context.Context, cause error) (T, error)

// Executor runs calls to one target through its breaker with a timeout,
// bounded retries and a fallback.
type Executor struct {
	target  string
	breaker *Breaker
	cfg     CallConfig
	now     func() time.Time
}

// NewExecutor creates an Executor for the breaker's target.
func NewExecutor(b *Breaker, cfg CallConfig) *Executor {
	d := DefaultCallConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Executor{
		target:  b.Name(),
		breaker: b,
		cfg:     cfg,
		now:     b.now,
	}
}

// Target returns the name of the remote authority.
func (e *Executor) Target() string { return e.target }

// Breaker returns the breaker guarding the target.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Once returns a copy of e that performs a single attempt per call. It is
// used for non-idempotent writes.
func (e *Executor) Once() *Executor {
	c := *e
	c.cfg.MaxAttempts = 1
	return &c
}

// budget is the longest a logical call may take across all attempts.
func (e *Executor) budget() time.Duration {
	n := time.Duration(e.cfg.MaxAttempts)
	return e.cfg.Timeout*n + e.cfg.MaxBackoff*(n-1)
}

func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Execute runs call against e's target.
//
// Each attempt asks the breaker for permission, runs under the per-attempt
// timeout and records its outcome. ServiceUnavailable failures are retried
// while attempts remain; NotFound and ValidationFailed are returned as is and
// do not count as breaker failures. When the breaker rejects the call or the
// attempts are exhausted, fallback decides the result.
func Execute[T any](ctx context.Context, e *Executor, call func(ctx context.Context) (T, error), fallback Fallback[T]) (T, error) {
	lg := zctx.From(ctx).With(zap.String("target", e.target))

	attempt := 0
	op := func() (T, error) {
		var zero T
		attempt++
		if err := e.breaker.Allow(); err != nil {
			return zero, backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		start := e.now()
		v, err := call(callCtx)
		elapsed := e.now().Sub(start)
		cancel()

		if err != nil && ctx.Err() != nil {
			// Caller gave up; the dependency is not at fault.
			e.breaker.Release()
			return zero, backoff.Permanent(ctx.Err())
		}
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = apperr.Unavailable(e.target, apperr.ReasonTimeout, err)
		}
		e.breaker.Record(elapsed, countsAsFailure(err))
		if err == nil {
			return v, nil
		}
		if apperr.KindOf(err) == apperr.ServiceUnavailable {
			lg.Warn("Remote call failed",
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			return zero, err
		}
		return zero, backoff.Permanent(err)
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(e.budget()),
	)
	if err == nil {
		return v, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return v, err
	}
	if errors.Is(err, ErrOpen) || apperr.KindOf(err) == apperr.ServiceUnavailable {
		lg.Warn("Using fallback",
			zap.Int("attempts", attempt),
			zap.Stringer("breaker", e.breaker.State()),
			zap.Error(err),
		)
		return fallback(ctx, err)
	}
	return v, err
}

// countsAsFailure reports whether err reflects on the health of the target.
// Answers that the target produced deliberately are successes.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound, apperr.ValidationFailed, apperr.StockInsufficient:
		return false
	default:
		return true
	}
}

// unavailable builds the ServiceUnavailable error returned by fallbacks.
func unavailable(target string, cause error) error {
	reason := apperr.ReasonOf(cause)
	switch {
	case errors.Is(cause, ErrOpen):
		reason = apperr.ReasonCircuitOpen
	case reason == "":
		reason = apperr.ReasonUpstreamError
	}
	return apperr.Unavailable(target, reason, cause)
}
