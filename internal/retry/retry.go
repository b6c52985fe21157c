// Package retry implements capped exponential backoff for retrying operations.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// Policy is the backoff schedule. Delay(n) = min(Start * Factor^n, Border),
// where n counts consecutive failures starting at 0.
type Policy struct {
	Start       time.Duration
	Factor      float64
	Border      time.Duration
	MaxAttempts int // total attempts including the first; 0 means unlimited
}

// DefaultPolicy returns the loader's default schedule: 0.1s, 0.2s, 0.4s, ... capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		Start:       100 * time.Millisecond,
		Factor:      2,
		Border:      10 * time.Second,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before the retry that follows failure number n (0-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := float64(p.Start) * math.Pow(p.Factor, float64(n))
	if delay > float64(p.Border) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.Border
	}
	return time.Duration(delay)
}

// Retrier runs operations under a Policy. The zero value of optional fields
// selects defaults: models.IsTransient decides what is retryable and the
// sleep honours context cancellation.
type Retrier struct {
	Policy    Policy
	Logger    *slog.Logger
	Retryable func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier for the given policy.
func New(p Policy, logger *slog.Logger) *Retrier {
	return &Retrier{Policy: p, Logger: logger}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// ceiling is reached or ctx is cancelled. Retry state is local to the call.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = models.IsTransient
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for failures := 0; ; failures++ {
		err := fn(ctx)
		if err == nil {
			if failures > 0 {
				logger.Info("operation recovered", "op", op, "attempts", failures+1)
			}
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		attempt := failures + 1
		if r.Policy.MaxAttempts > 0 && attempt >= r.Policy.MaxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt, err)
		}

		delay := r.Policy.Delay(failures)
		logger.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: retry interrupted: %w (last error: %v)", op, serr, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
