package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a processing poll loop.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	// Backoff multiplies the interval after each attempt; values below 1 keep it fixed.
	Backoff     float64
	MaxInterval time.Duration
}

// DefaultPolicy is used when a channel has no tuning.
var DefaultPolicy = Policy{MaxAttempts: 60, Interval: 30 * time.Second}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the sleep after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Interval
	if p.Backoff > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Backoff)
			if p.MaxInterval > 0 && d >= p.MaxInterval {
				return p.MaxInterval
			}
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Bound is the worst-case total time spent sleeping between attempts.
func (p Policy) Bound() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < p.attempts(); attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// CheckFunc reports whether the remote side has finished. Returning an error
// wrapping ErrTransient means "not yet"; any other error ends the loop.
type CheckFunc func(ctx context.Context, attempt int) (done bool, err error)

// Poll runs check until it reports done, observing cancellation before every
// attempt. Exhausting the policy yields ErrTimeout.
func Poll(ctx context.Context, sess *Session, policy Policy, what string, check CheckFunc) error {
	attempts := policy.attempts()
	var lastTransient error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sess.Checkpoint(ctx); err != nil {
			return err
		}
		done, err := check(ctx, attempt)
		switch {
		case err == nil && done:
			return nil
		case err != nil && errors.Is(err, ErrTransient):
			lastTransient = err
			sess.Logger().Debug("transient poll error", "what", what, "attempt", attempt, "error", err)
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sess.Checkpoint(ctx)
			}
			return err
		}
		if attempt == attempts {
			break
		}
		if err := sess.Wait(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	if lastTransient != nil {
		return fmt.Errorf("%w: %s not finished after %d attempts (%s); last error: %v", ErrTimeout, what, attempts, policy.Bound(), lastTransient)
	}
	return fmt.Errorf("%w: %s not finished after %d attempts (%s)", ErrTimeout, what, attempts, policy.Bound())
}
