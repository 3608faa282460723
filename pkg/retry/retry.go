// Package retry runs an operation a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// ErrReportedFailure stands in for the error of an attempt that returned false without one.
var ErrReportedFailure = errors.New("operation reported failure")

// Op is one attempt. Returning false or a non-nil error both count as a failed attempt.
type Op func(ctx context.Context) (bool, error)

type Policy struct {
	Name        string
	MaxAttempts int
	// Backoff is the delay after the first failure; it doubles after each later one.
	Backoff time.Duration
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Permanent reports errors that no later attempt can fix. Do returns on them at once.
	Permanent func(err error) bool
}

// Result is the outcome of Do. Err holds the last attempt's error when OK is false.
type Result struct {
	OK       bool
	Attempts int
	Err      error
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return backoff << (attempt - 1)
}

func Do(ctx context.Context, p Policy, op Op) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		ok, err := op(ctx)
		if err == nil && ok {
			res.OK = true
			res.Err = nil
			return res
		}
		if err == nil {
			err = ErrReportedFailure
		}
		res.Err = err

		if p.Permanent != nil && p.Permanent(err) {
			log.Warn().Err(err).Str("op", p.Name).Int("attempt", attempt).Msg("permanent failure, not retrying")
			break
		}
		if attempt == maxAttempts {
			log.Error().Err(err).Str("op", p.Name).Int("attempts", maxAttempts).Msg("giving up")
			break
		}

		delay := p.Delay(attempt)
		log.Warn().Err(err).Str("op", p.Name).
			Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Dur("retry_in", delay).Msg("attempt failed, retrying")

		if err := sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("%w (retry aborted: %v)", res.Err, err)
			break
		}
	}
	return res
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
