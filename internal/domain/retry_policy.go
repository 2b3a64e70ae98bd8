package domain

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultNotificationBackoff is the wait before the next attempt, indexed by the
// number of attempts already made.
var DefaultNotificationBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
}

const DefaultNotificationMaxRetries = 5

// RetryPolicy gates notification retries with a fixed backoff schedule.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration
}

func DefaultNotificationPolicy() RetryPolicy {
	schedule := make([]time.Duration, len(DefaultNotificationBackoff))
	copy(schedule, DefaultNotificationBackoff)
	return RetryPolicy{
		MaxRetries: DefaultNotificationMaxRetries,
		Backoff:    schedule,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1", ErrValidation)
	}
	if len(p.Backoff) == 0 {
		return fmt.Errorf("%w: backoff schedule is empty", ErrValidation)
	}
	for i, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("%w: backoff step %d is negative", ErrValidation, i)
		}
		if i > 0 && d < p.Backoff[i-1] {
			return fmt.Errorf("%w: backoff schedule must not decrease (step %d)", ErrValidation, i)
		}
	}
	return nil
}

// RequiredDelay is the minimum time since the last attempt before attempt number
// attemptCount+1 may run.
func (p RetryPolicy) RequiredDelay(attemptCount int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := min(max(attemptCount, 0), len(p.Backoff)-1)
	return p.Backoff[idx]
}

// IsDue reports whether enough time has elapsed since lastAttempt.
func (p RetryPolicy) IsDue(attemptCount int, lastAttempt, now time.Time) bool {
	return now.Sub(lastAttempt) >= p.RequiredDelay(attemptCount)
}

func (p RetryPolicy) Exhausted(attemptCount int) bool {
	return attemptCount >= p.MaxRetries
}

// PaymentBackoff is the exponential curve used to schedule payment retries.
type PaymentBackoff struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultPaymentBackoff() PaymentBackoff {
	return PaymentBackoff{
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	}
}

func (b PaymentBackoff) Validate() error {
	if b.InitialInterval <= 0 {
		return fmt.Errorf("%w: initial interval must be positive", ErrValidation)
	}
	if b.MaxInterval < b.InitialInterval {
		return fmt.Errorf("%w: max interval must be >= initial interval", ErrValidation)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier must be >= 1", ErrValidation)
	}
	if b.RandomizationFactor < 0 || b.RandomizationFactor >= 1 {
		return fmt.Errorf("%w: randomization factor must be in [0,1)", ErrValidation)
	}
	return nil
}

// Delay returns the wait scheduled after the given failed attempt (1-based).
func (b PaymentBackoff) Delay(attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.InitialInterval
	eb.MaxInterval = b.MaxInterval
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = b.RandomizationFactor
	eb.Reset()

	var next time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		next = eb.NextBackOff()
		if next == backoff.Stop {
			return b.MaxInterval
		}
	}
	return next
}
