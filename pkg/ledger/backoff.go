package ledger

import (
	"time"
)

// Clock abstracts time so retry loops can run instantly in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// BackoffPolicy bounds retries of an operation.
type BackoffPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Interval is the wait between tries.
	Interval time.Duration
	// Retryable reports whether an error is worth another try.
	Retryable func(error) bool
}

// Default resolution policy: 30 attempts, 2s apart.
const (
	DefaultResolveAttempts = 30
	DefaultResolveInterval = 2 * time.Second
)

// DefaultBackoff retries only indexing lag.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Attempts:  DefaultResolveAttempts,
		Interval:  DefaultResolveInterval,
		Retryable: IsNotIndexed,
	}
}

// Ceiling is the longest a policy can wait in total.
func (p BackoffPolicy) Ceiling() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultResolveAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsNotIndexed
	}
	return p
}
