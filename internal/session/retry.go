package session

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy bounds automatic reconnection after retryable failures.
// Delays double from BaseDelay: 1s, 2s, 4s... capped at MaxDelay. A zero
// MaxDelay leaves the delay uncapped.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// backOff builds the delay schedule for one Connect call. Jitter is off so
// the delays are exactly the documented ones.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = max(p.BaseDelay, 0)
	bo.MaxInterval = p.MaxDelay
	if p.MaxDelay <= 0 {
		bo.MaxInterval = time.Duration(math.MaxInt64)
	}
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}
