// Package retry provides the single retry/backoff policy used by feed
// polling, enrichment calls and response actions.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy parameterizes bounded exponential backoff.
type Policy struct {
	MaxAttempts uint64
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// DefaultPolicy is a conservative policy for remote calls.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	Initial:     500 * time.Millisecond,
	Max:         30 * time.Second,
	Multiplier:  2,
}

// Do runs op with exponential backoff until it succeeds, returns a permanent
// error, MaxAttempts is exhausted, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx))
}

// Permanent marks err as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }
