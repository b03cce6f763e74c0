// Package retry provides the shared retry policy for external service calls.
package retry

import (
	"context"
	"time"

	"checkdoc-go/internal/config"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries an operation with exponential backoff and jitter.
// Transient failures are retried up to MaxAttempts; permanent failures
// (wrapped with Permanent) are surfaced immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPolicy builds a Policy from configuration, applying defaults for
// missing values.
func NewPolicy(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMs) * time.Millisecond,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	return p
}

// Do runs op, retrying transient errors until the attempt budget or the
// context is exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0

	wrapped := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(op, wrapped)
}

// Permanent marks err as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
