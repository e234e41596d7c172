// Package retry implements bounded retry with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles on every retry.
	// Zero retries immediately.
	BaseDelay time.Duration
	// Retryable reports whether err deserves another attempt.
	// Nil treats every error as retryable.
	Retryable func(err error) bool
}

// Default returns the policy used for transcription reconnects: the first
// attempt plus three retries, waiting 2s, 4s, 8s between them.
func Default() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 2 * time.Second}
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if p.BaseDelay <= 0 || n <= 0 {
		return 0
	}
	if n > 16 {
		n = 16
	}
	return p.BaseDelay << (n - 1)
}

// ShouldRetry reports whether a failure after the given number of attempts
// may be retried.
func (p Policy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	if attempts >= p.maxAttempts() {
		return false
	}
	if p.Retryable != nil && !p.Retryable(err) {
		return false
	}
	return true
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. It returns the last error.
func Do(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if !p.ShouldRetry(attempt, err) {
			return err
		}

		delay := p.Delay(attempt)
		slog.Warn("retrying", "op", name, "attempt", attempt, "delay", delay, "error", err)

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
