package gateway

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how failed outbound calls are retried with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s initial delay, 2x multiplier,
// 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// transient is implemented by errors that know whether they are worth
// retrying, such as provider and Telegram API errors.
type transient interface {
	Transient() bool
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return IsRetryable(err)
}

// IsRetryable classifies errors as transient or permanent. Errors that
// carry their own classification win; otherwise the message decides, and
// unknown errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te transient
	if errors.As(err, &te) {
		return te.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "too many requests") {
		return true
	}
	return false
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn up to MaxAttempts times with exponential backoff between
// attempts. It returns nil on success, or the last error once attempts run
// out, the error is permanent, or ctx ends while waiting.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			select {
			case <-time.After(p.NextDelay(attempt)):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}
