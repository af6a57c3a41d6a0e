// Package retry wraps fallible operations with bounded attempts and linear
// backoff. Sources back off linearly in practice, so the wait grows as
// initialDelay × attempt rather than doubling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientError marks a failure worth retrying, typically a transport
// problem. Wrap with Transient at the call site that knows the failure mode.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so IsTransient reports true. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient; explicit TransientError wrappers and network timeouts are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Config controls Do.
type Config struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	// InitialDelay is the wait before the first retry; the wait before
	// retry n is InitialDelay × n.
	InitialDelay time.Duration
	// Classify overrides transient classification; defaults to IsTransient.
	Classify func(error) bool
}

// Do executes op, retrying transient failures with linearly increasing
// delay. Non-transient failures propagate immediately; after exhausting
// attempts the last failure propagates. The only side effects are the
// wrapped operation and the wait.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	classify := cfg.Classify
	if classify == nil {
		classify = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries+1 {
			break
		}
		if err := wait(ctx, cfg.InitialDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
