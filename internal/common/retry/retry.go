package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/common/logger"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var DefaultPolicy = Policy{
	MaxRetries:   3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithBackoff runs operation up to policy.MaxRetries times, doubling the
// delay after each failure. A permanent error or a cancelled ctx stops it early.
func WithBackoff(ctx context.Context, operation func(ctx context.Context) error, policy Policy, log logger.Logger, operationName string) error {
	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.InitialDelay

	var err error
	for i := 0; i < attempts; i++ {
		err = operation(ctx)
		if err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}

		if i == attempts-1 {
			break
		}

		if log != nil {
			log.Warn(fmt.Sprintf("%s failed, retrying", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  attempts,
				"nextRetryIn": delay.String(),
			})
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, i+1, err)
		case <-timer.C:
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
}
