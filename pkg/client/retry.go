package client

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior for requests that fail before a
// response arrives. Only GET requests are retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// NoRetry sends every request exactly once.
var NoRetry = RetryConfig{MaxAttempts: 1}

func (rc RetryConfig) next(backoff time.Duration) time.Duration {
	backoff = time.Duration(float64(backoff) * rc.BackoffMultiple)
	if backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}
	return backoff
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
