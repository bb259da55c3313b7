package ratelimit

import (
	"context"
	"time"
)

// Limiter paces external command executions.
type Limiter interface {
	// Take blocks until an execution is allowed or ctx is done, and returns
	// how long the caller was held back.
	Take(ctx context.Context) (time.Duration, error)
}

// Take is a helper applying l to an operation, ignoring the wait duration.
func Take(ctx context.Context, l Limiter) error {
	_, err := l.Take(ctx)
	return err
}
