package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Local is an in process token bucket.
type Local struct {
	*rate.Limiter
}

// NewLocalLimiter returns a limiter allowing maximumRPS executions per second on average,
// with bursts of up to burstableRPS.
func NewLocalLimiter(maximumRPS int, burstableRPS int) Limiter {
	return Local{
		Limiter: rate.NewLimiter(rate.Limit(maximumRPS), burstableRPS),
	}
}

// Take implements Limiter.
func (l Local) Take(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	if err := l.Limiter.Wait(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Debug("local rate limiter wait aborted")

		return time.Since(start), err
	}

	return time.Since(start), nil
}
