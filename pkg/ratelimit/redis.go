package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisKey string = `pullpilot:runtime:commands`

// Redis is a limiter whose budget lives in Redis, shared by every process using the same instance.
type Redis struct {
	*redis_rate.Limiter
	MaxRPS int
}

// NewRedisLimiter returns a Redis backed limiter allowing maxRPS executions per second.
func NewRedisLimiter(redisClient *redis.Client, maxRPS int) Limiter {
	return Redis{
		Limiter: redis_rate.NewLimiter(redisClient),
		MaxRPS:  maxRPS,
	}
}

// Take implements Limiter.
func (r Redis) Take(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	for {
		res, err := r.Allow(ctx, redisKey, redis_rate.PerSecond(r.MaxRPS))
		if err != nil {
			return time.Since(start), err
		}

		if res.Allowed > 0 {
			break
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"for": res.RetryAfter.String(),
			}).
			Debug("throttled runtime commands")

		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(res.RetryAfter):
		}
	}

	return time.Since(start), nil
}
