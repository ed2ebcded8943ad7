package cmd

import (
	"context"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client for the role cache, or nil when no
// URL is configured. Callers treat nil as cache-off.
func NewRedisClient(ctx context.Context, logger *slog.Logger, redisURL string) redis.UniversalClient {
	if redisURL == "" {
		return nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic("Invalid REDIS_URL: " + err.Error())
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WarnContext(ctx, "Redis unreachable, role cache disabled", "error", err)

		return nil
	}

	return client
}
