package redis

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RateLimiter is a fixed-window counter per key, namespaced under prefix so
// several deployments can share one Redis.
type RateLimiter struct {
	client RedisClient
	prefix string
}

func NewRateLimiter(client RedisClient, prefix string) *RateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "miniapp"
	}
	return &RateLimiter{client: client, prefix: prefix + ":rl:"}
}

// Allow counts one hit for key in the current window. A non-positive limit
// disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	full := r.prefix + key
	count, err := r.client.Incr(ctx, full)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, full, window); err != nil {
			return false, fmt.Errorf("rate limit window %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

// CommandKey is the limiter key of one user's bot command.
func CommandKey(userID int64, command string) string {
	return fmt.Sprintf("cmd:%d:%s", userID, strings.ToLower(strings.TrimPrefix(command, "/")))
}
