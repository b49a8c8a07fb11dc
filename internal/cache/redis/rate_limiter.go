package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter with a sorted set of request
// timestamps per client, trimmed and counted atomically in Lua.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	clock         func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		clock:         time.Now,
	}
}

// Allow counts one request from client against limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, client string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 || window <= 0 {
		return false, 0, fmt.Errorf("redis: rate limit %s: limit %d window %s: %w", client, limit, window, domain.ErrInvalidParam)
	}
	result, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rateLimitKey(client)},
		rl.clock().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", client, err)
	}
	return decodeWindow(client, result)
}

// decodeWindow reads the script's {allowed, remaining} reply.
func decodeWindow(client string, result []int64) (bool, int, error) {
	if len(result) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected reply of %d values", client, len(result))
	}
	return result[0] == 1, int(result[1]), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
