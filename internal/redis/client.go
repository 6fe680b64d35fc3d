// Package redisc backs the fan-out bus, unread counters and presence with
// Redis.
package redisc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 5 * time.Second
	// floor applied when the URL asks for fewer idle connections
	minIdleConns = 4
)

// InitRedis connects to redisURL and verifies the server answers within
// pingTimeout. The client is closed again when the ping fails.
func InitRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.MinIdleConns < minIdleConns {
		opts.MinIdleConns = minIdleConns
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
