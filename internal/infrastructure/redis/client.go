package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-session/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every transport-level failure talking to Redis.
var ErrUnavailable = errors.New("redis unavailable")

// NewClient connects to Redis and pings it once. A failed ping is returned
// instead of retried so the process does not start without its ephemeral store.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, cfg.RedisAddr, err)
	}
	return client, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
