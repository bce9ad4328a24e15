package redisinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ProfileCache stores serialized accounts (never the password hash) under user:<id>.
type ProfileCache struct {
	client redis.UniversalClient
	keys   Keys
}

func NewProfileCache(client redis.UniversalClient, keys Keys) *ProfileCache {
	return &ProfileCache{client: client, keys: keys}
}

func (c *ProfileCache) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	raw, err := c.client.Get(ctx, c.keys.Profile(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cached profile: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get cached profile", err)
	}
	var a domain.Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &a, nil
}

func (c *ProfileCache) Set(ctx context.Context, a *domain.Account, ttl time.Duration) error {
	// PasswordHash is tagged json:"-" so it never reaches the cache.
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := c.client.Set(ctx, c.keys.Profile(a.AccountID), b, ttl).Err(); err != nil {
		return unavailable("cache profile", err)
	}
	return nil
}

func (c *ProfileCache) Delete(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, c.keys.Profile(accountID)).Err(); err != nil {
		return unavailable("delete cached profile", err)
	}
	return nil
}
