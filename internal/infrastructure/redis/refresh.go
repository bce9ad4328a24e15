package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RefreshStore holds the single live refresh token per account.
type RefreshStore struct {
	client redis.UniversalClient
	keys   Keys
}

func NewRefreshStore(client redis.UniversalClient, keys Keys) *RefreshStore {
	return &RefreshStore{client: client, keys: keys}
}

func (s *RefreshStore) Save(ctx context.Context, accountID, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keys.RefreshToken(accountID), token, ttl).Err(); err != nil {
		return unavailable("save refresh token", err)
	}
	return nil
}

func (s *RefreshStore) Get(ctx context.Context, accountID string) (string, error) {
	v, err := s.client.Get(ctx, s.keys.RefreshToken(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("refresh token: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", unavailable("get refresh token", err)
	}
	return v, nil
}

func (s *RefreshStore) Delete(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, s.keys.RefreshToken(accountID)).Err(); err != nil {
		return unavailable("delete refresh token", err)
	}
	return nil
}
