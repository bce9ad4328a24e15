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

// PendingStore holds registrations awaiting email verification, keyed by verification token.
type PendingStore struct {
	client redis.UniversalClient
	keys   Keys
}

func NewPendingStore(client redis.UniversalClient, keys Keys) *PendingStore {
	return &PendingStore{client: client, keys: keys}
}

func (s *PendingStore) Save(ctx context.Context, token string, p *domain.PendingRegistration, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending registration: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.Pending(token), b, ttl).Err(); err != nil {
		return unavailable("save pending registration", err)
	}
	return nil
}

// Consume reads and deletes the entry in one GETDEL, so at most one caller
// ever observes a given token.
func (s *PendingStore) Consume(ctx context.Context, token string) (*domain.PendingRegistration, error) {
	raw, err := s.client.GetDel(ctx, s.keys.Pending(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending registration: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("consume pending registration", err)
	}
	var p domain.PendingRegistration
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pending registration: %w", err)
	}
	return &p, nil
}

func (s *PendingStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.keys.Pending(token)).Err(); err != nil {
		return unavailable("delete pending registration", err)
	}
	return nil
}
