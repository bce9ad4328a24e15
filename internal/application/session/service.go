package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-session/internal/domain"
)

// AccessVerifier extracts the account id from a valid access token.
type AccessVerifier interface {
	VerifyAccess(accessToken string) (string, error)
}

type ProfileCache interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	Set(ctx context.Context, a *domain.Account, ttl time.Duration) error
}

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*domain.Account, error)
}

// Guard resolves an access token to the caller's profile, reading the
// ephemeral cache before the durable store.
type Guard interface {
	Resolve(ctx context.Context, accessToken string) (*domain.Account, error)
}

type guard struct {
	tokens     AccessVerifier
	cache      ProfileCache
	accounts   AccountStore
	profileTTL time.Duration
}

func NewGuard(tokens AccessVerifier, cache ProfileCache, accounts AccountStore, profileTTL time.Duration) Guard {
	return &guard{tokens: tokens, cache: cache, accounts: accounts, profileTTL: profileTTL}
}

func (g *guard) Resolve(ctx context.Context, accessToken string) (*domain.Account, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("no access token: %w", domain.ErrUnauthenticated)
	}
	accountID, err := g.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", domain.ErrUnauthenticated)
	}

	cached, err := g.cache.Get(ctx, accountID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("profile cache read failed", "account_id", accountID, "err", err)
	}

	a, err := g.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	profile := a.Profile()
	if err := g.cache.Set(ctx, profile, g.profileTTL); err != nil {
		slog.Warn("profile cache write failed", "account_id", accountID, "err", err)
	}
	return profile, nil
}
