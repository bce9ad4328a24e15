package token

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/go-auth-session/internal/domain"
	jwtinfra "github.com/go-auth-session/internal/infrastructure/jwt"
)

// Pair is what a successful login hands back to the client.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Signer mints and checks JWTs of a given type.
type Signer interface {
	Sign(accountID, tokenType string, ttl time.Duration) (string, error)
	Verify(tokenStr, tokenType string) (*jwtinfra.Claims, error)
}

// RefreshStore holds the single live refresh token per account.
type RefreshStore interface {
	Save(ctx context.Context, accountID, token string, ttl time.Duration) error
	Get(ctx context.Context, accountID string) (string, error)
	Delete(ctx context.Context, accountID string) error
}

type Service interface {
	IssueTokenPair(ctx context.Context, accountID string) (*Pair, error)
	// VerifyRefresh returns the account id the token belongs to, or "" when the
	// token is not the account's current refresh token for any reason.
	VerifyRefresh(ctx context.Context, refreshToken string) string
	IssueAccessOnly(accountID string) (string, error)
	VerifyAccess(accessToken string) (string, error)
	Revoke(ctx context.Context, accountID string) error
}

type service struct {
	signer     Signer
	refresh    RefreshStore
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(signer Signer, refresh RefreshStore, accessTTL, refreshTTL time.Duration) Service {
	return &service{signer: signer, refresh: refresh, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (s *service) IssueTokenPair(ctx context.Context, accountID string) (*Pair, error) {
	access, err := s.signer.Sign(accountID, jwtinfra.TypeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signer.Sign(accountID, jwtinfra.TypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Save(ctx, accountID, refresh, s.refreshTTL); err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *service) VerifyRefresh(ctx context.Context, refreshToken string) string {
	if refreshToken == "" {
		return ""
	}
	claims, err := s.signer.Verify(refreshToken, jwtinfra.TypeRefresh)
	if err != nil {
		return ""
	}
	stored, err := s.refresh.Get(ctx, claims.AccountID)
	if err != nil {
		slog.Debug("refresh token lookup failed", "account_id", claims.AccountID, "err", err)
		return ""
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return ""
	}
	return claims.AccountID
}

func (s *service) IssueAccessOnly(accountID string) (string, error) {
	return s.signer.Sign(accountID, jwtinfra.TypeAccess, s.accessTTL)
}

// VerifyAccess returns the account id carried by a valid access token.
func (s *service) VerifyAccess(accessToken string) (string, error) {
	if accessToken == "" {
		return "", domain.ErrUnauthenticated
	}
	claims, err := s.signer.Verify(accessToken, jwtinfra.TypeAccess)
	if err != nil {
		return "", domain.ErrUnauthenticated
	}
	return claims.AccountID, nil
}

func (s *service) Revoke(ctx context.Context, accountID string) error {
	return s.refresh.Delete(ctx, accountID)
}
