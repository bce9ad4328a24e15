package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-auth-session/internal/application/token"
	"github.com/go-auth-session/internal/domain"
	redisinfra "github.com/go-auth-session/internal/infrastructure/redis"
	"github.com/go-auth-session/internal/infrastructure/smtp"
	"github.com/go-auth-session/internal/pkg/id"
	pkgtoken "github.com/go-auth-session/internal/pkg/token"
	"github.com/go-auth-session/internal/pkg/validate"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

// Rate-limited actions. The names double as the rate limit key segment.
const (
	ActionRegister  = "register"
	ActionLogin     = "login"
	ActionVerifyOTP = "verify_otp"
)

// bcrypt only looks at the first 72 bytes and newer releases reject anything longer.
const maxPasswordBytes = 72

type PendingStore interface {
	Save(ctx context.Context, token string, p *domain.PendingRegistration, ttl time.Duration) error
	Consume(ctx context.Context, token string) (*domain.PendingRegistration, error)
	Delete(ctx context.Context, token string) error
}

type OTPStore interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	Consume(ctx context.Context, email, code string, maxAttempts int) error
	Delete(ctx context.Context, email string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, action, ip, email string) error
	Reset(ctx context.Context, action, ip, email string) error
}

type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
}

type ProfileCache interface {
	Set(ctx context.Context, a *domain.Account, ttl time.Duration) error
	Delete(ctx context.Context, accountID string) error
}

// Templates renders the html body of each notification.
type Templates interface {
	VerificationEmail(name, link string) (string, error)
	OTPEmail(code string, ttl time.Duration) (string, error)
	ExistingAccountEmail(name string) (string, error)
}

// Options are the tunables of the flows. Zero values fall back to defaults.
type Options struct {
	PendingTTL      time.Duration
	OTPTTL          time.Duration
	OTPMaxAttempts  int
	ProfileTTL      time.Duration
	VerifyURLBase   string
	EnumerationSafe bool
	MinEntropyBits  float64
	BcryptCost      int
}

// ServiceDeps groups every collaborator of the auth flows.
type ServiceDeps struct {
	Pending   PendingStore
	OTPs      OTPStore
	Limiter   RateLimiter
	Accounts  AccountStore
	Profiles  ProfileCache
	Mailer    smtp.Mailer
	Templates Templates
	Tokens    token.Service

	// Generators are swappable so tests can pin the values mailed out.
	NewVerificationToken func() (string, error)
	NewOTP               func() (string, error)
}

// LoginResult is returned once the OTP step succeeds.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Account      *domain.Account
}

type Service interface {
	Register(ctx context.Context, ip string, req domain.RegisterRequest) error
	VerifyEmail(ctx context.Context, verificationToken string) (*domain.Account, error)
	Login(ctx context.Context, ip string, req domain.LoginRequest) error
	VerifyOtp(ctx context.Context, ip string, req domain.VerifyOTPRequest) (*LoginResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, accountID string) error
	Revoke(ctx context.Context, accountID string) error
}

type service struct {
	deps ServiceDeps
	opts Options
	// dummyHash is compared against when the email is unknown, so a login
	// costs one bcrypt comparison whether or not the account exists.
	dummyHash []byte
	hash      func(password []byte, cost int) ([]byte, error)
}

func NewService(deps ServiceDeps, opts Options) (Service, error) {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 5 * time.Minute
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.OTPMaxAttempts <= 0 {
		opts.OTPMaxAttempts = 5
	}
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if deps.NewVerificationToken == nil {
		deps.NewVerificationToken = pkgtoken.NewVerificationToken
	}
	if deps.NewOTP == nil {
		deps.NewOTP = pkgtoken.NewOTP
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &service{deps: deps, opts: opts, dummyHash: dummy, hash: bcrypt.GenerateFromPassword}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkPasswordBytes rejects passwords bcrypt cannot hash. The validator
// counts characters, so multibyte input can pass max=72 and still be too long.
func checkPasswordBytes(password string) error {
	if len(password) > maxPasswordBytes {
		return domain.NewValidationError("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}

func (s *service) Register(ctx context.Context, ip string, req domain.RegisterRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return err
	}
	if s.opts.MinEntropyBits > 0 {
		if err := passwordvalidator.Validate(req.Password, s.opts.MinEntropyBits); err != nil {
			return domain.NewValidationError("password", "is too weak")
		}
	}
	if err := checkPasswordBytes(req.Password); err != nil {
		return err
	}
	if err := s.deps.Limiter.Allow(ctx, ActionRegister, ip, req.Email); err != nil {
		return err
	}

	// Hash before the lookup so known and unknown emails cost the same.
	hash, err := s.hash([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		s.releaseWindow(ctx, ActionRegister, ip, req.Email)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.NewValidationError("password", "is too long")
		}
		return fmt.Errorf("hash password: %w", err)
	}

	existing, err := s.deps.Accounts.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return s.registerExisting(ctx, ip, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	verificationToken, err := s.deps.NewVerificationToken()
	if err != nil {
		return err
	}
	pending := &domain.PendingRegistration{Name: req.Name, Email: req.Email, PasswordHash: string(hash)}
	if err := s.deps.Pending.Save(ctx, verificationToken, pending, s.opts.PendingTTL); err != nil {
		return err
	}

	body, err := s.deps.Templates.VerificationEmail(req.Name, s.opts.VerifyURLBase+verificationToken)
	if err == nil {
		err = s.deps.Mailer.SendEmail(ctx, req.Email, "Verify your email", body)
	}
	if err != nil {
		slog.Warn("verification email not sent", "email", req.Email, "err", err)
		if derr := s.deps.Pending.Delete(ctx, verificationToken); derr != nil {
			slog.Warn("failed to drop pending registration", "err", derr)
		}
		s.releaseWindow(ctx, ActionRegister, ip, req.Email)
		return deliveryFailed(err)
	}
	return nil
}

// registerExisting handles a registration for an email that already has an account.
func (s *service) registerExisting(ctx context.Context, ip string, existing *domain.Account) error {
	if !s.opts.EnumerationSafe {
		return fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	body, err := s.deps.Templates.ExistingAccountEmail(existing.Name)
	if err == nil {
		err = s.deps.Mailer.SendEmail(ctx, existing.Email, "You already have an account", body)
	}
	if err != nil {
		slog.Warn("existing account notice not sent", "account_id", existing.AccountID, "err", err)
		s.releaseWindow(ctx, ActionRegister, ip, existing.Email)
		return deliveryFailed(err)
	}
	return nil
}

func (s *service) VerifyEmail(ctx context.Context, verificationToken string) (*domain.Account, error) {
	if verificationToken == "" {
		return nil, fmt.Errorf("verification link: %w", domain.ErrExpired)
	}
	pending, err := s.deps.Pending.Consume(ctx, verificationToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("verification link: %w", domain.ErrExpired)
	}
	if err != nil {
		return nil, err
	}

	_, err = s.deps.Accounts.FindByEmail(ctx, pending.Email)
	if err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	a := &domain.Account{
		AccountID:    id.New(),
		Name:         pending.Name,
		Email:        pending.Email,
		PasswordHash: pending.PasswordHash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deps.Accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("account created", "account_id", a.AccountID)
	return a.Profile(), nil
}

func (s *service) Login(ctx context.Context, ip string, req domain.LoginRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return err
	}
	if err := checkPasswordBytes(req.Password); err != nil {
		return err
	}
	if err := s.deps.Limiter.Allow(ctx, ActionLogin, ip, req.Email); err != nil {
		return err
	}

	a, err := s.deps.Accounts.FindByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if a == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		return domain.ErrInvalidCredentials
	}

	code, err := s.deps.NewOTP()
	if err != nil {
		return err
	}
	if err := s.deps.OTPs.Save(ctx, a.Email, code, s.opts.OTPTTL); err != nil {
		return err
	}
	body, err := s.deps.Templates.OTPEmail(code, s.opts.OTPTTL)
	if err == nil {
		err = s.deps.Mailer.SendEmail(ctx, a.Email, "Your login code", body)
	}
	if err != nil {
		slog.Warn("otp email not sent", "account_id", a.AccountID, "err", err)
		if derr := s.deps.OTPs.Delete(ctx, a.Email); derr != nil {
			slog.Warn("failed to drop otp", "account_id", a.AccountID, "err", derr)
		}
		return deliveryFailed(err)
	}
	return nil
}

func (s *service) VerifyOtp(ctx context.Context, ip string, req domain.VerifyOTPRequest) (*LoginResult, error) {
	req.Email = normalizeEmail(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if err := s.deps.Limiter.Allow(ctx, ActionVerifyOTP, ip, req.Email); err != nil {
		return nil, err
	}

	err := s.deps.OTPs.Consume(ctx, req.Email, req.OTP, s.opts.OTPMaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("login code: %w", domain.ErrExpired)
	case errors.Is(err, redisinfra.ErrOTPMismatch):
		return nil, fmt.Errorf("login code: %w", domain.ErrInvalidCode)
	case errors.Is(err, redisinfra.ErrOTPAttemptsExceeded):
		slog.Warn("otp invalidated after repeated wrong guesses", "email", req.Email)
		return nil, fmt.Errorf("login code invalidated: %w", domain.ErrInvalidCode)
	default:
		return nil, err
	}

	a, err := s.deps.Accounts.FindByEmail(ctx, req.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("account: %w", domain.ErrExpired)
	}
	if err != nil {
		return nil, err
	}

	pair, err := s.deps.Tokens.IssueTokenPair(ctx, a.AccountID)
	if err != nil {
		return nil, err
	}
	profile := a.Profile()
	if err := s.deps.Profiles.Set(ctx, profile, s.opts.ProfileTTL); err != nil {
		slog.Warn("failed to warm profile cache", "account_id", a.AccountID, "err", err)
	}
	return &LoginResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, Account: profile}, nil
}

func (s *service) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	accountID := s.deps.Tokens.VerifyRefresh(ctx, refreshToken)
	if accountID == "" {
		return "", fmt.Errorf("refresh token: %w", domain.ErrUnauthorized)
	}
	return s.deps.Tokens.IssueAccessOnly(accountID)
}

func (s *service) Logout(ctx context.Context, accountID string) error {
	if err := s.deps.Tokens.Revoke(ctx, accountID); err != nil {
		return err
	}
	return s.deps.Profiles.Delete(ctx, accountID)
}

// Revoke ends every session of accountID on behalf of an administrator.
func (s *service) Revoke(ctx context.Context, accountID string) error {
	if _, err := s.deps.Accounts.FindByID(ctx, accountID); err != nil {
		return err
	}
	if err := s.Logout(ctx, accountID); err != nil {
		return err
	}
	slog.Info("sessions revoked", "account_id", accountID)
	return nil
}

func (s *service) releaseWindow(ctx context.Context, action, ip, email string) {
	if err := s.deps.Limiter.Reset(ctx, action, ip, email); err != nil {
		slog.Warn("failed to release rate window", "action", action, "err", err)
	}
}

func deliveryFailed(err error) error {
	if errors.Is(err, domain.ErrDeliveryFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
}
