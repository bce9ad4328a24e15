package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-auth-session/internal/application/token"
	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/domain"
	jwtinfra "github.com/go-auth-session/internal/infrastructure/jwt"
	redisinfra "github.com/go-auth-session/internal/infrastructure/redis"
	"github.com/go-auth-session/internal/infrastructure/smtp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memAccounts is an in-memory credential store with the same uniqueness
// rules as the DynamoDB repo.
type memAccounts struct {
	mu      sync.Mutex
	byID    map[string]*domain.Account
	byEmail map[string]string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[string]*domain.Account{}, byEmail: map[string]string{}}
}

func (m *memAccounts) Create(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[a.Email]; ok {
		return fmt.Errorf("account: %w", domain.ErrConflict)
	}
	cp := *a
	m.byID[a.AccountID] = &cp
	m.byEmail[a.Email] = a.AccountID
	return nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type sentMail struct {
	To, Subject, Body string
}

// recordingMailer keeps every message; fail makes the next sends fail.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *recordingMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp down: %w", domain.ErrDeliveryFailed)
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type flowFixture struct {
	svc      Service
	mr       *miniredis.Miniredis
	accounts *memAccounts
	mailer   *recordingMailer
	tokens   token.Service

	mu      sync.Mutex
	tokenN  int
	nextOTP string
}

type fixtureOption func(*Options, map[string]config.RateLimit)

func newFlowFixture(t *testing.T, opts ...fixtureOption) *flowFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	keys := redisinfra.NewKeys("test")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer := jwtinfra.NewProviderFromKeys(key, &key.PublicKey, "test")

	tpl, err := smtp.NewTemplates()
	require.NoError(t, err)

	o := Options{
		PendingTTL:      5 * time.Minute,
		OTPTTL:          5 * time.Minute,
		OTPMaxAttempts:  5,
		ProfileTTL:      time.Hour,
		VerifyURLBase:   "http://localhost:5173/token/",
		EnumerationSafe: true,
		BcryptCost:      bcrypt.MinCost,
	}
	limits := map[string]config.RateLimit{
		ActionRegister:  {Max: 1, Window: time.Minute},
		ActionLogin:     {Max: 3, Window: time.Minute},
		ActionVerifyOTP: {Max: 5, Window: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(&o, limits)
	}

	f := &flowFixture{
		mr:       mr,
		accounts: newMemAccounts(),
		mailer:   &recordingMailer{},
		tokens:   token.NewService(signer, redisinfra.NewRefreshStore(client, keys), time.Minute, 7*24*time.Hour),
		nextOTP:  "123456",
	}
	svc, err := NewService(ServiceDeps{
		Pending:   redisinfra.NewPendingStore(client, keys),
		OTPs:      redisinfra.NewOTPStore(client, keys),
		Limiter:   redisinfra.NewRateLimiter(client, keys, limits),
		Accounts:  f.accounts,
		Profiles:  redisinfra.NewProfileCache(client, keys),
		Mailer:    f.mailer,
		Templates: tpl,
		Tokens:    f.tokens,
		NewVerificationToken: func() (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.tokenN++
			return fmt.Sprintf("tok-%d", f.tokenN), nil
		},
		NewOTP: func() (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.nextOTP, nil
		},
	}, o)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *flowFixture) setNextOTP(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOTP = code
}

// keysWith lists the redis keys containing segment.
func (f *flowFixture) keysWith(segment string) []string {
	var out []string
	for _, k := range f.mr.Keys() {
		if strings.Contains(k, segment) {
			out = append(out, k)
		}
	}
	return out
}

// createAccount runs Register and VerifyEmail for a fresh account.
func (f *flowFixture) createAccount(t *testing.T, name, email, password string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, "10.0.0.99", domain.RegisterRequest{Name: name, Email: email, Password: password}))
	link := extractLink(f.mailer.last().Body)
	a, err := f.svc.VerifyEmail(ctx, strings.TrimPrefix(link, "http://localhost:5173/token/"))
	require.NoError(t, err)
	return a
}

func extractLink(body string) string {
	start := strings.Index(body, `href="`)
	if start < 0 {
		return ""
	}
	rest := body[start+len(`href="`):]
	return rest[:strings.Index(rest, `"`)]
}
