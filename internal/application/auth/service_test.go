package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIP = "10.0.0.1"

func TestRegisterThenVerify(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	err := f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: " Ann ", Email: "Ann@X.com", Password: "pw12345678"})
	require.NoError(t, err)

	mail := f.mailer.last()
	assert.Equal(t, "ann@x.com", mail.To)
	assert.Equal(t, "http://localhost:5173/token/tok-1", extractLink(mail.Body))
	assert.Len(t, f.keysWith(":pending:"), 1)
	assert.Equal(t, 5*time.Minute, f.mr.TTL("test:pending:tok-1"))

	a, err := f.svc.VerifyEmail(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", a.Name)
	assert.Equal(t, "ann@x.com", a.Email)
	assert.Equal(t, domain.RoleUser, a.Role)
	assert.Empty(t, a.PasswordHash)
	assert.Empty(t, f.keysWith(":pending:"))

	stored, err := f.accounts.FindByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "pw12345678", stored.PasswordHash)
}

func TestRegister_Validation(t *testing.T) {
	f := newFlowFixture(t)

	err := f.svc.Register(context.Background(), testIP, domain.RegisterRequest{Name: "A", Email: "nope", Password: "short"})
	require.True(t, errors.Is(err, domain.ErrValidation))
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 3)
	assert.Zero(t, f.mailer.count())
}

func TestRegister_WeakPasswordWithEntropyFloor(t *testing.T) {
	f := newFlowFixture(t, func(o *Options, _ map[string]config.RateLimit) { o.MinEntropyBits = 60 })

	err := f.svc.Register(context.Background(), testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "aaaaaaaa"})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "password", ve.Fields[0].Field)
}

func TestRegister_MultibytePasswordOverByteLimit(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	// 40 characters, 80 bytes.
	err := f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: strings.Repeat("é", 40)})
	require.True(t, errors.Is(err, domain.ErrValidation))
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "password", ve.Fields[0].Field)
	assert.Empty(t, f.keysWith(":rl:"))

	// The rejected attempt did not use the register window.
	assert.NoError(t, f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}))
}

func TestLogin_MultibytePasswordOverByteLimit(t *testing.T) {
	f := newFlowFixture(t)

	err := f.svc.Login(context.Background(), testIP, domain.LoginRequest{Email: "ann@x.com", Password: strings.Repeat("é", 40)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRegister_RateLimited(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	req := domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}

	require.NoError(t, f.svc.Register(ctx, testIP, req))
	err := f.svc.Register(ctx, testIP, req)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))

	// A different client address has its own window.
	assert.NoError(t, f.svc.Register(ctx, "10.0.0.2", req))

	f.mr.FastForward(time.Minute)
	assert.NoError(t, f.svc.Register(ctx, testIP, req))
}

func TestRegister_ExistingEmailEnumerationSafe(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	sentBefore := f.mailer.count()

	err := f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Mallory", Email: "ann@x.com", Password: "pw87654321"})
	require.NoError(t, err)
	assert.Empty(t, f.keysWith(":pending:"))
	require.Equal(t, sentBefore+1, f.mailer.count())
	assert.Equal(t, "You already have an account", f.mailer.last().Subject)
	assert.Contains(t, f.mailer.last().Body, "Hi Ann")
}

func TestRegister_HashesPasswordForKnownAndUnknownEmails(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")

	svc := f.svc.(*service)
	var hashed []string
	inner := svc.hash
	svc.hash = func(password []byte, cost int) ([]byte, error) {
		hashed = append(hashed, string(password))
		return inner(password, cost)
	}

	require.NoError(t, svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Mallory", Email: "ann@x.com", Password: "pw87654321"}))
	require.NoError(t, svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Bob", Email: "bob@x.com", Password: "pw11223344"}))
	assert.Equal(t, []string{"pw87654321", "pw11223344"}, hashed)
}

func TestRegister_ExistingEmailConflictWhenNotSafe(t *testing.T) {
	f := newFlowFixture(t, func(o *Options, _ map[string]config.RateLimit) { o.EnumerationSafe = false })
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")

	err := f.svc.Register(context.Background(), testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestRegister_DeliveryFailureLeavesNothingBehind(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	req := domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}

	f.mailer.fail = true
	err := f.svc.Register(ctx, testIP, req)
	assert.True(t, errors.Is(err, domain.ErrDeliveryFailed))
	assert.Empty(t, f.keysWith(":pending:"))

	// The window was released so the user can retry straight away.
	f.mailer.fail = false
	assert.NoError(t, f.svc.Register(ctx, testIP, req))
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.svc.VerifyEmail(context.Background(), "does-not-exist")
	assert.True(t, errors.Is(err, domain.ErrExpired))
	_, err = f.svc.VerifyEmail(context.Background(), "")
	assert.True(t, errors.Is(err, domain.ErrExpired))
	assert.Zero(t, f.accounts.count())
}

func TestVerifyEmail_ExpiredToken(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}))

	f.mr.FastForward(5*time.Minute + time.Second)
	_, err := f.svc.VerifyEmail(ctx, "tok-1")
	assert.True(t, errors.Is(err, domain.ErrExpired))
	assert.Zero(t, f.accounts.count())
}

func TestVerifyEmail_AtMostOnce(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, testIP, domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyEmail(ctx, "tok-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrExpired) || errors.Is(err, domain.ErrConflict), err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.accounts.count())
}

func TestVerifyEmail_SecondPendingForSameEmailConflicts(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	req := domain.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw12345678"}
	require.NoError(t, f.svc.Register(ctx, "10.0.0.1", req))
	require.NoError(t, f.svc.Register(ctx, "10.0.0.2", req))

	_, err := f.svc.VerifyEmail(ctx, "tok-1")
	require.NoError(t, err)
	_, err = f.svc.VerifyEmail(ctx, "tok-2")
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Empty(t, f.keysWith(":pending:"), "the losing entry is consumed too")
	assert.Equal(t, 1, f.accounts.count())
}

func TestLogin_SendsOTP(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")

	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ANN@x.com ", Password: "pw12345678"}))
	mail := f.mailer.last()
	assert.Equal(t, "ann@x.com", mail.To)
	assert.Contains(t, mail.Body, "123456")
	assert.Equal(t, 5*time.Minute, f.mr.TTL("test:otp:ann@x.com"))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	sent := f.mailer.count()

	err := f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "wrong-password"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	err = f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "bob@x.com", Password: "pw12345678"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))

	assert.Equal(t, sent, f.mailer.count())
	assert.Empty(t, f.keysWith(":otp:"))
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	req := domain.LoginRequest{Email: "ann@x.com", Password: "whatever1"}

	for i := 0; i < 3; i++ {
		assert.True(t, errors.Is(f.svc.Login(ctx, testIP, req), domain.ErrInvalidCredentials))
	}
	assert.True(t, errors.Is(f.svc.Login(ctx, testIP, req), domain.ErrRateLimited))
}

func TestLogin_NewOTPOverwritesPrevious(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	login := domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}

	require.NoError(t, f.svc.Login(ctx, testIP, login))
	f.setNextOTP("654321")
	require.NoError(t, f.svc.Login(ctx, testIP, login))

	_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
	res, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "654321"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestLogin_DeliveryFailureDropsOTP(t *testing.T) {
	f := newFlowFixture(t)
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")

	f.mailer.fail = true
	err := f.svc.Login(context.Background(), testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"})
	assert.True(t, errors.Is(err, domain.ErrDeliveryFailed))
	assert.Empty(t, f.keysWith(":otp:"))
}

func TestVerifyOtp_IssuesTokensAndConsumesCode(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	a := f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	res, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, a.AccountID, res.Account.AccountID)
	assert.Empty(t, res.Account.PasswordHash)
	assert.Empty(t, f.keysWith(":otp:"))

	assert.True(t, f.mr.Exists("test:refresh_token:"+a.AccountID))
	assert.Equal(t, time.Hour, f.mr.TTL("test:user:"+a.AccountID))

	_, err = f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestVerifyOtp_WrongCodeKeepsCode(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "000000"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))

	_, err = f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.NoError(t, err)
}

func TestVerifyOtp_SixthAttemptRateLimited(t *testing.T) {
	f := newFlowFixture(t, func(o *Options, _ map[string]config.RateLimit) { o.OTPMaxAttempts = 10 })
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "000000"})
		assert.True(t, errors.Is(err, domain.ErrInvalidCode))
	}
	_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestVerifyOtp_AttemptBoundInvalidatesCode(t *testing.T) {
	f := newFlowFixture(t, func(o *Options, limits map[string]config.RateLimit) {
		o.OTPMaxAttempts = 3
		delete(limits, ActionVerifyOTP)
	})
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyOtp(ctx, "10.0.1."+string(rune('1'+i)), domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "000000"})
		assert.True(t, errors.Is(err, domain.ErrInvalidCode))
	}
	_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestVerifyOtp_Expired(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	f.mr.FastForward(5*time.Minute + time.Second)
	_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestVerifyOtp_Validation(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.svc.VerifyOtp(context.Background(), testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "12ab56"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestVerifyOtp_RejectsSignedAndDecimalCodes(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))

	for _, code := range []string{"+12345", "-12345", "1.2345", "1e5000"} {
		_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: code})
		assert.True(t, errors.Is(err, domain.ErrValidation), code)
	}
	assert.Equal(t, "0", f.mr.HGet("test:otp:ann@x.com", "attempts"))

	// None of the malformed codes touched the verify window.
	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "000000"})
		require.False(t, errors.Is(err, domain.ErrRateLimited), "attempt %d", i+1)
	}
}

func loginAndVerify(t *testing.T, f *flowFixture) *LoginResult {
	t.Helper()
	ctx := context.Background()
	f.createAccount(t, "Ann", "ann@x.com", "pw12345678")
	require.NoError(t, f.svc.Login(ctx, testIP, domain.LoginRequest{Email: "ann@x.com", Password: "pw12345678"}))
	res, err := f.svc.VerifyOtp(ctx, testIP, domain.VerifyOTPRequest{Email: "ann@x.com", OTP: "123456"})
	require.NoError(t, err)
	return res
}

func TestRefreshAccessToken(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	res := loginAndVerify(t, f)

	access, err := f.svc.RefreshAccessToken(ctx, res.RefreshToken)
	require.NoError(t, err)
	id, err := f.tokens.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, res.Account.AccountID, id)

	_, err = f.svc.RefreshAccessToken(ctx, res.AccessToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	_, err = f.svc.RefreshAccessToken(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestLogout_RevokesRefreshAndProfile(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	res := loginAndVerify(t, f)
	accountID := res.Account.AccountID

	require.NoError(t, f.svc.Logout(ctx, accountID))
	assert.False(t, f.mr.Exists("test:user:"+accountID))

	_, err := f.svc.RefreshAccessToken(ctx, res.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	require.NoError(t, f.svc.Logout(ctx, accountID), "logout is idempotent")
}

func TestRevoke(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	res := loginAndVerify(t, f)

	require.NoError(t, f.svc.Revoke(ctx, res.Account.AccountID))
	_, err := f.svc.RefreshAccessToken(ctx, res.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	err = f.svc.Revoke(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
