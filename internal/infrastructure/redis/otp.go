package redisinfra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
)

const (
	otpStatusMatched  int64 = 0
	otpStatusNotFound int64 = 1
	otpStatusMismatch int64 = 2
	otpStatusExceeded int64 = 3
)

// consumeOTPLua compares the stored hash and either deletes the code (match),
// bumps the attempt counter (mismatch) or deletes it once the bound is reached.
// KEYS[1] = otp key
// ARGV[1] = hex sha256 of the provided code
// ARGV[2] = max attempts
var consumeOTPLua = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'hash')
if not stored then
  return 1
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 0
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return 3
end
return 2
`)

// OTPStore keeps one outstanding login code per email. Only a hash of the code is stored.
type OTPStore struct {
	client redis.UniversalClient
	keys   Keys
}

func NewOTPStore(client redis.UniversalClient, keys Keys) *OTPStore {
	return &OTPStore{client: client, keys: keys}
}

// Save replaces any previous code for email and resets its attempt counter.
func (s *OTPStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	key := s.keys.OTP(email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", hashCode(code), "attempts", 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable("save otp", err)
	}
	return nil
}

// Consume returns nil when code matches, consuming it. Missing codes return
// domain.ErrNotFound; wrong codes return ErrOTPMismatch or, once maxAttempts
// wrong guesses accumulated, ErrOTPAttemptsExceeded.
func (s *OTPStore) Consume(ctx context.Context, email, code string, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	status, err := consumeOTPLua.Run(ctx, s.client, []string{s.keys.OTP(email)}, hashCode(code), maxAttempts).Int64()
	if err != nil {
		return unavailable("consume otp", err)
	}
	switch status {
	case otpStatusMatched:
		return nil
	case otpStatusNotFound:
		return fmt.Errorf("otp: %w", domain.ErrNotFound)
	case otpStatusMismatch:
		return ErrOTPMismatch
	case otpStatusExceeded:
		return ErrOTPAttemptsExceeded
	default:
		return fmt.Errorf("consume otp: unexpected status %d", status)
	}
}

func (s *OTPStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.keys.OTP(email)).Err(); err != nil {
		return unavailable("delete otp", err)
	}
	return nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
