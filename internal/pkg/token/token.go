package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// otpSpace is the number of distinct six-digit codes.
var otpSpace = big.NewInt(1_000_000)

// NewVerificationToken generates a cryptographically random 64-character hex token
// used as the key of a pending registration.
func NewVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewOTP returns a uniformly random six-digit numeric code, zero padded.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
