package redisinfra

import "strings"

// Keys builds namespaced key names. Every store shares one Keys value so a
// single prefix separates deployments that share a Redis instance.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "auth"
	}
	return Keys{prefix: prefix}
}

func (k Keys) Pending(token string) string          { return k.prefix + ":pending:" + token }
func (k Keys) OTP(email string) string              { return k.prefix + ":otp:" + email }
func (k Keys) RefreshToken(accountID string) string { return k.prefix + ":refresh_token:" + accountID }
func (k Keys) Profile(accountID string) string      { return k.prefix + ":user:" + accountID }

func (k Keys) RateLimit(action, ip, email string) string {
	return k.prefix + ":rl:" + action + ":" + ip + ":" + email
}
