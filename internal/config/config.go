package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AllowedOrigins []string // CORS allowed origins

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration

	PendingRegistrationTTL time.Duration
	OTPTTL                 time.Duration
	OTPMaxAttempts         int
	ProfileCacheTTL        time.Duration

	RateLimits      RateLimits
	IPThrottleRPS   float64
	IPThrottleBurst int
	// TrustProxyHeaders takes the client address from forwarding headers.
	// Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool

	EnumerationSafe        bool
	PasswordMinEntropyBits float64
	BcryptCost             int

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	VerifyURLBase string
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Accounts string
}

// RateLimit is a fixed window: at most Max attempts per Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// RateLimits holds the per-action limits applied per (client ip, email).
type RateLimits struct {
	Register  RateLimit
	Login     RateLimit
	VerifyOTP RateLimit
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "auth"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Accounts: getEnv("DYNAMO_TABLE_ACCOUNTS", "accounts"),
		},

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTIssuer:         getEnv("JWT_ISSUER", "go-auth-session"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", time.Minute),
		RefreshTokenTTL:   getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		PendingRegistrationTTL: getEnvDuration("PENDING_REGISTRATION_TTL", 5*time.Minute),
		OTPTTL:                 getEnvDuration("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts:         getEnvInt("OTP_MAX_ATTEMPTS", 5),
		ProfileCacheTTL:        getEnvDuration("PROFILE_CACHE_TTL", time.Hour),

		RateLimits: RateLimits{
			Register: RateLimit{
				Max:    getEnvInt("RATE_REGISTER_MAX", 1),
				Window: getEnvDuration("RATE_REGISTER_WINDOW", time.Minute),
			},
			Login: RateLimit{
				Max:    getEnvInt("RATE_LOGIN_MAX", 3),
				Window: getEnvDuration("RATE_LOGIN_WINDOW", time.Minute),
			},
			VerifyOTP: RateLimit{
				Max:    getEnvInt("RATE_VERIFY_OTP_MAX", 5),
				Window: getEnvDuration("RATE_VERIFY_OTP_WINDOW", 5*time.Minute),
			},
		},
		IPThrottleRPS:   getEnvFloat("IP_THROTTLE_RPS", 5),
		IPThrottleBurst: getEnvInt("IP_THROTTLE_BURST", 10),

		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		EnumerationSafe:        getEnvBool("ENUMERATION_SAFE", true),
		PasswordMinEntropyBits: getEnvFloat("PASSWORD_MIN_ENTROPY_BITS", 0),
		BcryptCost:             getEnvInt("BCRYPT_COST", 10),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		VerifyURLBase: getEnv("VERIFY_URL_BASE", "http://localhost:5173/token/"),
	}
}

// IsProduction reports whether cookies must carry the Secure flag.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "168h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
