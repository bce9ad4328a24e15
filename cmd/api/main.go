package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-auth-session/internal/application/auth"
	"github.com/go-auth-session/internal/application/session"
	"github.com/go-auth-session/internal/application/token"
	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-auth-session/internal/infrastructure/jwt"
	redisinfra "github.com/go-auth-session/internal/infrastructure/redis"
	"github.com/go-auth-session/internal/infrastructure/smtp"
	transporthttp "github.com/go-auth-session/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	if err := run(config.Load()); err != nil {
		log.Fatal(err)
	}
}

// run owns every resource it opens, so its defers still fire when startup
// fails part way.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Ephemeral store. Startup fails if Redis is unreachable.
	redisClient, err := redisinfra.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	keys := redisinfra.NewKeys(cfg.RedisPrefix)

	// Credential store (creates the table if it doesn't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dynamodb: %w", err)
	}
	if err := dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables); err != nil {
		return fmt.Errorf("dynamodb bootstrap: %w", err)
	}
	accounts := dynamo.NewAccountRepo(dynamoClient, cfg.DynamoTables.Accounts)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	templates, err := smtp.NewTemplates()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	profiles := redisinfra.NewProfileCache(redisClient, keys)
	tokens := token.NewService(jwtProvider, redisinfra.NewRefreshStore(redisClient, keys), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	authSvc, err := auth.NewService(auth.ServiceDeps{
		Pending: redisinfra.NewPendingStore(redisClient, keys),
		OTPs:    redisinfra.NewOTPStore(redisClient, keys),
		Limiter: redisinfra.NewRateLimiter(redisClient, keys, map[string]config.RateLimit{
			auth.ActionRegister:  cfg.RateLimits.Register,
			auth.ActionLogin:     cfg.RateLimits.Login,
			auth.ActionVerifyOTP: cfg.RateLimits.VerifyOTP,
		}),
		Accounts:  accounts,
		Profiles:  profiles,
		Mailer:    smtp.NewMailer(cfg),
		Templates: templates,
		Tokens:    tokens,
	}, auth.Options{
		PendingTTL:      cfg.PendingRegistrationTTL,
		OTPTTL:          cfg.OTPTTL,
		OTPMaxAttempts:  cfg.OTPMaxAttempts,
		ProfileTTL:      cfg.ProfileCacheTTL,
		VerifyURLBase:   cfg.VerifyURLBase,
		EnumerationSafe: cfg.EnumerationSafe,
		MinEntropyBits:  cfg.PasswordMinEntropyBits,
		BcryptCost:      cfg.BcryptCost,
	})
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	router, stopRouter := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Auth:  authSvc,
		Guard: session.NewGuard(tokens, profiles, accounts, cfg.ProfileCacheTTL),
	})
	defer stopRouter()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
	return nil
}
