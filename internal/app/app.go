// Package app wires configuration, storage, the OAuth2 managers, the
// dispatcher and the HTTP surface into a runnable service.
package app

import (
	"fmt"
	"strconv"

	"crm-mailer/internal/auth"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/config"
	"crm-mailer/internal/crypto"
	"crm-mailer/internal/handlers"
	"crm-mailer/internal/mailer"
	"crm-mailer/internal/oauth2"
	"crm-mailer/internal/ratelimit"
	"crm-mailer/internal/redis"
	"crm-mailer/internal/storage"
)

type App struct {
	cfg         *config.Config
	logger      logging.Logger
	store       *storage.Store
	redisClient *redis.Client
	states      *oauth2.StateStore
	handlers    *handlers.Handlers
	auth        *auth.Auth
	stopCleanup chan struct{}
}

// New builds the full dependency graph. Configuration must already be
// validated.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	vault, err := crypto.NewVault(cfg.VaultEncryptionKey)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DatabaseType, databaseDSN(cfg))
	if err != nil {
		return nil, err
	}

	limit, window := cfg.SendRate()
	var limiter ratelimit.Limiter
	var redisClient *redis.Client
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		limiter = ratelimit.NewRedisLimiter(redisClient, limit, window)
		logger.Info("Using Redis rate limiter", logging.String("address", cfg.RedisAddress))
	} else {
		limiter = ratelimit.NewMemoryLimiter(limit, window)
		logger.Info("Using in-memory rate limiter")
	}

	states := oauth2.NewStateStore()

	handshake := oauth2.NewHandshake(store, vault, states, oauth2.HandshakeConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
	}, logger)

	lifecycle := oauth2.NewLifecycle(store, vault, oauth2.LifecycleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		TokenURL:     "https://oauth2.googleapis.com/token",
	}, logger)

	dispatcher := mailer.NewDispatcher(store, lifecycle, limiter, mailer.NewGmailSender(), logger)

	return &App{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		redisClient: redisClient,
		states:      states,
		handlers:    handlers.New(store, handshake, lifecycle, dispatcher, logger),
		auth:        auth.New(cfg.JWTSecret),
		stopCleanup: make(chan struct{}),
	}, nil
}

func databaseDSN(cfg *config.Config) string {
	if cfg.DatabaseType == "sqlite" {
		return cfg.DatabasePath
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost,
		cfg.PostgresPort, cfg.PostgresDB, cfg.PostgresSSLMode)
}

// Close releases storage and Redis handles.
func (a *App) Close() {
	close(a.stopCleanup)
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", logging.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", logging.Err(err))
	}
}
