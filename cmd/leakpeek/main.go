package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/leakpeek/leakpeek/internal/intelx"
	"github.com/leakpeek/leakpeek/internal/notifications"
	"github.com/leakpeek/leakpeek/internal/payments"
	"github.com/leakpeek/leakpeek/internal/proxyrot"
	"github.com/leakpeek/leakpeek/internal/quota"
	"github.com/leakpeek/leakpeek/internal/search"
	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
	"github.com/leakpeek/leakpeek/internal/sweeper"
	"github.com/leakpeek/leakpeek/internal/webserver"
	"github.com/leakpeek/leakpeek/pkg/auth"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found")
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			logger.WithError(err).Fatal("Invalid LOG_LEVEL")
		}
		logger.SetLevel(level)
	}

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Service terminated")
	}
}

func run(logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	storageConfig, err := storage.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load storage config: %w", err)
	}
	store, err := openStore(storageConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.WithError(err).Error("Failed to close store")
		}
	}()

	proxyConfig, err := proxyrot.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load proxy config: %w", err)
	}
	rotator := proxyrot.New(proxyConfig.Pool, proxyConfig.RotationInterval, logger)
	logger.WithField("proxies", len(proxyConfig.Pool)).Info("Proxy rotator initialized")

	intelxConfig, err := intelx.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load intelligence API config: %w", err)
	}
	client := intelx.NewClient(intelxConfig, rotator, logger)

	notifConfig, err := notifications.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load notification config: %w", err)
	}
	notifier, err := notifications.NewNotifier(notifConfig.ShoutrrrURLs)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	paymentsConfig, err := payments.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load payment config: %w", err)
	}
	var processor *payments.Processor
	var rateSource payments.RateSource
	if paymentsConfig.Configured() {
		processor = payments.NewProcessor(paymentsConfig, logger)
		rateSource = processor
		logger.Info("Payment processor configured")
	} else {
		logger.Warn("No payment processor configured, running in manual-fallback mode")
	}
	rates := payments.NewRateCache(rateSource, logger)
	paymentsSvc := payments.NewService(paymentsConfig, store, processor, rates, notifier, logger)

	sweep := sweeper.New(paymentsSvc, logger)
	if err := sweep.Start(ctx); err != nil {
		return fmt.Errorf("failed to start payment sweeper: %w", err)
	}
	defer sweep.Stop()

	authConfig, err := auth.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load auth config: %w", err)
	}
	authHandler := auth.NewHandler(authConfig, store, logger)
	authHandler.OnLogin = func(ctx context.Context, user auth.UserInfo) error {
		return provisionAccount(ctx, store, user)
	}

	webConfig, err := webserver.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load webserver config: %w", err)
	}

	gate := quota.NewGate(store, logger)
	searchSvc := search.NewService(store, gate, client, webConfig.MaxConcurrency, logger)

	server := webserver.NewWebServer(webConfig, store, searchSvc, paymentsSvc, authHandler, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("webserver failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// provisionAccount creates a free account on first login and keeps the
// profile fields fresh on subsequent ones.
func provisionAccount(ctx context.Context, store storage.Store, user auth.UserInfo) error {
	acct, err := store.GetAccount(ctx, user.Sub)
	if errors.Is(err, storage.ErrAccountNotFound) {
		now := time.Now().UTC()
		return store.PutAccount(ctx, models.Account{
			UserID:    user.Sub,
			Email:     user.Email,
			Name:      user.Name,
			Status:    models.SubscriptionFree,
			LastReset: now,
			CreatedAt: now,
		})
	}
	if err != nil {
		return err
	}

	if acct.Email != user.Email || acct.Name != user.Name {
		acct.Email = user.Email
		acct.Name = user.Name
		return store.PutAccount(ctx, acct)
	}
	return nil
}

func openStore(config *storage.Config, logger *logrus.Logger) (storage.Store, error) {
	switch config.Type {
	case "bolt":
		return storage.NewBoltStore(config.Path, logger)
	case "redis":
		return storage.NewRedisStore(config)
	case "postgres":
		return storage.NewPostgresStore(config.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_TYPE: %s", config.Type)
	}
}
