package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agentscan/internal/async"
	"agentscan/internal/config"
	"agentscan/internal/database"
	"agentscan/internal/handler"
	"agentscan/internal/logger"
	"agentscan/internal/ratelimit"
	"agentscan/internal/redis"
	"agentscan/internal/repository"
	"agentscan/internal/service"
	"agentscan/internal/storage"
	"agentscan/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

func Run() error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	db, err := database.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 3. Blob storage
	blobs, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 4. Rate limiter: Redis when configured, in-process otherwise
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rdb.Close()

		if err := rdb.Ping(ctx); err != nil {
			log.Warn("redis unreachable, using in-process rate limiter", zap.Error(err))
		} else {
			limiter = ratelimit.NewFailOpen(ratelimit.NewRedisLimiter(rdb.Client, cfg.RateLimitPerMinute), log)
		}
	}

	// 5. Push backends
	var expo, fcm service.Notifier
	if cfg.ExpoPushEnabled {
		expo = service.NewExpoPushClient(log)
	}
	if cfg.FCMConfigured() {
		client, err := service.NewFCMClient(ctx, cfg.FCMProjectID, cfg.FCMClientEmail, cfg.FCMPrivateKey, log)
		if err != nil {
			log.Warn("fcm disabled", zap.Error(err))
		} else {
			fcm = client
		}
	}
	push := service.NewPushRouter(expo, fcm, log)

	runner := async.NewRunner(log, async.DefaultTaskTimeout)

	// 6. Repositories and services
	keyRepo := repository.NewAPIKeyRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	requestRepo := repository.NewScanRequestRepository(db)
	resultRepo := repository.NewScanResultRepository(db)
	pairingRepo := repository.NewPairingRepository(db)

	creds := service.NewCredentialService(keyRepo, deviceRepo, runner, log)
	devices := service.NewDeviceService(deviceRepo, log)
	pairing := service.NewPairingService(pairingRepo, keyRepo, cfg.BaseURL, log)
	webhooks := service.NewWebhookClient(cfg.BaseURL, log)
	delivery := service.NewDeliveryService(requestRepo, resultRepo, blobs, webhooks, runner, cfg.BaseURL, cfg.ResultTTL, log)
	lifecycle := service.NewLifecycleService(requestRepo, deviceRepo, delivery, push, runner, cfg.DefaultExpiresIn, log)

	sweep := sweeper.New(requestRepo, resultRepo, blobs, sweeper.Config{Interval: cfg.CleanupInterval}, log)
	sweep.Start()

	router := NewRouter(RouterConfig{
		KeyHandler:           handler.NewKeyHandler(creds, log),
		DeviceHandler:        handler.NewDeviceHandler(devices, pairing, log),
		RequestHandler:       handler.NewRequestHandler(lifecycle, delivery, log),
		DeviceRequestHandler: handler.NewDeviceRequestHandler(lifecycle, cfg.MaxUploadBytes, log),
		DashboardHandler:     handler.NewDashboardHandler(creds, devices, pairing, log),
		Authenticator:        creds,
		DeviceAuthorizer:     creds,
		Limiter:              limiter,
		JWTSecret:            cfg.JWTSecret,
		Logger:               log,
	})

	srv := &stdhttp.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("base_url", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			sweep.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// 7. Graceful shutdown: stop intake, drain background work, then close stores
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("background tasks did not finish", zap.Error(err))
	}
	sweep.Stop()

	log.Info("server stopped")
	return nil
}
