package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"affsync/internal/delivery"
	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/networks"
	"affsync/internal/usecase"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("Starting server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	proxies, closeProxies := proxyPool(ctx, cfg, log)
	defer closeProxies()

	var captcha domain.CaptchaSolver
	if cfg.External.CaptchaAPIKey != "" {
		solver, err := infrastructure.NewTwoCaptchaSolver(
			cfg.External.CaptchaAPIURL,
			cfg.External.CaptchaAPIKey,
			cfg.External.CaptchaPoll,
			cfg.External.CaptchaMaxPolls,
			log, m,
		)
		if err != nil {
			return fmt.Errorf("failed to create captcha solver: %w", err)
		}
		captcha = solver
	}

	var sheetsOptions []option.ClientOption
	if cfg.External.GoogleAPIKey != "" {
		sheetsOptions = append(sheetsOptions, option.WithAPIKey(cfg.External.GoogleAPIKey))
	}

	registry := networks.NewRegistry(networks.Deps{
		Logger:        log,
		Metrics:       m,
		Captcha:       captcha,
		Proxies:       proxies,
		Endpoints:     cfg.Networks,
		Sync:          cfg.Sync,
		SheetsOptions: sheetsOptions,
	})

	var processor domain.DataProcessor = infrastructure.NewMemoryDataProcessor(log)
	if cfg.External.SinkURL != "" {
		sink, err := infrastructure.NewHTTPDataProcessor(cfg.External.SinkURL, cfg.External.SinkSecret, cfg.Sync.RequestTimeout, log, m)
		if err != nil {
			return fmt.Errorf("failed to create data processor: %w", err)
		}
		processor = sink
	}

	logRepository := infrastructure.NewSyncLogRepository(log)
	syncLogs := infrastructure.MultiSyncLogWriter{logRepository}
	if len(cfg.External.KafkaBrokers) > 0 {
		publisher, err := infrastructure.NewKafkaSyncLogPublisher(cfg.External.KafkaBrokers, cfg.External.KafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to create sync log publisher: %w", err)
		}
		defer publisher.Close()
		syncLogs = append(syncLogs, publisher)
	}

	var decrypter domain.Decrypter
	if cfg.External.CredentialsKey != "" {
		cipher, err := infrastructure.NewSecretboxCipher(cfg.External.CredentialsKey)
		if err != nil {
			return fmt.Errorf("failed to load credentials key: %w", err)
		}
		decrypter = cipher
	}

	syncService := usecase.NewSyncService(
		registry,
		infrastructure.NewConnectionRepository(log),
		processor,
		syncLogs,
		decrypter,
		domain.SystemClock{},
		log,
		m,
		cfg.Sync.WorkerPoolSize,
		cfg.Sync.AuthFailureThreshold,
	)
	reportService := usecase.NewReportService(logRepository, log)

	gin.SetMode(gin.ReleaseMode)
	handlers := delivery.NewHTTPHandlers(syncService, reportService, log)
	router := delivery.NewHTTPRouter(handlers, log, m, prometheus.DefaultGatherer, cfg.Server.RequestTimeout)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// proxyPool shares proxy failure counters through Redis when configured.
func proxyPool(ctx context.Context, cfg *config.Config, log *logger.Logger) (domain.ProxyPool, func()) {
	if cfg.External.RedisAddr == "" {
		return infrastructure.NewMemoryProxyPool(cfg.External.Proxies, cfg.Sync.ProxyFailureLimit), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.External.RedisAddr,
		Password: cfg.External.RedisPassword,
		DB:       cfg.External.RedisDB,
	})
	pool := infrastructure.NewRedisProxyPool(client, "affsync", cfg.Sync.ProxyFailureLimit)

	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := client.Ping(seedCtx).Err()
	if err == nil {
		err = pool.Add(seedCtx, cfg.External.Proxies...)
	}
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-memory proxy pool")
		_ = client.Close()
		return infrastructure.NewMemoryProxyPool(cfg.External.Proxies, cfg.Sync.ProxyFailureLimit), func() {}
	}
	return pool, func() { _ = client.Close() }
}
