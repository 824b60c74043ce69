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

	"slotbook/internal/api"
	"slotbook/internal/clock"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/mq"
	"slotbook/internal/repository"
	"slotbook/internal/service"
	"slotbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "api-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := initBookingStore(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if cfg.Backup.Enabled {
			backupService := database.NewBackupService(db, cfg.Backup, baseLogger)
			go backupService.Start(ctx)
		}
	}

	redisClient, notifyStore := initNotificationStore(ctx, cfg, baseLogger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewEventBus()

	notifier, publisher, err := initNotifier(cfg, eventBus, baseLogger)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Notifications.MaxRetries,
		InitialDelay:  cfg.Notifications.BaseDelay,
		MaxDelay:      cfg.Notifications.MaxDelay,
		BackoffFactor: 2,
	}
	dispatcher := worker.NewDispatcher(notifier, redisClient, retry, cfg.Notifications.QueueSize, baseLogger)
	go dispatcher.Start(ctx)

	loc, err := cfg.Booking.Location()
	if err != nil {
		return fmt.Errorf("booking timezone: %w", err)
	}

	clk := clock.System{}
	registry := service.NewNotificationRegistry(notifyStore, clk, loc, baseLogger)
	engine := service.NewAvailabilityEngine(
		store,
		registry,
		service.NewStaticCalendar(cfg.Booking.BlockedSlots()),
		dispatcher,
		eventBus,
		clk,
		service.EngineConfig{Location: loc, MaxBookingDays: cfg.Booking.MaxBookingDays},
		baseLogger,
	)

	sweeper := worker.NewSweeper(engine, cfg.Sweeper.Interval, baseLogger)
	go sweeper.Start(ctx)

	startMetrics(ctx, cfg, logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; running background workers only")
		<-ctx.Done()
		return nil
	}

	var checks []api.ReadinessCheck
	if redisClient != nil {
		checks = append(checks, api.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	httpServer := api.NewHTTPServer(cfg.API, engine, baseLogger, checks...)

	return serve(ctx, httpServer, cfg, logger)
}

func initBookingStore(cfg *config.Config, logger *zerolog.Logger) (domain.BookingStore, *database.DB, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn().Msg("memory storage selected; bookings are lost on restart")
		return repository.NewMemoryBookingStore(), nil, nil
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}
	return db, db, nil
}

// initNotificationStore prefers Redis and falls back to memory while Redis is down.
func initNotificationStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.NotificationStore) {
	memory := repository.NewMemoryNotificationStore(clock.System{})
	if cfg.Redis.Address == "" {
		return nil, memory
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	primary := repository.NewRedisNotificationStore(redisClient, logger)
	if err := primary.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	return redisClient, repository.NewFailoverNotificationStore(primary, memory, logger)
}

func initNotifier(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) (worker.Notifier, *mq.Publisher, error) {
	if cfg.Notifications.AMQPURL == "" {
		return worker.LogNotifier{Logger: logger}, nil, nil
	}

	publisher, err := mq.NewPublisher(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange)
	if err != nil {
		logger.Error().Err(err).Str("exchange", cfg.Notifications.Exchange).Msg("connect amqp")
		return nil, nil, err
	}

	mq.ForwardEvents(bus, publisher, cfg.Notifications.PublishTimeout, logger)
	notifier := mq.NewSlotNotifier(publisher, cfg.Notifications.RoutingKey, cfg.Notifications.PublishTimeout)
	return notifier, publisher, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
