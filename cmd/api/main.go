package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentorbook/internal/api"
	"mentorbook/internal/clock"
	"mentorbook/internal/config"
	"mentorbook/internal/database"
	"mentorbook/internal/events"
	"mentorbook/internal/logging"
	"mentorbook/internal/metrics"
	"mentorbook/internal/payments"
	"mentorbook/internal/quota"
	"mentorbook/internal/reconcile"
	"mentorbook/internal/reservation"
	"mentorbook/internal/service"
	"mentorbook/internal/worker"

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
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	store, err := database.NewStore(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer store.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	clk := clock.System{}
	bus := events.NewEventBus()
	subscribeNotificationLog(bus, &logger)

	coordinator := reservation.NewCoordinator(
		reservation.NewTable(),
		store,
		clk,
		time.Duration(cfg.Booking.HoldTTLMinutes)*time.Minute,
		&logger,
	)

	gate := quota.NewGate(quotaStore(redisClient, clk), clk, quotaLimits(cfg), bus, &logger)

	gateway := payments.NewStripeGateway(
		cfg.Payments.StripeAPIKey,
		cfg.Payments.SuccessURL,
		cfg.Payments.CancelURL,
		&logger,
	)

	bookingService := service.NewBookingService(
		store, coordinator, gate, gateway, bus, clk, cfg.Booking.MaxAdvanceDays, &logger,
	)
	reconciler := reconcile.NewReconciler(store, coordinator, bus, &logger)

	httpServer := api.NewHTTPServer(cfg.API, bookingService, reconciler, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	maintenance := worker.NewMaintenance(
		coordinator,
		bookingService,
		time.Duration(cfg.Booking.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Booking.CompletionIntervalSeconds)*time.Second,
		worker.RetryPolicy{},
		&logger,
	)
	go maintenance.Run(ctx)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// quotaStore picks the redis-backed counter store when redis is available;
// otherwise quota counters live in process memory.
func quotaStore(redisClient *redis.Client, clk clock.System) quota.CounterStore {
	if redisClient != nil {
		return quota.NewRedisCounterStore(redisClient)
	}
	return quota.NewMemoryCounterStore(clk)
}

func quotaLimits(cfg *config.Config) map[string]quota.Limit {
	limits := make(map[string]quota.Limit, len(cfg.Quotas))
	for _, q := range cfg.Quotas {
		limits[q.Feature] = quota.Limit{
			Ceiling: q.Ceiling,
			Period:  quota.Period(q.Period),
		}
	}
	return limits
}

// subscribeNotificationLog records emitted booking events. Actual delivery
// (mail, push) hangs off the same bus in downstream services.
func subscribeNotificationLog(bus *events.EventBus, logger *zerolog.Logger) {
	eventLog := logger.With().Str("component", "events").Logger()
	for _, eventType := range []string{
		events.EventBookingRequested,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingCompleted,
		events.EventQuotaDenied,
	} {
		et := eventType
		bus.Subscribe(et, func(e *events.Event) error {
			eventLog.Info().Str("event", et).RawJSON("payload", e.Payload).Msg("domain event")
			return nil
		})
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
