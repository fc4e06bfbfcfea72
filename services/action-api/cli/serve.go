package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rhoffman0214/BobsComponents/internal/executor"
	"github.com/rhoffman0214/BobsComponents/internal/kafka"
	"github.com/rhoffman0214/BobsComponents/internal/operations"
	"github.com/rhoffman0214/BobsComponents/internal/queue"
	redisstore "github.com/rhoffman0214/BobsComponents/internal/redis"
	"github.com/rhoffman0214/BobsComponents/internal/version"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
	"github.com/rhoffman0214/BobsComponents/services/action-api/config"
	"github.com/rhoffman0214/BobsComponents/services/action-api/handler"
	"github.com/rhoffman0214/BobsComponents/services/action-api/launcher"
	"github.com/rhoffman0214/BobsComponents/services/action-api/middleware"
	"github.com/rhoffman0214/BobsComponents/services/action-api/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, cleanup sweeper and change-event publisher",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http-port", "8080", "HTTP server port")
	f.String("metrics-addr", ":9095", "Prometheus metrics server address")
	f.Int("max-concurrent", queue.DefaultMaxConcurrent, "maximum actions running at once")
	f.Duration("retention", queue.DefaultRetention, "how long completed actions stay visible")
	f.String("cleanup-schedule", sweeper.DefaultSchedule, "cron schedule for removing completed actions")
	f.String("retry-preset", executor.PresetNone, "default retry preset: none | fast | network")
	f.Duration("operation-timeout", 0, "deadline for one action including retries; 0 disables")
	f.String("redis-addr", "", "Redis address (host:port); empty disables rate limiting")
	f.Int("rate-limit", 60, "submissions allowed per client per window")
	f.Duration("rate-window", time.Minute, "rate limit window")
	f.String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables change events")
	f.String("events-topic", kafka.DefaultEventsTopic, "Kafka topic for queue change events")
	f.String("placeholder-url", operations.DefaultPlaceholderURL, "base URL for the fetch-* operations")
	f.Float64("failure-rate", 0.3, "failure probability of the unreliable operation")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", f, "http-port")
	bindFlag("metrics_addr", f, "metrics-addr")
	bindFlag("max_concurrent", f, "max-concurrent")
	bindFlag("retention", f, "retention")
	bindFlag("cleanup_schedule", f, "cleanup-schedule")
	bindFlag("retry_preset", f, "retry-preset")
	bindFlag("operation_timeout", f, "operation-timeout")
	bindFlag("redis_addr", f, "redis-addr")
	bindFlag("rate_limit", f, "rate-limit")
	bindFlag("rate_window", f, "rate-window")
	bindFlag("kafka_brokers", f, "kafka-brokers")
	bindFlag("events_topic", f, "events-topic")
	bindFlag("placeholder_url", f, "placeholder-url")
	bindFlag("failure_rate", f, "failure-rate")
	bindFlag("otel_endpoint", f, "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, serviceName)
	if f := viper.ConfigFileUsed(); f != "" {
		logger.Info("config loaded", slog.String("file", f))
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Endpoint:       cfg.OTelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown", slog.String("error", err.Error()))
		}
	}()

	q := queue.NewService(
		queue.WithMaxConcurrent(cfg.MaxConcurrent),
		queue.WithRetention(cfg.Retention),
		queue.WithLogger(logger),
	)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	preset, err := executor.PresetByName(cfg.RetryPreset)
	if err != nil {
		return err
	}
	l := launcher.New(q, registry,
		launcher.WithRetry(preset),
		launcher.WithTimeout(cfg.OperationTimeout),
		launcher.WithLogger(logger),
	)

	sw, err := sweeper.New(cfg.CleanupSchedule, q, logger)
	if err != nil {
		return err
	}

	// ── Redis rate limiter (optional) ─────────────────────────────────────────
	var (
		limiter redisstore.RateLimiter
		checks  []telemetry.Check
	)
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisstore.Ping(pingCtx, redisClient); err != nil {
			logger.Warn("redis not reachable at startup, rate limiter fails open", slog.String("error", err.Error()))
		}
		cancel()

		limiter = redisstore.NewRateLimiter(redisClient, cfg.RateLimit, cfg.RateWindow)
		checks = append(checks, telemetry.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return redisstore.Ping(ctx, redisClient) },
		})
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	// ── Kafka change events (optional) ────────────────────────────────────────
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers)
		defer func() { _ = producer.Close() }()

		publisher := kafka.NewPublisher(producer, cfg.EventsTopic, kafka.WithPublisherLogger(logger))
		defer publisher.Watch(q)()
		g.Go(func() error { return publisher.Run(ctx) })
		logger.Info("publishing queue changes", slog.String("topic", cfg.EventsTopic))
	}

	g.Go(func() error { return sw.Run(ctx) })

	// ── Prometheus metrics ────────────────────────────────────────────────────
	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, logger, checks...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	rest := handler.NewREST(l, q, limiter, logger)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", rest.Healthz)
	r.Get("/readyz", telemetry.ReadyHandler(checks...))
	rest.Routes(r)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("action-api HTTP starting",
			slog.String("addr", httpSrv.Addr),
			slog.Int("max_concurrent", cfg.MaxConcurrent),
			slog.String("retry_preset", cfg.RetryPreset),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
		}
		if err := l.Drain(shutCtx); err != nil {
			logger.Warn("in-flight actions cancelled at shutdown", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// buildRegistry registers the demo operations. The fetch client carries its
// own timeout so a stalled placeholder API cannot pin a slot forever.
func buildRegistry(cfg config.Config) (*operations.Registry, error) {
	fetcher := operations.NewJSONFetcher(cfg.PlaceholderURL,
		operations.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
	)
	registry, err := operations.Defaults(fetcher, cfg.FailureRate)
	if err != nil {
		return nil, fmt.Errorf("operations: %w", err)
	}
	return registry, nil
}
