package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/atlas-platform/edge-gateway/internal/auth"
	"github.com/atlas-platform/edge-gateway/internal/config"
	"github.com/atlas-platform/edge-gateway/internal/controlplane"
	"github.com/atlas-platform/edge-gateway/internal/handler"
	"github.com/atlas-platform/edge-gateway/internal/listener"
	"github.com/atlas-platform/edge-gateway/internal/middleware"
	"github.com/atlas-platform/edge-gateway/internal/ratelimit"
	"github.com/atlas-platform/edge-gateway/internal/route"
	"github.com/atlas-platform/edge-gateway/internal/tenant"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration.
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	envConfigPath := os.Getenv("ENV_CONFIG_PATH")

	cfg, err := config.Load(configPath, envConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger.
	logger := newLogger(cfg.Observability.Log)

	// Initialize Redis client.
	var redisClient redis.Cmdable
	if cfg.Redis.MasterName != "" {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Redis.MasterName,
			SentinelAddrs: []string{cfg.Redis.Addr},
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Verify Redis connectivity. The gateway still starts when Redis is
	// down: rate limiting fails open and provider lookups skip the cache.
	if pinger, ok := redisClient.(*redis.Client); ok {
		if err := pinger.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
		}
	}

	// Initialize control plane client.
	cpTimeout := config.ParseDuration(cfg.ControlPlane.Timeout, 10*time.Second)
	cpClient := controlplane.NewClient(cfg.ControlPlane.BaseURL, cpTimeout)

	// Initialize tenant slug cache and load the initial slug map.
	slugCache := tenant.NewSlugCache(cpClient, logger)
	if err := slugCache.Refresh(ctx); err != nil {
		logger.Warn("initial tenant slug load failed", slog.String("error", err.Error()))
	}

	// Initialize governor limit cache and load the initial limits.
	window := config.ParseDuration(cfg.RateLimit.Window, ratelimit.DefaultWindow)
	governorCache := ratelimit.NewGovernorLimitCache(cfg.RateLimit.DefaultAPICallsPerDay, window, logger)
	if limits, err := cpClient.FetchGovernorLimits(ctx); err != nil {
		logger.Warn("initial governor limit load failed", slog.String("error", err.Error()))
	} else {
		governorCache.ReplaceAll(dailyBudgets(limits))
	}

	// Initialize route table. Routing cannot work without it, so the
	// initial load is required.
	routeTable := route.NewTable(cpClient, logger)
	if err := routeTable.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load route table: %w", err)
	}

	// Initialize token verification.
	providerCacheTTL := config.ParseDuration(cfg.Auth.ProviderCacheTTL, 15*time.Minute)
	resolver := auth.NewProviderResolver(cpClient, redisClient, cfg.Auth.FallbackIssuer, providerCacheTTL, logger)
	clockSkew := config.ParseDuration(cfg.Auth.ClockSkew, 30*time.Second)
	verifier := auth.NewDynamicVerifier(ctx, resolver, cfg.Auth.DefaultAudience, clockSkew, logger)

	// Initialize rate limiting.
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(redisClient), logger)

	// Initialize handlers.
	healthHandler := handler.NewHealthHandler(redisClient, routeTable)
	upstreamTimeout := config.ParseDuration(cfg.Upstream.Timeout, 30*time.Second)
	proxyHandler := handler.NewProxyHandler(routeTable, upstreamTimeout, logger)

	// Start the configuration change event listener.
	if cfg.Kafka.Enabled {
		eventListener := listener.NewConfigEventListener(
			listener.ReaderConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
				GroupID: cfg.Kafka.GroupID,
			},
			verifier, governorCache, slugCache, routeTable, logger,
		)
		go func() {
			if err := eventListener.Run(ctx); err != nil {
				logger.Error("config event listener stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// Start periodic background refreshes as a safety net for missed events.
	go refreshLoop(ctx, config.ParseDuration(cfg.Tenant.RefreshInterval, 5*time.Minute), func(ctx context.Context) {
		if err := slugCache.Refresh(ctx); err != nil {
			logger.Warn("tenant slug refresh failed", slog.String("error", err.Error()))
		}
	})
	go refreshLoop(ctx, config.ParseDuration(cfg.RateLimit.RefreshInterval, 5*time.Minute), func(ctx context.Context) {
		if limits, err := cpClient.FetchGovernorLimits(ctx); err != nil {
			logger.Warn("governor limit refresh failed", slog.String("error", err.Error()))
		} else {
			governorCache.ReplaceAll(dailyBudgets(limits))
		}
	})
	go refreshLoop(ctx, config.ParseDuration(cfg.ControlPlane.RouteRefreshInterval, 5*time.Minute), func(ctx context.Context) {
		if err := routeTable.Refresh(ctx); err != nil {
			logger.Warn("route table refresh failed", slog.String("error", err.Error()))
		}
	})

	// Initialize OpenTelemetry tracer provider.
	if cfg.Observability.Trace.Enabled {
		tp, err := initTracerProvider(ctx, cfg)
		if err != nil {
			logger.Warn("Failed to initialize OTel tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	// Set up Gin router.
	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics := middleware.NewMetrics(cfg.App.Name)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(middleware.CorrelationMiddleware())

	// Health / Metrics endpoints (no auth required).
	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Observability.Metrics.Enabled {
		metricsPath := cfg.Observability.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Everything else goes through tenant resolution, credential
	// validation and rate limiting before being proxied. Registered as the
	// NoRoute chain because the proxy must catch arbitrary paths, which a
	// root-level wildcard route cannot do next to the explicit routes above.
	platformPaths := append([]string{"/healthz", "/readyz", "/metrics"}, cfg.Tenant.PlatformPaths...)
	publicPaths := middleware.NewPublicPathMatcher(cfg.Auth.PublicPaths)

	router.NoRoute(
		middleware.TenantSlugMiddleware(slugCache, middleware.TenantSlugConfig{
			RequirePrefix: cfg.Tenant.RequirePrefix,
			PlatformPaths: platformPaths,
		}, logger),
		middleware.AuthMiddleware(verifier, publicPaths, logger),
		middleware.RateLimitMiddleware(limiter, governorCache, routeTable),
		proxyHandler.Handle,
	)

	// Start HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Edge gateway starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown.
	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("Edge gateway stopped")
	return nil
}

// dailyBudgets flattens control plane governor limit records into the
// tenant-to-budget map the cache stores.
func dailyBudgets(limits map[string]controlplane.GovernorLimit) map[string]int64 {
	budgets := make(map[string]int64, len(limits))
	for tenantID, limit := range limits {
		budgets[tenantID] = limit.APICallsPerDay
	}
	return budgets
}

// refreshLoop runs fn every interval until the context is cancelled.
func refreshLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func initTracerProvider(ctx context.Context, cfg *config.GatewayConfig) (*sdktrace.TracerProvider, error) {
	endpoint := cfg.Observability.Trace.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.App.Name),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Observability.Trace.SampleRate))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newLogger(logCfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var h slog.Handler
	if logCfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}
