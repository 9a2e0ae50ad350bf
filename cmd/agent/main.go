// Package main is the entry point for the CrossWatch intersection agent.
//
// It resolves configuration (environment, dotenv, SSM), builds the component
// graph (camera state view and Kafka ingest, weather cache, VLM analyzer,
// snapshot aggregator, optional archive/alert/metrics/rate-limit
// integrations), mounts the HTTP surface on the core chassis, and runs until
// a shutdown signal arrives.
//
// Optional subsystems degrade to disabled rather than failing startup: a
// missing DATABASE_URL disables the snapshot archive, a missing
// SQS_ALERT_QUEUE disables critical-alert publishing, a missing REDIS_URL
// falls back to the in-process rate limit store. IS_TEST_MODE swaps the
// weather and VLM upstreams for deterministic stubs and replaces the Kafka
// consumers with a synthetic camera feed so the agent is fully servable with
// zero infrastructure.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the HTTP listener drains first, then the ingest consumers stop, then
// in-flight post-assembly hooks (archive inserts, alert publishes) are waited
// out before connections close.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"crosswatch/internal/api/handlers"
	"crosswatch/internal/camera"
	"crosswatch/internal/config"
	"crosswatch/internal/core"
	"crosswatch/internal/db"
	"crosswatch/internal/intelligence"
	"crosswatch/internal/metrics"
	"crosswatch/internal/queue"
	"crosswatch/internal/ratelimit"
	"crosswatch/internal/settings"
	"crosswatch/internal/types"
	"crosswatch/internal/vlm"
	"crosswatch/internal/weather"
)

// syntheticFeedInterval is how often the test-mode feed refreshes the camera
// state view.
const syntheticFeedInterval = 2 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// Load configuration. Non-local environments resolve secrets through SSM
	// Parameter Store; locally the provider stays nil and resolution is
	// bypassed.
	var provider config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("crosswatch agent starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"intersection_id", cfg.Intersection.ID,
		"test_mode", cfg.IsTestMode,
	)

	ctx := context.Background()
	clock := types.RealClock{}

	// The settings store seeds the operator-tunable values (threshold, weather
	// marker, incident type) from boot configuration and owns them from here on.
	store := settings.NewStore(cfg, logger)

	// AWS SDK configuration is shared by the SSM, CloudWatch and SQS clients.
	// Loading it does not touch the network; credential resolution is deferred
	// until the first API call.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	// Metrics recorder. Test mode never reports to CloudWatch regardless of
	// the feature flag.
	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Feature.EnableMetrics && !cfg.IsTestMode {
		cwClient := newCloudWatchClient(awsCfg, cfg.AWS.EndpointURL)
		rec = metrics.NewCloudWatchRecorder(cwClient, cfg.AWS.MetricNamespace, cfg.Intersection.ID, logger)
		logger.Info("CloudWatch metrics enabled", "namespace", cfg.AWS.MetricNamespace)
	} else {
		logger.Info("metrics recording disabled, using no-op recorder")
	}

	// Weather: the NWS client behind the TTL cache, or the canned stub in
	// test mode.
	var fetcher weather.Fetcher
	if cfg.IsTestMode {
		logger.Warn("IS_TEST_MODE set, using stub weather fetcher")
		fetcher = weather.NewStubFetcher(clock, logger)
	} else {
		fetcher = weather.NewNWSClient(
			&http.Client{Timeout: cfg.Weather.Timeout},
			weather.ClientConfig{
				BaseURL:    cfg.Weather.BaseURL,
				UserAgent:  cfg.Weather.UserAgent,
				Latitude:   cfg.Intersection.Latitude,
				Longitude:  cfg.Intersection.Longitude,
				MaxRetries: cfg.Weather.MaxRetries,
				Logger:     logger,
				Clock:      clock,
			},
		)
	}
	weatherCache := weather.NewCache(fetcher, store, clock, rec, logger)

	// Camera state: the latest-value view fed by the Kafka consumers, or by
	// the synthetic feed in test mode.
	view := camera.NewStateView(store)

	var ingestor *camera.Ingestor
	switch {
	case cfg.IsTestMode:
		logger.Warn("IS_TEST_MODE set, camera ingest replaced by synthetic feed")
	case !cfg.Feature.EnableIngest:
		logger.Warn("camera ingest disabled by feature flag; snapshots stay cold until it is re-enabled")
	default:
		ingestor = camera.NewIngestor(view, camera.IngestorConfig{
			Brokers: cfg.Cameras.Brokers,
			GroupID: cfg.Cameras.GroupID,
			Topics:  store.CameraTopics(),
			MaxWait: cfg.Cameras.MaxWait,
			Metrics: rec,
			Logger:  logger,
		})
		logger.Info("camera ingest enabled",
			"brokers", cfg.Cameras.Brokers,
			"group_id", cfg.Cameras.GroupID,
		)
	}

	// VLM: the OpenAI-protocol chat client, or the canned stub in test mode.
	var infer vlm.InferenceClient
	if cfg.IsTestMode {
		logger.Warn("IS_TEST_MODE set, using stub VLM client")
		infer = vlm.NewStubInferenceClient(logger)
	} else {
		infer = vlm.NewChatClient(
			&http.Client{Timeout: cfg.VLM.Timeout},
			vlm.ClientConfig{
				BaseURL:     cfg.VLM.BaseURL,
				APIKey:      cfg.VLM.APIKey.Unmask(),
				Model:       cfg.VLM.Model,
				MaxTokens:   cfg.VLM.MaxTokens,
				Temperature: cfg.VLM.Temperature,
				Logger:      logger,
			},
		)
	}
	analyzer := vlm.NewAnalyzer(infer, clock, rec, logger)

	// Snapshot archive. A missing DATABASE_URL or a disabled feature flag
	// leaves both the insert hook and the history endpoint off.
	var (
		pool    *pgxpool.Pool
		archive intelligence.ArchiveSink
		history handlers.SnapshotHistoryInterface
	)
	if cfg.ArchiveEnabled() {
		pool, err = newDBPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting snapshot archive database: %w", err)
		}
		defer pool.Close()
		repo := db.NewSnapshotArchive(pool)
		archive = repo
		history = repo
		logger.Info("snapshot archive enabled")
	} else {
		logger.Info("snapshot archive disabled",
			"feature_flag", cfg.Feature.EnableArchive,
			"database_configured", cfg.Database.Enabled(),
		)
	}

	// Critical alert publishing.
	var alerts intelligence.AlertSink
	if cfg.AlertsEnabled() {
		sqsClient := newSQSClient(awsCfg, cfg.AWS.EndpointURL)
		alerts = queue.NewAlertPublisher(sqsClient, cfg.AWS.AlertQueueURL, logger)
		logger.Info("critical alert publishing enabled", "queue_url", cfg.AWS.AlertQueueURL)
	} else {
		logger.Info("critical alert publishing disabled",
			"feature_flag", cfg.Feature.EnableAlerts,
			"queue_configured", cfg.AWS.AlertQueueURL != "",
		)
	}

	// The snapshot aggregator.
	svc := intelligence.NewService(intelligence.Config{
		State:      view,
		Weather:    weatherCache,
		Analyzer:   analyzer,
		Settings:   store,
		Archive:    archive,
		Alerts:     alerts,
		Metrics:    rec,
		Clock:      clock,
		Logger:     logger,
		VLMTimeout: cfg.VLM.Timeout,
	})

	// Rate limiting. Redis-backed when configured; the in-process store keeps
	// the middleware exercised in dev without a Redis deployment.
	var (
		rdb     *redis.Client
		limiter core.RateLimitStore
	)
	switch {
	case cfg.RateLimitEnabled():
		opts, parseErr := redis.ParseURL(cfg.Redis.URL.Unmask())
		if parseErr != nil {
			return fmt.Errorf("parsing Redis URL: %w", parseErr)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pinging Redis: %w", err)
		}
		limiter = ratelimit.NewRedisStore(rdb, clock)
		logger.Info("rate limiting enabled",
			"store", "redis",
			"requests_per_window", cfg.Redis.RequestsPerWindow,
			"window", cfg.Redis.Window.String(),
		)
	case cfg.Feature.EnableRateLimit:
		logger.Warn("REDIS_URL not set, using in-process rate limit store")
		limiter = ratelimit.NewMemoryStore(clock)
	default:
		logger.Info("rate limiting disabled by feature flag")
	}

	// Build the server and inject the optional collaborators.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = rec
	srv.RateLimitStore = limiter

	// Wire the domain handlers under /v1. The config mutation group is guarded
	// by the operator key middleware; reads stay open.
	trafficHandler := handlers.NewTrafficHandler(svc, history, logger)
	weatherHandler := handlers.NewWeatherHandler(weatherCache, store, clock, logger)
	configHandler := handlers.NewConfigHandler(store, weatherCache, clock, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { r.Route("/traffic", trafficHandler.RegisterRoutes) },
		func(r chi.Router) { r.Route("/weather", weatherHandler.RegisterRoutes) },
		func(r chi.Router) {
			r.Route("/config", func(r chi.Router) {
				configHandler.RegisterRoutes(r, srv.RequireOperatorKey)
			})
		},
	)

	// Component health probes. The camera probe is only meaningful when
	// something is feeding the view.
	probes := []core.HealthProbe{
		core.Probe{ProbeName: "weather", CheckFn: weatherProbe(weatherCache, store, clock)},
	}
	if ingestor != nil || cfg.IsTestMode {
		probes = append(probes, core.Probe{
			ProbeName: "cameras",
			CheckFn:   cameraProbe(view, clock, cfg.Cameras.StaleAfter),
		})
	}
	if pool != nil {
		probes = append(probes, core.Probe{
			ProbeName: "database",
			CheckFn:   func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}
	if rdb != nil {
		probes = append(probes, core.Probe{
			ProbeName: "redis",
			CheckFn:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	srv.HealthProbes = probes

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	// Background loops run under their own context so HTTP drain and consumer
	// shutdown can be sequenced independently.
	runCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	// Prewarm the weather cache so the first snapshot and the health probe do
	// not wait on a cold upstream fetch.
	go func() {
		warmCtx, cancel := context.WithTimeout(runCtx, cfg.Weather.Timeout+5*time.Second)
		defer cancel()
		if _, err := weatherCache.Current(warmCtx, false); err != nil {
			logger.Warn("weather cache prewarm failed", "error", err)
		}
	}()

	if ingestor != nil {
		go func() {
			if err := ingestor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("camera ingest stopped", "error", err)
			}
		}()
	}
	if cfg.IsTestMode {
		go runSyntheticFeed(runCtx, view, clock, logger)
	}

	// Drain sequence invoked between HTTP listener shutdown and resource
	// teardown: stop the consumers, then wait out in-flight post-assembly
	// hooks so archive inserts and alert publishes are not cut off.
	drain := func() {
		stopBackground()
		svc.Wait()
	}

	return runHTTPServer(srv, cfg, logger, drain)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger, drain func()) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if drain != nil {
		drain()
	}

	// Shutdown server-held resources.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("agent stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// newDBPool builds the pgx connection pool for the snapshot archive and
// verifies connectivity before returning it.
func newDBPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// newSQSClient builds the SQS client, honoring the LocalStack endpoint
// override when one is configured.
func newSQSClient(awsCfg aws.Config, endpointURL string) *sqs.Client {
	if endpointURL == "" {
		return sqs.NewFromConfig(awsCfg)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
	})
}

// newCloudWatchClient builds the CloudWatch client, honoring the LocalStack
// endpoint override when one is configured.
func newCloudWatchClient(awsCfg aws.Config, endpointURL string) *cloudwatch.Client {
	if endpointURL == "" {
		return cloudwatch.NewFromConfig(awsCfg)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
	})
}

// weatherProbe reports unhealthy when nothing is cached yet or when the
// cached sample has outlived two refresh windows, meaning refreshes have been
// failing for a while.
func weatherProbe(cache *weather.Cache, ttl weather.TTLSource, clock types.Clock) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, cachedAt, ok := cache.Entry()
		if !ok {
			return fmt.Errorf("no weather sample cached yet")
		}
		age := clock.Now().Sub(cachedAt)
		if limit := 2 * ttl.WeatherTTL(); age > limit {
			return fmt.Errorf("weather sample stale: cached %s ago (limit %s)",
				age.Truncate(time.Second), limit)
		}
		return nil
	}
}

// cameraProbe reports unhealthy when no reading has ever arrived or when the
// newest reading is older than the configured staleness bound.
func cameraProbe(view *camera.StateView, clock types.Clock, staleAfter time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		state, ok := view.Latest()
		if !ok {
			return fmt.Errorf("no camera readings received yet")
		}
		if state.Timestamp.IsZero() {
			return fmt.Errorf("no camera readings carry a timestamp yet")
		}
		if age := clock.Now().Sub(state.Timestamp); age > staleAfter {
			return fmt.Errorf("camera feed stale: last reading %s ago (limit %s)",
				age.Truncate(time.Second), staleAfter)
		}
		return nil
	}
}

// runSyntheticFeed applies a fixed set of directional readings on a short
// interval so the agent serves live-looking snapshots in test mode without a
// Kafka deployment. Counts are stable; only timestamps advance.
func runSyntheticFeed(ctx context.Context, view *camera.StateView, clock types.Clock, logger *slog.Logger) {
	counts := map[types.Direction]types.DirectionalReading{
		types.DirectionNorth: {VehicleCount: 3, PedestrianCount: 1},
		types.DirectionSouth: {VehicleCount: 2},
		types.DirectionEast:  {VehicleCount: 1, PedestrianCount: 2},
		types.DirectionWest:  {VehicleCount: 1},
	}

	logger.Info("synthetic camera feed started", "interval", syntheticFeedInterval.String())

	ticker := time.NewTicker(syntheticFeedInterval)
	defer ticker.Stop()

	for {
		now := clock.Now()
		for d, r := range counts {
			r.Direction = d
			r.Timestamp = now
			view.Apply(r, nil)
		}

		select {
		case <-ctx.Done():
			logger.Info("synthetic camera feed stopped")
			return
		case <-ticker.C:
		}
	}
}
