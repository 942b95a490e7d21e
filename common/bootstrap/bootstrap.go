package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/cache"
	"github.com/casemirror/dataflow/common/config"
	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/logger"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/redis"
	"github.com/casemirror/dataflow/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for the service
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	started := time.Now()
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger; every line carries the service identity
	log := options.customLogger
	if log == nil {
		log = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	components.Logger = log.WithFields(map[string]any{
		"service":     serviceName,
		"environment": cfg.Service.Environment,
	})

	components.Logger.Info("initializing service")

	// 3. Metrics are always constructed; a disabled instance records nothing
	components.Metrics = metrics.New(metrics.Config{Enabled: cfg.Telemetry.EnableMetrics})

	// 4. Document store
	if !options.skipDB {
		components.Logger.Info("connecting to document store")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store := components.DB
		components.addCleanup(func() error {
			store.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 5. Legacy sources, one explicitly owned pool each
	if !options.skipSources {
		components.Sources = &SourcePools{}
		targets := []struct {
			cfg  config.SourceConfig
			pool **db.DB
		}{
			{cfg.Sources.Cases, &components.Sources.Cases},
			{cfg.Sources.Orders, &components.Sources.Orders},
			{cfg.Sources.Trustees, &components.Sources.Trustees},
		}

		for _, target := range targets {
			pool, err := db.NewSource(ctx, target.cfg, components.Logger)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to connect to source %s: %w", target.cfg.Name, err)
			}
			*target.pool = pool
			components.addCleanup(func() error {
				pool.Close()
				return nil
			})
		}
	}

	// 6. Redis for the activity queue
	if !options.skipRedis {
		components.Redis, err = redis.Connect(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		client := components.Redis
		components.addCleanup(func() error {
			components.Logger.Info("closing redis client")
			return client.Close()
		})
	}

	// 7. Cache
	if cfg.Cache.Enabled {
		components.Logger.Info("initializing cache", "default_ttl", cfg.Cache.DefaultTTL)

		components.Cache = cache.NewMemoryCache(components.Logger)

		c := components.Cache
		components.addCleanup(func() error {
			return c.Close()
		})
	}

	// 8. Telemetry
	if !options.skipTelemetry && (cfg.Telemetry.EnablePprof || cfg.Telemetry.EnableMetrics) {
		components.Logger.Info("initializing telemetry")

		pprofPort := 0
		if cfg.Telemetry.EnablePprof {
			pprofPort = cfg.Telemetry.PprofPort
		}
		metricsPort := 0
		if cfg.Telemetry.EnableMetrics {
			metricsPort = cfg.Telemetry.MetricsPort
		}

		components.Telemetry = telemetry.New(pprofPort, metricsPort, components.Metrics, components.Logger)
		if err := components.Telemetry.Start(ctx); err != nil {
			// Don't fail startup if telemetry fails
			components.Logger.Warn("failed to start telemetry", "error", err)
		}

		t := components.Telemetry
		components.addCleanup(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return t.Close(shutdownCtx)
		})
	}

	if components.Telemetry != nil {
		components.Telemetry.RecordDuration("bootstrap", started)
	}

	components.Logger.Info("service initialization complete",
		"db", components.DB != nil,
		"sources", components.Sources != nil,
		"redis", components.Redis != nil,
		"cache", components.Cache != nil,
		"metrics", components.Metrics.IsEnabled(),
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}
