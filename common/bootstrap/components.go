package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/casemirror/dataflow/common/cache"
	"github.com/casemirror/dataflow/common/config"
	"github.com/casemirror/dataflow/common/db"
	"github.com/casemirror/dataflow/common/logger"
	"github.com/casemirror/dataflow/common/metrics"
	"github.com/casemirror/dataflow/common/redis"
	"github.com/casemirror/dataflow/common/telemetry"
)

// SourcePools holds one connection pool per legacy source. The pools are
// owned by Components and closed on Shutdown.
type SourcePools struct {
	Cases    *db.DB
	Orders   *db.DB
	Trustees *db.DB
}

func (s *SourcePools) all() []*db.DB {
	if s == nil {
		return nil
	}
	return []*db.DB{s.Cases, s.Orders, s.Trustees}
}

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Sources   *SourcePools
	Redis     *redis.Client
	Cache     cache.Cache
	Metrics   *metrics.Metrics
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("document store unhealthy: %w", err)
		}
	}

	for _, pool := range c.Sources.all() {
		if pool == nil {
			continue
		}
		if err := pool.Health(ctx); err != nil {
			return fmt.Errorf("source %s unhealthy: %w", pool.Name(), err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}

	// Memory cache is always healthy
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
