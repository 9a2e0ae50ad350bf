package weather

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"crosswatch/internal/metrics"
	"crosswatch/internal/types"
)

// TTLSource supplies the freshness window per call so operators can retune it
// without a restart. The settings store satisfies this.
type TTLSource interface {
	WeatherTTL() time.Duration
}

// Cache wraps a Fetcher with TTL caching, forced-refresh bypass, stale
// fallback, and single-flight refresh dedup. A burst of callers hitting an
// expired entry results in exactly one upstream fetch; forced and unforced
// callers share the same in-flight fetch.
type Cache struct {
	fetcher Fetcher
	ttl     TTLSource
	clock   types.Clock
	rec     metrics.Recorder
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	sample   *types.WeatherSample
	cachedAt time.Time
}

// NewCache creates a weather cache. The cache starts cold; the first Current
// call performs the initial fetch.
func NewCache(fetcher Fetcher, ttl TTLSource, clock types.Clock, rec metrics.Recorder, logger *slog.Logger) *Cache {
	if clock == nil {
		clock = types.RealClock{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		clock:   clock,
		rec:     rec,
		logger:  logger,
	}
}

// Current returns the cached sample when it is fresh and forceRefresh is
// false; otherwise it refetches through singleflight. A failed refresh with a
// previously cached sample degrades to the stale sample, its original
// fetched_at intact. A failed refresh with nothing ever cached surfaces an
// upstream error.
func (c *Cache) Current(ctx context.Context, forceRefresh bool) (*types.WeatherSample, error) {
	if !forceRefresh {
		c.mu.RLock()
		if c.sample != nil && c.clock.Now().Sub(c.cachedAt) < c.ttl.WeatherTTL() {
			sample := c.sample
			c.mu.RUnlock()
			return sample, nil
		}
		c.mu.RUnlock()
	}

	// Outcomes are recorded inside the flight so coalesced waiters count as
	// one fetch, not one each.
	v, err, _ := c.group.Do("weather", func() (any, error) {
		sample, fetchErr := c.fetcher.Fetch(ctx)
		if fetchErr != nil {
			c.rec.WeatherFetch(ctx, metrics.FetchFailed)
			return nil, fetchErr
		}
		c.mu.Lock()
		c.sample = sample
		c.cachedAt = c.clock.Now()
		c.mu.Unlock()
		c.rec.WeatherFetch(ctx, metrics.FetchOK)
		return sample, nil
	})
	if err == nil {
		return v.(*types.WeatherSample), nil
	}

	c.mu.RLock()
	stale := c.sample
	c.mu.RUnlock()
	if stale != nil {
		c.logger.WarnContext(ctx, "weather refresh failed; serving stale sample",
			slog.String("error", err.Error()),
			slog.Time("fetched_at", stale.FetchedAt),
		)
		c.rec.WeatherFetch(ctx, metrics.FetchStale)
		return stale, nil
	}

	return nil, types.NewAppError(
		types.ErrCodeUpstreamWeather,
		"weather data unavailable and nothing is cached",
		err,
	)
}

// Entry exposes the raw cache entry for health probes and tests.
func (c *Cache) Entry() (*types.WeatherSample, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sample == nil {
		return nil, time.Time{}, false
	}
	return c.sample, c.cachedAt, true
}
