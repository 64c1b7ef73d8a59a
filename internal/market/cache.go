package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SeriesCache provides Redis-based caching for price series data
type SeriesCache struct {
	client *redis.Client
	ttl    time.Duration
}

// seriesCacheEntry represents a cached series with metadata
type seriesCacheEntry struct {
	Ticker   string       `json:"ticker"`
	Lookback int          `json:"lookback"`
	Points   []PricePoint `json:"points"`
	CachedAt time.Time    `json:"cached_at"`
}

// NewSeriesCache creates a new Redis-based series cache.
// If client is nil, returns nil (optional Redis support).
func NewSeriesCache(client *redis.Client, ttl time.Duration) *SeriesCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = 60 * time.Second
	}

	return &SeriesCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cached series. Returns the points and true on a hit, or
// nil and false on a miss or error.
func (c *SeriesCache) Get(ctx context.Context, ticker string, lookbackDays int) ([]PricePoint, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := c.buildKey(ticker, lookbackDays)

	// Short timeout so a slow cache never blocks an analysis run
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var entry seriesCacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached series")
		return nil, false
	}

	log.Debug().
		Str("ticker", ticker).
		Int("points", len(entry.Points)).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for price series")

	return entry.Points, true
}

// Set stores a series in cache with the configured TTL. Failures are logged
// and swallowed; caching is best effort.
func (c *SeriesCache) Set(ctx context.Context, ticker string, lookbackDays int, points []PricePoint) {
	if c == nil || c.client == nil {
		return
	}

	key := c.buildKey(ticker, lookbackDays)

	entry := seriesCacheEntry{
		Ticker:   ticker,
		Lookback: lookbackDays,
		Points:   points,
		CachedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal series for cache")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Redis set error - skipping cache write")
	}
}

func (c *SeriesCache) buildKey(ticker string, lookbackDays int) string {
	return fmt.Sprintf("series:%s:%d", ticker, lookbackDays)
}
