// Package market provides the market-data source consumed by the risk
// agent: historical price series per ticker, rate limited and cached.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/quantfold/stockpulse/internal/models"
)

// PricePoint represents a single data point in time
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// Source supplies ordered historical price series for a ticker. The HTTP
// client below is the production implementation; tests substitute fakes.
type Source interface {
	GetPriceSeries(ctx context.Context, ticker string, lookbackDays int) ([]PricePoint, error)
}

// Client fetches price series over HTTP from the configured market-data
// provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *SeriesCache
}

// ClientConfig contains configuration for the market-data client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewClient creates a new market-data client. The cache is optional.
func NewClient(config ClientConfig, cache *SeriesCache) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("market-data base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 120
	}

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), config.RequestsPerMinute/10+1),
		cache:   cache,
	}, nil
}

type seriesResponse struct {
	Symbol string `json:"symbol"`
	Points []struct {
		Timestamp int64   `json:"timestamp"` // unix seconds
		Price     float64 `json:"price"`
		Volume    float64 `json:"volume"`
	} `json:"points"`
}

// GetPriceSeries fetches the ordered price series for a ticker over the
// lookback window. Cache hits skip the upstream call entirely.
func (c *Client) GetPriceSeries(ctx context.Context, ticker string, lookbackDays int) ([]PricePoint, error) {
	if points, ok := c.cache.Get(ctx, ticker, lookbackDays); ok {
		return points, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.UpstreamErrorf("market-data", err)
	}

	url := fmt.Sprintf("%s/v1/series?symbol=%s&days=%d", c.baseURL, ticker, lookbackDays)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, models.UpstreamTimeoutf("market-data")
		}
		return nil, models.UpstreamErrorf("market-data", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.UpstreamErrorf("market-data", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, models.UpstreamErrorf("market-data",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var series seriesResponse
	if err := json.Unmarshal(body, &series); err != nil {
		return nil, models.UpstreamErrorf("market-data", fmt.Errorf("malformed series response: %w", err))
	}

	points := make([]PricePoint, 0, len(series.Points))
	for _, p := range series.Points {
		points = append(points, PricePoint{
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Price:     p.Price,
			Volume:    p.Volume,
		})
	}

	log.Debug().
		Str("ticker", ticker).
		Int("points", len(points)).
		Dur("duration", time.Since(start)).
		Msg("Fetched price series")

	c.cache.Set(ctx, ticker, lookbackDays, points)

	return points, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
