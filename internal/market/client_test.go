package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/models"
)

func seriesHandler(calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"symbol": %q,
			"points": [
				{"timestamp": 1755993600, "price": 100.5, "volume": 1200},
				{"timestamp": 1756080000, "price": 101.25, "volume": 1350}
			]
		}`, r.URL.Query().Get("symbol"))
	}
}

func TestGetPriceSeries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(seriesHandler(&calls))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	points, err := client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 100.5, points[0].Price, 1e-9)
	assert.InDelta(t, 1350, points[1].Volume, 1e-9)
	assert.Equal(t, time.Unix(1755993600, 0).UTC(), points[0].Timestamp)
}

func TestGetPriceSeriesUsesCache(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(seriesHandler(&calls))
	defer server.Close()

	mr := miniredis.RunT(t)
	cache := NewSeriesCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	client, err := NewClient(ClientConfig{BaseURL: server.URL}, cache)
	require.NoError(t, err)

	_, err = client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	_, err = client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "second call must be served from cache")

	// A different lookback is a different cache key.
	_, err = client.GetPriceSeries(context.Background(), "AAPL", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetPriceSeriesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamError)
}

func TestGetPriceSeriesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamTimeout)
}

func TestGetPriceSeriesMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.GetPriceSeries(context.Background(), "AAPL", 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamError)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.Error(t, err)
}

func TestSeriesCacheNilSafe(t *testing.T) {
	var cache *SeriesCache

	points, ok := cache.Get(context.Background(), "AAPL", 30)
	assert.False(t, ok)
	assert.Nil(t, points)

	// Set on a nil cache is a no-op, not a panic.
	cache.Set(context.Background(), "AAPL", 30, nil)
}
