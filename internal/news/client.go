// Package news provides the news source consumed by the news agent: recent
// article text per ticker over a bounded window.
package news

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

// Article is one recent headline with its summary text.
type Article struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Source supplies recent articles for a ticker. Tests substitute fakes.
type Source interface {
	GetRecentArticles(ctx context.Context, ticker string, window time.Duration) ([]Article, error)
}

// Client fetches recent articles over HTTP from the configured news
// provider.
type Client struct {
	baseURL     string
	apiKey      string
	maxArticles int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// ClientConfig contains configuration for the news client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxArticles       int
}

// NewClient creates a new news client
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("news base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 60
	}
	if config.MaxArticles == 0 {
		config.MaxArticles = 20
	}

	return &Client{
		baseURL:     config.BaseURL,
		apiKey:      config.APIKey,
		maxArticles: config.MaxArticles,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), config.RequestsPerMinute/10+1),
	}, nil
}

type articlesResponse struct {
	Articles []struct {
		Title       string    `json:"title"`
		Summary     string    `json:"summary"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
	} `json:"articles"`
}

// GetRecentArticles fetches articles published for the ticker within the
// window, newest first, capped at the configured maximum.
func (c *Client) GetRecentArticles(ctx context.Context, ticker string, window time.Duration) ([]Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.UpstreamErrorf("news", err)
	}

	url := fmt.Sprintf("%s/v1/articles?symbol=%s&hours=%d&limit=%d",
		c.baseURL, ticker, int(window.Hours()), c.maxArticles)
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
			return nil, models.UpstreamTimeoutf("news")
		}
		return nil, models.UpstreamErrorf("news", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.UpstreamErrorf("news", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, models.UpstreamErrorf("news",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed articlesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.UpstreamErrorf("news", fmt.Errorf("malformed articles response: %w", err))
	}

	articles := make([]Article, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		articles = append(articles, Article{
			Title:       a.Title,
			Summary:     a.Summary,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}

	log.Debug().
		Str("ticker", ticker).
		Int("articles", len(articles)).
		Dur("duration", time.Since(start)).
		Msg("Fetched recent articles")

	return articles, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
