// Package oracle provides the reasoning oracle: a chat-completion gateway
// used by agents to turn raw market and news signals into insight text with
// a confidence hint.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantfold/stockpulse/internal/models"
)

// Circuit breaker settings for oracle calls. The open timeout is generous
// because gateway recovery is slow compared to ordinary HTTP services.
const (
	breakerMinRequests  = 3
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 60 * time.Second
	breakerHalfOpenMax  = 2
	breakerInterval     = 10 * time.Second
)

// Synthesis is the oracle's answer: free text plus the oracle's own
// confidence in it.
type Synthesis struct {
	Text           string  `json:"text"`
	ConfidenceHint float64 `json:"confidence"`
	Model          string  `json:"model,omitempty"`
}

// Oracle defines the synthesis capability agents depend on. The production
// client and test fakes both implement it.
type Oracle interface {
	Synthesize(ctx context.Context, prompt string) (*Synthesis, error)
}

// Client talks to a chat-completion gateway, trying the primary model first
// and the fallback model when the primary fails. A circuit breaker guards
// the gateway against repeated failures.
type Client struct {
	endpoint      string
	apiKey        string
	primaryModel  string
	fallbackModel string
	temperature   float64
	maxTokens     int
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
}

// ClientConfig contains configuration for the oracle client
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	PrimaryModel  string
	FallbackModel string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
}

// NewClient creates a new oracle client
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if config.PrimaryModel == "" {
		config.PrimaryModel = "claude-sonnet-4-20250514"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: breakerHalfOpenMax,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Oracle circuit breaker state change")
		},
	})

	return &Client{
		endpoint:      config.Endpoint,
		apiKey:        config.APIKey,
		primaryModel:  config.PrimaryModel,
		fallbackModel: config.FallbackModel,
		temperature:   config.Temperature,
		maxTokens:     config.MaxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: breaker,
	}
}

const systemPrompt = `You are a financial analysis assistant. Answer with a single JSON object:
{"text": "<your analysis>", "confidence": <0.0-1.0 how confident you are>}`

// Synthesize sends the prompt to the gateway and parses the oracle's answer
// and confidence hint. The fallback model is tried once when the primary
// model fails for a non-timeout reason.
func (c *Client) Synthesize(ctx context.Context, prompt string) (*Synthesis, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		syn, err := c.complete(ctx, c.primaryModel, prompt)
		if err == nil {
			return syn, nil
		}
		if c.fallbackModel == "" || errors.Is(err, models.ErrUpstreamTimeout) {
			return nil, err
		}

		log.Warn().
			Err(err).
			Str("fallback_model", c.fallbackModel).
			Msg("Primary oracle model failed, trying fallback")
		return c.complete(ctx, c.fallbackModel, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, models.UpstreamErrorf("oracle", err)
		}
		return nil, err
	}

	return result.(*Synthesis), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, model, prompt string) (*Synthesis, error) {
	request := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, models.UpstreamTimeoutf("oracle")
		}
		return nil, models.UpstreamErrorf("oracle", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.UpstreamErrorf("oracle", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, models.UpstreamErrorf("oracle",
				fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
		}
		return nil, models.UpstreamErrorf("oracle", errors.New(errResp.Error.Message))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, models.UpstreamErrorf("oracle", fmt.Errorf("malformed response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.UpstreamErrorf("oracle", errors.New("empty choices in response"))
	}

	syn := parseSynthesis(chatResp.Choices[0].Message.Content)
	syn.Model = chatResp.Model

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Float64("confidence_hint", syn.ConfidenceHint).
		Dur("duration", time.Since(start)).
		Msg("Oracle request completed")

	return syn, nil
}

// parseSynthesis extracts the JSON answer from the model content. Models
// sometimes wrap JSON in markdown fences or prose; fall back to the raw
// content with a neutral confidence hint when no JSON parses.
func parseSynthesis(content string) *Synthesis {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var syn Synthesis
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &syn); err == nil && syn.Text != "" {
				if syn.ConfidenceHint < 0 {
					syn.ConfidenceHint = 0
				}
				if syn.ConfidenceHint > 1 {
					syn.ConfidenceHint = 1
				}
				return &syn
			}
		}
	}

	return &Synthesis{Text: content, ConfidenceHint: 0.5}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Ensure Client implements Oracle interface
var _ Oracle = (*Client)(nil)
