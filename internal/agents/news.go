package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/news"
	"github.com/quantfold/stockpulse/internal/oracle"
	"github.com/quantfold/stockpulse/internal/validation"
)

// coverageTarget is the article count treated as full news coverage when
// scaling confidence.
const coverageTarget = 5

// NewsAgent judges sentiment-driven impact for a ticker by submitting recent
// headlines to the reasoning oracle. Confidence is the oracle's own hint
// scaled by article coverage.
type NewsAgent struct {
	news   news.Source
	oracle oracle.Oracle
	window time.Duration
	log    zerolog.Logger
}

// NewNewsAgent creates a news agent.
func NewNewsAgent(source news.Source, orc oracle.Oracle, window time.Duration) *NewsAgent {
	if window == 0 {
		window = 24 * time.Hour
	}
	return &NewsAgent{
		news:   source,
		oracle: orc,
		window: window,
		log:    config.NewAgentLogger(NewsAgentName),
	}
}

// Name returns the agent's identifier.
func (a *NewsAgent) Name() string {
	return NewsAgentName
}

// Analyze fetches recent articles and maps the oracle's sentiment judgment
// to the three-level impact scale.
func (a *NewsAgent) Analyze(ctx context.Context, ticker string) (*models.AgentResult, error) {
	start := time.Now()
	result, err := a.analyze(ctx, ticker)
	metrics.AgentDuration.WithLabelValues(NewsAgentName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AgentAnalyses.WithLabelValues(NewsAgentName, "error").Inc()
		metrics.AgentFailures.WithLabelValues(NewsAgentName, metrics.NormalizeFailureReason(err)).Inc()
		return nil, err
	}
	metrics.AgentAnalyses.WithLabelValues(NewsAgentName, "success").Inc()
	return result, nil
}

func (a *NewsAgent) analyze(ctx context.Context, ticker string) (*models.AgentResult, error) {
	if !validation.ValidTicker(ticker) {
		return nil, models.InvalidInputf("invalid ticker %q", ticker)
	}

	articles, err := a.news.GetRecentArticles(ctx, ticker, a.window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch articles for %s: %w", ticker, err)
	}

	// No news is a valid quiet signal, not a failure. Zero coverage makes
	// the result carry no weight in the merge.
	if len(articles) == 0 {
		a.log.Debug().Str("ticker", ticker).Msg("No recent articles")
		return &models.AgentResult{
			AgentName:      NewsAgentName,
			Ticker:         ticker,
			ImpactLevel:    models.ImpactLow,
			Confidence:     0,
			RawInsightText: fmt.Sprintf("No news coverage for %s in the last %s", ticker, a.window),
			ComputedAt:     time.Now().UTC(),
		}, nil
	}

	syn, err := a.oracle.Synthesize(ctx, a.buildPrompt(ticker, articles))
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize news judgment for %s: %w", ticker, err)
	}

	judgment := parseJudgment(syn.Text)

	coverage := float64(len(articles)) / float64(coverageTarget)
	if coverage > 1 {
		coverage = 1
	}
	confidence := syn.ConfidenceHint * coverage

	a.log.Debug().
		Str("ticker", ticker).
		Int("articles", len(articles)).
		Str("impact", string(judgment.impact)).
		Float64("sentiment", judgment.sentiment).
		Float64("confidence", confidence).
		Msg("News analysis complete")

	return &models.AgentResult{
		AgentName:      NewsAgentName,
		Ticker:         ticker,
		ImpactLevel:    judgment.impact,
		Confidence:     confidence,
		PriceDirection: judgment.sentiment,
		RawInsightText: judgment.summary,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

func (a *NewsAgent) buildPrompt(ticker string, articles []news.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Judge the market impact of recent news for %s. ", ticker)
	b.WriteString(`Answer with a JSON object: {"impact": "LOW"|"MEDIUM"|"HIGH", "sentiment": <-1.0 to 1.0>, "summary": "<one sentence>"}. Headlines:`)
	for i, article := range articles {
		fmt.Fprintf(&b, "\n%d. %s", i+1, article.Title)
		if article.Summary != "" {
			fmt.Fprintf(&b, " — %s", article.Summary)
		}
	}
	return b.String()
}

type newsJudgment struct {
	impact    models.ImpactLevel
	sentiment float64
	summary   string
}

// parseJudgment extracts the structured judgment from the oracle's answer
// text. Unparseable answers fall back to keyword scanning over the raw text
// so a sloppy oracle response still yields a usable classification.
func parseJudgment(text string) newsJudgment {
	var parsed struct {
		Impact    string  `json:"impact"`
		Sentiment float64 `json:"sentiment"`
		Summary   string  `json:"summary"`
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err == nil && parsed.Impact != "" {
				impact := models.ImpactLevel(strings.ToUpper(strings.TrimSpace(parsed.Impact)))
				if impact.Rank() == 0 {
					impact = models.ImpactLow
				}
				sentiment := parsed.Sentiment
				if sentiment < -1 {
					sentiment = -1
				}
				if sentiment > 1 {
					sentiment = 1
				}
				summary := parsed.Summary
				if summary == "" {
					summary = text
				}
				return newsJudgment{impact: impact, sentiment: sentiment, summary: summary}
			}
		}
	}

	lower := strings.ToLower(text)
	judgment := newsJudgment{impact: models.ImpactLow, summary: text}
	switch {
	case strings.Contains(lower, "high"):
		judgment.impact = models.ImpactHigh
	case strings.Contains(lower, "medium") || strings.Contains(lower, "moderate"):
		judgment.impact = models.ImpactMedium
	}
	switch {
	case strings.Contains(lower, "bearish") || strings.Contains(lower, "negative"):
		judgment.sentiment = -0.5
	case strings.Contains(lower, "bullish") || strings.Contains(lower, "positive"):
		judgment.sentiment = 0.5
	}
	return judgment
}

var _ Agent = (*NewsAgent)(nil)
