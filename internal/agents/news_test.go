package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/news"
	"github.com/quantfold/stockpulse/internal/oracle"
)

type fakeNews struct {
	articles []news.Article
	err      error
}

func (f *fakeNews) GetRecentArticles(_ context.Context, _ string, _ time.Duration) ([]news.Article, error) {
	return f.articles, f.err
}

func headlines(titles ...string) []news.Article {
	articles := make([]news.Article, len(titles))
	for i, title := range titles {
		articles[i] = news.Article{Title: title, PublishedAt: time.Now()}
	}
	return articles
}

func TestNewsAgentRejectsInvalidTicker(t *testing.T) {
	agent := NewNewsAgent(&fakeNews{}, &fakeOracle{}, 0)

	_, err := agent.Analyze(context.Background(), "WAY-TOO-LONG")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestNewsAgentNoArticlesIsQuietLow(t *testing.T) {
	orc := &fakeOracle{}
	agent := NewNewsAgent(&fakeNews{}, orc, 0)

	result, err := agent.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.ImpactLow, result.ImpactLevel)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, orc.prompts, "oracle must not be called without articles")
}

func TestNewsAgentParsesOracleJudgment(t *testing.T) {
	orc := &fakeOracle{synthesis: &oracle.Synthesis{
		Text:           `{"impact": "HIGH", "sentiment": -0.8, "summary": "Guidance cut dominates coverage."}`,
		ConfidenceHint: 0.9,
	}}
	agent := NewNewsAgent(&fakeNews{articles: headlines("A cuts guidance", "A shares slide", "Analysts downgrade A", "A CFO departs", "A recalls product")}, orc, 0)

	result, err := agent.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.ImpactHigh, result.ImpactLevel)
	assert.InDelta(t, -0.8, result.PriceDirection, 1e-9)
	assert.Equal(t, "Guidance cut dominates coverage.", result.RawInsightText)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9, "full coverage keeps the oracle hint")
}

func TestNewsAgentConfidenceScaledByCoverage(t *testing.T) {
	orc := &fakeOracle{synthesis: &oracle.Synthesis{
		Text:           `{"impact": "MEDIUM", "sentiment": 0.3, "summary": "Mildly positive."}`,
		ConfidenceHint: 0.8,
	}}
	agent := NewNewsAgent(&fakeNews{articles: headlines("One story", "Another story")}, orc, 0)

	result, err := agent.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 0.8*2.0/5.0, result.Confidence, 1e-9)
}

func TestNewsAgentPropagatesOracleFailure(t *testing.T) {
	orc := &fakeOracle{err: models.UpstreamTimeoutf("oracle")}
	agent := NewNewsAgent(&fakeNews{articles: headlines("Story")}, orc, 0)

	_, err := agent.Analyze(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamTimeout)
}

func TestParseJudgmentFallsBackToKeywords(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantImpact    models.ImpactLevel
		wantSentiment float64
	}{
		{
			name:          "prose with high and bearish",
			text:          "This looks like high impact, clearly bearish news.",
			wantImpact:    models.ImpactHigh,
			wantSentiment: -0.5,
		},
		{
			name:          "prose with moderate and positive",
			text:          "Moderate effect expected, broadly positive tone.",
			wantImpact:    models.ImpactMedium,
			wantSentiment: 0.5,
		},
		{
			name:          "uninformative prose defaults low neutral",
			text:          "Nothing notable here.",
			wantImpact:    models.ImpactLow,
			wantSentiment: 0,
		},
		{
			name:          "fenced json still parses",
			text:          "Here you go: {\"impact\": \"MEDIUM\", \"sentiment\": 0.2, \"summary\": \"ok\"}",
			wantImpact:    models.ImpactMedium,
			wantSentiment: 0.2,
		},
		{
			name:          "out of range sentiment clamps",
			text:          `{"impact": "LOW", "sentiment": 4.0, "summary": "x"}`,
			wantImpact:    models.ImpactLow,
			wantSentiment: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judgment := parseJudgment(tt.text)
			assert.Equal(t, tt.wantImpact, judgment.impact)
			assert.InDelta(t, tt.wantSentiment, judgment.sentiment, 1e-9)
		})
	}
}
