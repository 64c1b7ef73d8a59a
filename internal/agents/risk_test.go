package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/market"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/oracle"
)

type fakeMarket struct {
	points []market.PricePoint
	err    error
}

func (f *fakeMarket) GetPriceSeries(_ context.Context, _ string, _ int) ([]market.PricePoint, error) {
	return f.points, f.err
}

type fakeOracle struct {
	synthesis *oracle.Synthesis
	err       error
	prompts   []string
}

func (f *fakeOracle) Synthesize(_ context.Context, prompt string) (*oracle.Synthesis, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.synthesis, nil
}

func seriesFromPrices(prices []float64) []market.PricePoint {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	points := make([]market.PricePoint, len(prices))
	for i, p := range prices {
		points[i] = market.PricePoint{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Price:     p,
			Volume:    1000,
		}
	}
	return points
}

func TestRiskAgentRejectsInvalidTicker(t *testing.T) {
	agent := NewRiskAgent(&fakeMarket{}, nil, RiskAgentConfig{})

	for _, ticker := range []string{"", "TOOLONGTICKER", "BRK.B", "aa pl"} {
		_, err := agent.Analyze(context.Background(), ticker)
		require.Error(t, err, "ticker %q", ticker)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
}

func TestRiskAgentImpactBands(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   models.ImpactLevel
	}{
		{
			name:   "flat series is low impact",
			prices: []float64{100, 100, 100, 100, 100},
			want:   models.ImpactLow,
		},
		{
			name:   "steady drift is medium impact",
			prices: []float64{100, 102, 100, 103, 101, 103},
			want:   models.ImpactMedium,
		},
		{
			name:   "large swings are high impact",
			prices: []float64{100, 110, 95, 112, 90, 108},
			want:   models.ImpactHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewRiskAgent(&fakeMarket{points: seriesFromPrices(tt.prices)}, nil, RiskAgentConfig{})

			result, err := agent.Analyze(context.Background(), "AAPL")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.ImpactLevel)
			assert.Equal(t, RiskAgentName, result.AgentName)
			assert.Equal(t, "AAPL", result.Ticker)
		})
	}
}

func TestRiskAgentConfidenceFromCoverage(t *testing.T) {
	agent := NewRiskAgent(
		&fakeMarket{points: seriesFromPrices([]float64{100, 101, 102, 101, 100, 99, 100, 101, 102, 103})},
		nil,
		RiskAgentConfig{LookbackDays: 20},
	)

	result, err := agent.Analyze(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9, "10 points over a 20-day lookback")
}

func TestRiskAgentDirectionAndVolumeSpike(t *testing.T) {
	points := seriesFromPrices([]float64{100, 105, 110})
	points[2].Volume = 3000 // window average is (1000+1000+3000)/3

	agent := NewRiskAgent(&fakeMarket{points: points}, nil, RiskAgentConfig{})

	result, err := agent.Analyze(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.InDelta(t, 0.10, result.PriceDirection, 1e-9)
	assert.InDelta(t, 1.8, result.VolumeSpike, 1e-9)
}

func TestRiskAgentInsufficientHistory(t *testing.T) {
	agent := NewRiskAgent(&fakeMarket{points: seriesFromPrices([]float64{100})}, nil, RiskAgentConfig{})

	_, err := agent.Analyze(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamError)
}

func TestRiskAgentPropagatesUpstreamFailure(t *testing.T) {
	agent := NewRiskAgent(&fakeMarket{err: models.UpstreamTimeoutf("market-data")}, nil, RiskAgentConfig{})

	_, err := agent.Analyze(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamTimeout)
}

func TestRiskAgentOracleFallbackText(t *testing.T) {
	orc := &fakeOracle{err: models.UpstreamErrorf("oracle", errors.New("down"))}
	agent := NewRiskAgent(&fakeMarket{points: seriesFromPrices([]float64{100, 101, 100, 102})}, orc, RiskAgentConfig{})

	result, err := agent.Analyze(context.Background(), "AAPL")
	require.NoError(t, err, "oracle failure must not fail the analysis")
	assert.Contains(t, result.RawInsightText, "AAPL")
	assert.Contains(t, result.RawInsightText, "volatility")
}

func TestRiskAgentUsesOracleText(t *testing.T) {
	orc := &fakeOracle{synthesis: &oracle.Synthesis{Text: "Elevated swing risk.", ConfidenceHint: 0.9}}
	agent := NewRiskAgent(&fakeMarket{points: seriesFromPrices([]float64{100, 101, 100, 102})}, orc, RiskAgentConfig{})

	result, err := agent.Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Elevated swing risk.", result.RawInsightText)
	require.Len(t, orc.prompts, 1)
	assert.Contains(t, orc.prompts[0], "AAPL")
}

func TestRealizedVolatilityFlatSeriesIsZero(t *testing.T) {
	vol := realizedVolatility(seriesFromPrices([]float64{50, 50, 50}))
	assert.Zero(t, vol)
}
