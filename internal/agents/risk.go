package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog"

	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/market"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/oracle"
	"github.com/quantfold/stockpulse/internal/validation"
)

// RiskAgent classifies a ticker's realized volatility over the lookback
// window. Impact comes from the configured volatility bands; confidence from
// how much of the requested window the upstream actually covered.
type RiskAgent struct {
	market           market.Source
	oracle           oracle.Oracle
	lookbackDays     int
	volatilityHigh   float64
	volatilityMedium float64
	smaShortPeriod   int
	smaLongPeriod    int
	log              zerolog.Logger
}

// RiskAgentConfig contains configuration for the risk agent
type RiskAgentConfig struct {
	LookbackDays     int
	VolatilityHigh   float64
	VolatilityMedium float64
	SMAShortPeriod   int
	SMALongPeriod    int
}

// NewRiskAgent creates a risk agent. The oracle is optional; without it the
// insight text comes from a deterministic template.
func NewRiskAgent(source market.Source, orc oracle.Oracle, cfg RiskAgentConfig) *RiskAgent {
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 30
	}
	if cfg.VolatilityHigh == 0 {
		cfg.VolatilityHigh = 0.05
	}
	if cfg.VolatilityMedium == 0 {
		cfg.VolatilityMedium = 0.02
	}
	if cfg.SMAShortPeriod == 0 {
		cfg.SMAShortPeriod = 5
	}
	if cfg.SMALongPeriod == 0 {
		cfg.SMALongPeriod = 20
	}

	return &RiskAgent{
		market:           source,
		oracle:           orc,
		lookbackDays:     cfg.LookbackDays,
		volatilityHigh:   cfg.VolatilityHigh,
		volatilityMedium: cfg.VolatilityMedium,
		smaShortPeriod:   cfg.SMAShortPeriod,
		smaLongPeriod:    cfg.SMALongPeriod,
		log:              config.NewAgentLogger(RiskAgentName),
	}
}

// Name returns the agent's identifier.
func (a *RiskAgent) Name() string {
	return RiskAgentName
}

// Analyze fetches the price series for the ticker and classifies its
// realized volatility.
func (a *RiskAgent) Analyze(ctx context.Context, ticker string) (*models.AgentResult, error) {
	start := time.Now()
	result, err := a.analyze(ctx, ticker)
	metrics.AgentDuration.WithLabelValues(RiskAgentName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AgentAnalyses.WithLabelValues(RiskAgentName, "error").Inc()
		metrics.AgentFailures.WithLabelValues(RiskAgentName, metrics.NormalizeFailureReason(err)).Inc()
		return nil, err
	}
	metrics.AgentAnalyses.WithLabelValues(RiskAgentName, "success").Inc()
	return result, nil
}

func (a *RiskAgent) analyze(ctx context.Context, ticker string) (*models.AgentResult, error) {
	if !validation.ValidTicker(ticker) {
		return nil, models.InvalidInputf("invalid ticker %q", ticker)
	}

	points, err := a.market.GetPriceSeries(ctx, ticker, a.lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price series for %s: %w", ticker, err)
	}
	if len(points) < 2 {
		return nil, models.UpstreamErrorf("market-data",
			fmt.Errorf("insufficient price history for %s: %d points", ticker, len(points)))
	}

	volatility := realizedVolatility(points)
	direction := (points[len(points)-1].Price - points[0].Price) / points[0].Price
	volumeSpike := latestVolumeRatio(points)
	sensitivity := a.marketSensitivity(points)

	impact := models.ImpactLow
	switch {
	case volatility >= a.volatilityHigh:
		impact = models.ImpactHigh
	case volatility >= a.volatilityMedium:
		impact = models.ImpactMedium
	}

	// Confidence reflects window coverage: a thin series is a weak signal.
	confidence := float64(len(points)) / float64(a.lookbackDays)
	if confidence > 1 {
		confidence = 1
	}

	text := a.insightText(ctx, ticker, volatility, direction, sensitivity, impact)

	a.log.Debug().
		Str("ticker", ticker).
		Float64("volatility", volatility).
		Float64("price_direction", direction).
		Float64("market_sensitivity", sensitivity).
		Str("impact", string(impact)).
		Msg("Risk analysis complete")

	return &models.AgentResult{
		AgentName:      RiskAgentName,
		Ticker:         ticker,
		ImpactLevel:    impact,
		Confidence:     confidence,
		Volatility:     volatility,
		PriceDirection: direction,
		VolumeSpike:    volumeSpike,
		RawInsightText: text,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

func (a *RiskAgent) insightText(ctx context.Context, ticker string, volatility, direction, sensitivity float64, impact models.ImpactLevel) string {
	fallback := fmt.Sprintf(
		"%s realized volatility %.4f over %d-day window (%.2f%% move, sensitivity %.2f): %s impact",
		ticker, volatility, a.lookbackDays, direction*100, sensitivity, impact)

	if a.oracle == nil {
		return fallback
	}

	prompt := fmt.Sprintf(
		"Summarize the risk posture of %s in two sentences. Realized volatility: %.4f. "+
			"Price move over window: %.2f%%. Short/long SMA ratio: %.3f. Impact classification: %s.",
		ticker, volatility, direction*100, sensitivity, impact)

	syn, err := a.oracle.Synthesize(ctx, prompt)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Str("ticker", ticker).Msg("Oracle unavailable, using template insight")
		}
		return fallback
	}
	return syn.Text
}

// marketSensitivity is the ratio of the short SMA to the long SMA of closing
// prices. Values far from 1 mean recent prices diverge from the window trend.
func (a *RiskAgent) marketSensitivity(points []market.PricePoint) float64 {
	if len(points) < a.smaLongPeriod {
		return 1.0
	}

	shortSMA := lastSMA(points, a.smaShortPeriod)
	longSMA := lastSMA(points, a.smaLongPeriod)
	if longSMA == 0 {
		return 1.0
	}
	return shortSMA / longSMA
}

func lastSMA(points []market.PricePoint, period int) float64 {
	prices := make(chan float64, len(points))
	for _, p := range points {
		prices <- p.Price
	}
	close(prices)

	sma := trend.NewSmaWithPeriod[float64](period)
	var last float64
	for v := range sma.Compute(prices) {
		last = v
	}
	return last
}

// realizedVolatility is the standard deviation of simple period returns.
func realizedVolatility(points []market.PricePoint) float64 {
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		if points[i-1].Price == 0 {
			continue
		}
		returns = append(returns, (points[i].Price-points[i-1].Price)/points[i-1].Price)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// latestVolumeRatio compares the latest volume to the window average.
func latestVolumeRatio(points []market.PricePoint) float64 {
	var total float64
	for _, p := range points {
		total += p.Volume
	}
	avg := total / float64(len(points))
	if avg == 0 {
		return 0
	}
	return points[len(points)-1].Volume / avg
}

var _ Agent = (*RiskAgent)(nil)
