package sentinel

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/models"
)

func result(ticker string, volatility, direction float64) *models.AgentResult {
	return &models.AgentResult{
		AgentName:      "risk",
		Ticker:         ticker,
		Volatility:     volatility,
		PriceDirection: direction,
	}
}

func newTestSentinel() *Sentinel {
	return New(0.05, 0.7) // breach at 5% volatility, agreement at 3.5% move
}

func TestDetectNoCandidates(t *testing.T) {
	s := newTestSentinel()

	events := s.DetectPortfolioEvents(uuid.New(), map[string]*models.AgentResult{
		"AAPL": result("AAPL", 0.01, 0.02),
		"MSFT": result("MSFT", 0.04, -0.01),
	})
	assert.Empty(t, events)
}

func TestDetectSingleBreachIsHighOnly(t *testing.T) {
	s := newTestSentinel()
	runID := uuid.New()

	events := s.DetectPortfolioEvents(runID, map[string]*models.AgentResult{
		"TSLA": result("TSLA", 0.08, 0.06),
		"AAPL": result("AAPL", 0.01, 0.01),
	})

	require.Len(t, events, 1)
	assert.Equal(t, "TSLA", events[0].Ticker)
	assert.Equal(t, models.EventTypeVolatilityBreach, events[0].EventType)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.Equal(t, runID, events[0].RunID)
	assert.InDelta(t, 0.08, events[0].Volatility, 1e-9)
}

func TestDetectCorrelatedMoveEmitsCritical(t *testing.T) {
	s := newTestSentinel()

	events := s.DetectPortfolioEvents(uuid.New(), map[string]*models.AgentResult{
		"TSLA": result("TSLA", 0.08, -0.06),
		"NVDA": result("NVDA", 0.07, -0.05),
		"AAPL": result("AAPL", 0.01, 0.01),
	})

	require.Len(t, events, 3, "two per-ticker breaches plus one portfolio event")

	var critical *models.Event
	highs := 0
	for _, e := range events {
		switch e.Severity {
		case models.SeverityCritical:
			critical = e
		case models.SeverityHigh:
			highs++
		}
	}
	require.NotNil(t, critical)
	assert.Equal(t, 2, highs)
	assert.Equal(t, models.EventTypeCorrelatedMove, critical.EventType)
	assert.Empty(t, critical.Ticker, "portfolio-level event carries no ticker")
	assert.Len(t, critical.CorrelationData, 2)
	assert.Contains(t, critical.CorrelationData, "TSLA")
	assert.Contains(t, critical.CorrelationData, "NVDA")
}

func TestDetectOpposingMovesDoNotCorrelate(t *testing.T) {
	s := newTestSentinel()

	events := s.DetectPortfolioEvents(uuid.New(), map[string]*models.AgentResult{
		"TSLA": result("TSLA", 0.08, 0.06),
		"NVDA": result("NVDA", 0.07, -0.05),
	})

	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, models.SeverityHigh, e.Severity)
		assert.Equal(t, models.EventTypeVolatilityBreach, e.EventType)
	}
}

func TestDetectWeakMovesBelowCorrelationThreshold(t *testing.T) {
	s := newTestSentinel()

	// Both breach volatility, but neither move clears 0.7 * 0.05.
	events := s.DetectPortfolioEvents(uuid.New(), map[string]*models.AgentResult{
		"TSLA": result("TSLA", 0.08, 0.01),
		"NVDA": result("NVDA", 0.07, 0.02),
	})

	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEqual(t, models.SeverityCritical, e.Severity)
	}
}

func TestDetectEventOrderIsDeterministic(t *testing.T) {
	s := newTestSentinel()

	for i := 0; i < 10; i++ {
		events := s.DetectPortfolioEvents(uuid.New(), map[string]*models.AgentResult{
			"NVDA": result("NVDA", 0.07, 0.06),
			"AMZN": result("AMZN", 0.09, 0.05),
			"TSLA": result("TSLA", 0.08, 0.055),
		})
		require.Len(t, events, 4)
		assert.Equal(t, "AMZN", events[0].Ticker)
		assert.Equal(t, "NVDA", events[1].Ticker)
		assert.Equal(t, "TSLA", events[2].Ticker)
		assert.Equal(t, models.SeverityCritical, events[3].Severity)
	}
}
