// Package sentinel detects threshold breaches and cross-ticker correlated
// moves in one analysis run's agent results.
package sentinel

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
)

// Sentinel inspects the successful per-ticker results of one run. It is the
// sole producer of Event records.
type Sentinel struct {
	volatilityHigh       float64
	correlationThreshold float64
	log                  zerolog.Logger
}

// New creates a sentinel with the given volatility breach threshold and
// direction correlation threshold.
func New(volatilityHigh, correlationThreshold float64) *Sentinel {
	return &Sentinel{
		volatilityHigh:       volatilityHigh,
		correlationThreshold: correlationThreshold,
		log:                  config.NewLogger("sentinel"),
	}
}

// DetectPortfolioEvents flags every ticker whose volatility breaches the
// HIGH threshold, then checks whether at least two breaching tickers move in
// the same direction strongly enough to count as a correlated portfolio
// event. When severities conflict for one ticker within the run, the higher
// one wins; events are never downgraded after creation.
func (s *Sentinel) DetectPortfolioEvents(runID uuid.UUID, results map[string]*models.AgentResult) []*models.Event {
	now := time.Now().UTC()

	candidates := make([]*models.AgentResult, 0, len(results))
	for _, result := range results {
		if result != nil && result.Volatility >= s.volatilityHigh {
			candidates = append(candidates, result)
		}
	}
	// Deterministic event order regardless of map iteration.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Ticker < candidates[j].Ticker
	})

	severityByTicker := make(map[string]models.Severity, len(candidates))
	for _, c := range candidates {
		severityByTicker[c.Ticker] = models.MaxSeverity(severityByTicker[c.Ticker], models.SeverityHigh)
	}

	events := make([]*models.Event, 0, len(candidates)+1)
	for _, c := range candidates {
		events = append(events, &models.Event{
			ID:          uuid.New(),
			RunID:       runID,
			Ticker:      c.Ticker,
			EventType:   models.EventTypeVolatilityBreach,
			Severity:    severityByTicker[c.Ticker],
			Message:     fmt.Sprintf("%s volatility %.4f breached threshold %.4f", c.Ticker, c.Volatility, s.volatilityHigh),
			Volatility:  c.Volatility,
			VolumeSpike: c.VolumeSpike,
			CreatedAt:   now,
		})
	}

	if correlated := s.correlatedGroup(candidates); len(correlated) >= 2 {
		correlationData := make(map[string]float64, len(correlated))
		tickers := make([]string, 0, len(correlated))
		for _, c := range correlated {
			correlationData[c.Ticker] = c.PriceDirection
			tickers = append(tickers, c.Ticker)
		}

		events = append(events, &models.Event{
			ID:              uuid.New(),
			RunID:           runID,
			EventType:       models.EventTypeCorrelatedMove,
			Severity:        models.SeverityCritical,
			Message:         fmt.Sprintf("Correlated move across %d high-volatility tickers: %s", len(correlated), strings.Join(tickers, ", ")),
			CorrelationData: correlationData,
			CreatedAt:       now,
		})

		s.log.Warn().
			Strs("tickers", tickers).
			Msg("Correlated high-volatility move detected")
	}

	for _, event := range events {
		metrics.EventsEmitted.WithLabelValues(event.EventType, string(event.Severity)).Inc()
	}

	return events
}

// correlatedGroup returns the larger same-direction subset of candidates
// whose price moves clear the correlation threshold. Direction magnitude
// below the threshold does not count as agreement.
func (s *Sentinel) correlatedGroup(candidates []*models.AgentResult) []*models.AgentResult {
	var up, down []*models.AgentResult
	for _, c := range candidates {
		strength := math.Abs(c.PriceDirection) / s.volatilityHigh
		if strength < s.correlationThreshold {
			continue
		}
		if c.PriceDirection > 0 {
			up = append(up, c)
		} else if c.PriceDirection < 0 {
			down = append(down, c)
		}
	}
	if len(up) >= len(down) {
		return up
	}
	return down
}
