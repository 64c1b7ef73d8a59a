// Package curator provides read-only advisory assessments of the stored
// knowledge base: how trustworthy each agent's recent insights are, and
// where coverage gaps exist.
package curator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/models"
)

// InsightReader is the slice of the store the curator reads through.
type InsightReader interface {
	ListInsightsSince(ctx context.Context, since time.Time) ([]*models.Insight, error)
	AgentFailureRates(ctx context.Context, since time.Time) (map[string]float64, error)
}

// AgentQuality holds the per-agent sub-scores behind a quality report.
type AgentQuality struct {
	Agent               string  `json:"agent"`
	Insights            int     `json:"insights"`
	HighConfidenceShare float64 `json:"high_confidence_share"`
	Recency             float64 `json:"recency"`
	Coverage            float64 `json:"coverage"`
	Score               float64 `json:"score"` // unweighted mean of the three sub-scores
}

// QualityReport is the output of CurateKnowledgeQuality.
type QualityReport struct {
	Overall     float64                 `json:"overall"`
	Agents      map[string]AgentQuality `json:"agents"`
	WindowStart time.Time               `json:"window_start"`
}

// Gap flags one missing or degraded piece of the knowledge base. Ticker and
// Agent are mutually exclusive subjects.
type Gap struct {
	Severity models.Severity `json:"severity"`
	Ticker   string          `json:"ticker,omitempty"`
	Agent    string          `json:"agent,omitempty"`
	Reason   string          `json:"reason"`
}

// Curator computes advisory knowledge-quality scores and gap lists. It never
// writes.
type Curator struct {
	store              InsightReader
	qualityFloor       float64
	staleAfter         time.Duration
	failureRateCeiling float64
	log                zerolog.Logger
}

// New creates a curator.
func New(store InsightReader, qualityFloor float64, staleAfter time.Duration, failureRateCeiling float64) *Curator {
	return &Curator{
		store:              store,
		qualityFloor:       qualityFloor,
		staleAfter:         staleAfter,
		failureRateCeiling: failureRateCeiling,
		log:                config.NewLogger("curator"),
	}
}

// CurateKnowledgeQuality scores each agent's insights over the window.
// Recency is measured against the most recent half of the window so an agent
// that stopped producing mid-window scores lower than one still active.
func (c *Curator) CurateKnowledgeQuality(ctx context.Context, window time.Duration, portfolioSize int) (*QualityReport, error) {
	if window <= 0 {
		return nil, models.InvalidInputf("window must be positive, got %s", window)
	}
	if portfolioSize <= 0 {
		return nil, models.InvalidInputf("portfolio size must be positive, got %d", portfolioSize)
	}

	now := time.Now().UTC()
	windowStart := now.Add(-window)
	recentStart := now.Add(-window / 2)

	insights, err := c.store.ListInsightsSince(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	type tally struct {
		total          int
		highConfidence int
		recent         int
		tickers        map[string]struct{}
	}
	byAgent := make(map[string]*tally)
	for _, insight := range insights {
		agentTally := byAgent[insight.Agent]
		if agentTally == nil {
			agentTally = &tally{tickers: make(map[string]struct{})}
			byAgent[insight.Agent] = agentTally
		}
		agentTally.total++
		agentTally.tickers[insight.Ticker] = struct{}{}
		if insight.Confidence >= c.qualityFloor {
			agentTally.highConfidence++
		}
		if insight.CreatedAt.After(recentStart) {
			agentTally.recent++
		}
	}

	report := &QualityReport{
		Agents:      make(map[string]AgentQuality, len(byAgent)),
		WindowStart: windowStart,
	}

	var overall float64
	for agent, agentTally := range byAgent {
		quality := AgentQuality{
			Agent:               agent,
			Insights:            agentTally.total,
			HighConfidenceShare: float64(agentTally.highConfidence) / float64(agentTally.total),
			Recency:             float64(agentTally.recent) / float64(agentTally.total),
			Coverage:            clamp01(float64(len(agentTally.tickers)) / float64(portfolioSize)),
		}
		quality.Score = (quality.HighConfidenceShare + quality.Recency + quality.Coverage) / 3
		report.Agents[agent] = quality
		overall += quality.Score
	}
	if len(report.Agents) > 0 {
		report.Overall = overall / float64(len(report.Agents))
	}

	c.log.Debug().
		Int("insights", len(insights)).
		Int("agents", len(report.Agents)).
		Float64("overall", report.Overall).
		Msg("Knowledge quality curated")

	return report, nil
}

// IdentifyKnowledgeGaps flags portfolio tickers with no insights in the
// window (HIGH), tickers whose newest insight predates the staleness
// threshold (MEDIUM), and agents whose failure rate exceeds the ceiling
// (LOW). The list is ordered most severe first, ties broken by subject name.
func (c *Curator) IdentifyKnowledgeGaps(ctx context.Context, window time.Duration, tickers []string) ([]Gap, error) {
	if window <= 0 {
		return nil, models.InvalidInputf("window must be positive, got %s", window)
	}

	now := time.Now().UTC()
	windowStart := now.Add(-window)
	staleBefore := now.Add(-c.staleAfter)

	insights, err := c.store.ListInsightsSince(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	newestByTicker := make(map[string]time.Time)
	for _, insight := range insights {
		if insight.CreatedAt.After(newestByTicker[insight.Ticker]) {
			newestByTicker[insight.Ticker] = insight.CreatedAt
		}
	}

	var gaps []Gap
	for _, ticker := range tickers {
		newest, ok := newestByTicker[ticker]
		switch {
		case !ok:
			gaps = append(gaps, Gap{
				Severity: models.SeverityHigh,
				Ticker:   ticker,
				Reason:   "no insights in window",
			})
		case newest.Before(staleBefore):
			gaps = append(gaps, Gap{
				Severity: models.SeverityMedium,
				Ticker:   ticker,
				Reason:   fmt.Sprintf("newest insight older than %s", c.staleAfter),
			})
		}
	}

	failureRates, err := c.store.AgentFailureRates(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute agent failure rates: %w", err)
	}
	for agent, rate := range failureRates {
		if rate > c.failureRateCeiling {
			gaps = append(gaps, Gap{
				Severity: models.SeverityLow,
				Agent:    agent,
				Reason:   fmt.Sprintf("failure rate %.2f exceeds ceiling %.2f", rate, c.failureRateCeiling),
			})
		}
	}

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Severity.Rank() != gaps[j].Severity.Rank() {
			return gaps[i].Severity.Rank() > gaps[j].Severity.Rank()
		}
		return gaps[i].subject() < gaps[j].subject()
	})

	return gaps, nil
}

func (g Gap) subject() string {
	if g.Ticker != "" {
		return g.Ticker
	}
	return g.Agent
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
