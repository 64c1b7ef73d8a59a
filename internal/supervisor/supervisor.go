// Package supervisor orchestrates one analysis run: parallel agent
// collection per ticker, merge and degradation rules, the portfolio risk
// verdict, and persistence of everything the run produced.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/stockpulse/internal/agents"
	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/sentinel"
	"github.com/quantfold/stockpulse/internal/store"
	"github.com/quantfold/stockpulse/internal/validation"
)

// State is the synthesis state machine position of one run.
type State string

const (
	StateCollecting          State = "COLLECTING"
	StateEvaluating          State = "EVALUATING"
	StateSynthesized         State = "SYNTHESIZED"
	StateDegradedSynthesized State = "DEGRADED_SYNTHESIZED"
	StateFailed              State = "FAILED"
)

// Storage is the slice of the store the supervisor writes through.
type Storage interface {
	InsertInsight(ctx context.Context, insight *models.Insight) error
	GetLatestInsight(ctx context.Context, ticker, agent string) (*models.Insight, error)
	InsertKnowledgeEvolution(ctx context.Context, evo *models.KnowledgeEvolution) error
	InsertEvent(ctx context.Context, event *models.Event) error
	InsertPortfolioAnalysis(ctx context.Context, analysis *models.PortfolioAnalysis) error
	InsertAgentRun(ctx context.Context, run *store.AgentRun) error
}

// EventPublisher pushes sentinel events to downstream consumers. The NATS
// publisher implements it; nil disables publishing.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []*models.Event)
}

// Config holds the synthesis thresholds.
type Config struct {
	AgentTimeout      time.Duration // per agent call
	DegradationFactor float64       // confidence multiplier when only one agent succeeded
	HighRiskRatio     float64       // high_impact_count / portfolio_size ratio for a HIGH verdict
	DegradedFraction  float64       // fraction of tickers with failures that marks the run degraded
}

// Supervisor runs the collection and synthesis state machine.
type Supervisor struct {
	agents    []agents.Agent
	storage   Storage
	sentinel  *sentinel.Sentinel
	publisher EventPublisher
	cfg       Config
	log       zerolog.Logger
}

// New creates a supervisor over the given agents.
func New(agentList []agents.Agent, storage Storage, snt *sentinel.Sentinel, publisher EventPublisher, cfg Config) *Supervisor {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 15 * time.Second
	}
	if cfg.DegradationFactor == 0 {
		cfg.DegradationFactor = 0.7
	}
	if cfg.HighRiskRatio == 0 {
		cfg.HighRiskRatio = 0.3
	}
	if cfg.DegradedFraction == 0 {
		cfg.DegradedFraction = 0.5
	}

	return &Supervisor{
		agents:    agentList,
		storage:   storage,
		sentinel:  snt,
		publisher: publisher,
		cfg:       cfg,
		log:       config.NewLogger("supervisor"),
	}
}

// tickerOutcome is one ticker's collected agent results after merging.
type tickerOutcome struct {
	ticker   string
	merged   *models.AgentResult
	agents   []string // contributing agent names, sorted
	failures int
	degraded bool
}

// AnalyzePortfolio runs both agents for every ticker in parallel, merges the
// results per ticker, classifies portfolio risk, and persists the run.
// A degraded verdict is marked on the returned analysis; zero usable results
// fail the whole run.
func (s *Supervisor) AnalyzePortfolio(ctx context.Context, tickers []string) (*models.PortfolioAnalysis, error) {
	tickers, err := normalizeTickers(tickers)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	start := time.Now()
	runLog := s.log.With().Str("run_id", runID.String()).Logger()

	runLog.Info().
		Int("portfolio_size", len(tickers)).
		Str("state", string(StateCollecting)).
		Msg("Starting portfolio analysis")

	collectedResults := s.collect(ctx, runID, tickers)

	runLog.Debug().Str("state", string(StateEvaluating)).Msg("Evaluating collected results")

	outcomes := make([]*tickerOutcome, 0, len(tickers))
	tickersWithFailure := 0
	for _, ticker := range tickers {
		outcome := s.evaluate(ticker, collectedResults[ticker])
		if outcome.failures > 0 {
			tickersWithFailure++
		}
		if outcome.merged != nil {
			outcomes = append(outcomes, outcome)
		}
	}

	if len(outcomes) == 0 {
		metrics.PortfolioRuns.WithLabelValues(string(StateFailed)).Inc()
		runLog.Error().Str("state", string(StateFailed)).Msg("No usable agent results")
		return nil, fmt.Errorf("portfolio analysis %s produced no usable results: %w",
			runID, models.ErrSynthesisFailed)
	}

	highImpact := 0
	for _, outcome := range outcomes {
		if outcome.merged.ImpactLevel == models.ImpactHigh {
			highImpact++
		}
	}
	portfolioRisk := s.classifyPortfolioRisk(highImpact, len(tickers))

	degraded := float64(tickersWithFailure)/float64(len(tickers)) > s.cfg.DegradedFraction
	terminal := StateSynthesized
	if degraded {
		terminal = StateDegradedSynthesized
	}

	analysis := &models.PortfolioAnalysis{
		ID:               uuid.New(),
		RunID:            runID,
		PortfolioSize:    len(tickers),
		AnalyzedStocks:   len(outcomes),
		HighImpactCount:  highImpact,
		PortfolioRisk:    portfolioRisk,
		Degraded:         degraded,
		AnalysisDuration: time.Since(start),
		AgentsUsed:       agentsUsed(outcomes),
		SynthesisSummary: summarize(outcomes, portfolioRisk, highImpact, len(tickers)),
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.persistRun(ctx, runID, analysis, outcomes); err != nil {
		metrics.PortfolioRuns.WithLabelValues(string(StateFailed)).Inc()
		return nil, err
	}

	s.emitEvents(ctx, runID, outcomes)

	metrics.PortfolioRuns.WithLabelValues(string(terminal)).Inc()
	metrics.PortfolioDuration.Observe(time.Since(start).Seconds())

	runLog.Info().
		Str("state", string(terminal)).
		Str("portfolio_risk", string(portfolioRisk)).
		Int("analyzed", len(outcomes)).
		Int("high_impact", highImpact).
		Dur("duration", analysis.AnalysisDuration).
		Msg("Portfolio analysis complete")

	return analysis, nil
}

// AnalyzeTicker runs both agents for one ticker and returns the merged,
// persisted insight. Both agents failing fails the call.
func (s *Supervisor) AnalyzeTicker(ctx context.Context, ticker string) (*models.Insight, error) {
	if !validation.ValidTicker(ticker) {
		return nil, models.InvalidInputf("invalid ticker %q", ticker)
	}

	runID := uuid.New()
	collectedResults := s.collect(ctx, runID, []string{ticker})
	outcome := s.evaluate(ticker, collectedResults[ticker])
	if outcome.merged == nil {
		return nil, fmt.Errorf("all agents failed for %s: %w", ticker, models.ErrSynthesisFailed)
	}

	insight, err := s.persistInsight(ctx, runID, outcome)
	if err != nil {
		return nil, err
	}
	return insight, nil
}

// collect invokes every agent for every ticker in parallel, each call
// bounded by the agent timeout. Failures are recorded, never propagated;
// cancellation of the run context reaches every in-flight call.
func (s *Supervisor) collect(ctx context.Context, runID uuid.UUID, tickers []string) map[string]map[string]*models.AgentResult {
	var mu sync.Mutex
	results := make(map[string]map[string]*models.AgentResult, len(tickers))
	for _, ticker := range tickers {
		results[ticker] = make(map[string]*models.AgentResult, len(s.agents))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		for _, agent := range s.agents {
			ticker, agent := ticker, agent
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(groupCtx, s.cfg.AgentTimeout)
				defer cancel()

				result, err := agent.Analyze(callCtx, ticker)

				run := &store.AgentRun{
					ID:        uuid.New(),
					RunID:     runID,
					Agent:     agent.Name(),
					Ticker:    ticker,
					Success:   err == nil,
					CreatedAt: time.Now().UTC(),
				}
				if err != nil {
					run.Failure = metrics.NormalizeFailureReason(err)
					s.log.Warn().
						Err(err).
						Str("agent", agent.Name()).
						Str("ticker", ticker).
						Msg("Agent call failed")
				}
				if insertErr := s.storage.InsertAgentRun(ctx, run); insertErr != nil {
					s.log.Warn().Err(insertErr).Msg("Failed to record agent run")
				}

				if err == nil {
					mu.Lock()
					results[ticker][agent.Name()] = result
					mu.Unlock()
				}
				// Failures never abort the group.
				return nil
			})
		}
	}
	_ = g.Wait()

	return results
}

// evaluate merges one ticker's agent results per the synthesis rules: the
// higher impact level wins, confidence is the self-weighted average, and a
// single surviving agent is degraded by the configured factor.
func (s *Supervisor) evaluate(ticker string, byAgent map[string]*models.AgentResult) *tickerOutcome {
	outcome := &tickerOutcome{ticker: ticker}

	var succeeded []*models.AgentResult
	for _, agent := range s.agents {
		if result, ok := byAgent[agent.Name()]; ok {
			succeeded = append(succeeded, result)
			outcome.agents = append(outcome.agents, agent.Name())
		} else {
			outcome.failures++
		}
	}
	sort.Strings(outcome.agents)

	switch len(succeeded) {
	case 0:
		return outcome
	case 1:
		result := *succeeded[0]
		result.Confidence *= s.cfg.DegradationFactor
		outcome.merged = &result
		outcome.degraded = true
		return outcome
	}

	outcome.merged = mergeResults(succeeded)
	return outcome
}

// mergeResults folds two or more successful results for one ticker into a
// single verdict.
func mergeResults(results []*models.AgentResult) *models.AgentResult {
	merged := &models.AgentResult{
		Ticker:     results[0].Ticker,
		ComputedAt: time.Now().UTC(),
	}

	var weightedSum, weightTotal float64
	names := make([]string, 0, len(results))
	texts := make([]string, 0, len(results))
	for _, result := range results {
		merged.ImpactLevel = models.MaxImpact(merged.ImpactLevel, result.ImpactLevel)
		if result.Volatility > merged.Volatility {
			merged.Volatility = result.Volatility
		}
		if result.VolumeSpike > merged.VolumeSpike {
			merged.VolumeSpike = result.VolumeSpike
		}
		// Self-weighted: each confidence weighted by itself, so a confident
		// judgment dominates an unsure one.
		weightedSum += result.Confidence * result.Confidence
		weightTotal += result.Confidence
		names = append(names, result.AgentName)
		if result.RawInsightText != "" {
			texts = append(texts, result.RawInsightText)
		}
		// Price direction comes from the market-observing agent when present.
		if result.AgentName == agents.RiskAgentName || merged.PriceDirection == 0 {
			merged.PriceDirection = result.PriceDirection
		}
	}
	if weightTotal > 0 {
		merged.Confidence = weightedSum / weightTotal
	}

	sort.Strings(names)
	merged.AgentName = strings.Join(names, "+")
	merged.RawInsightText = strings.Join(texts, " | ")
	return merged
}

// classifyPortfolioRisk applies the ratio rule: a HIGH verdict needs enough
// HIGH tickers relative to portfolio size, so one noisy ticker cannot
// dominate a large portfolio.
func (s *Supervisor) classifyPortfolioRisk(highImpact, portfolioSize int) models.ImpactLevel {
	if portfolioSize > 0 && float64(highImpact)/float64(portfolioSize) >= s.cfg.HighRiskRatio {
		return models.ImpactHigh
	}
	if highImpact > 0 {
		return models.ImpactMedium
	}
	return models.ImpactLow
}

func (s *Supervisor) persistRun(ctx context.Context, runID uuid.UUID, analysis *models.PortfolioAnalysis, outcomes []*tickerOutcome) error {
	for _, outcome := range outcomes {
		if _, err := s.persistInsight(ctx, runID, outcome); err != nil {
			return err
		}
	}

	if err := s.storage.InsertPortfolioAnalysis(ctx, analysis); err != nil {
		return fmt.Errorf("failed to persist portfolio analysis: %w", err)
	}
	return nil
}

// persistInsight writes the merged insight and, when it supersedes an
// earlier insight for the same ticker and agent set, an append-only
// knowledge evolution record.
func (s *Supervisor) persistInsight(ctx context.Context, runID uuid.UUID, outcome *tickerOutcome) (*models.Insight, error) {
	merged := outcome.merged

	insight := &models.Insight{
		ID:          uuid.New(),
		RunID:       runID,
		Ticker:      outcome.ticker,
		Agent:       merged.AgentName,
		Text:        merged.RawInsightText,
		ImpactLevel: merged.ImpactLevel,
		Confidence:  merged.Confidence,
		Volatility:  merged.Volatility,
		Metadata: map[string]string{
			"degraded": fmt.Sprintf("%t", outcome.degraded),
		},
		CreatedAt: time.Now().UTC(),
	}

	previous, err := s.storage.GetLatestInsight(ctx, outcome.ticker, merged.AgentName)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("ticker", outcome.ticker).Msg("Failed to look up previous insight")
		previous = nil
	}

	if err := s.storage.InsertInsight(ctx, insight); err != nil {
		return nil, fmt.Errorf("failed to persist insight for %s: %w", outcome.ticker, err)
	}

	if previous != nil {
		evolution := &models.KnowledgeEvolution{
			ID:               uuid.New(),
			Ticker:           outcome.ticker,
			EvolutionType:    "refinement",
			PreviousInsight:  previous.Text,
			RefinedInsight:   insight.Text,
			ImprovementScore: improvementScore(previous.Confidence, insight.Confidence),
			Agent:            merged.AgentName,
			Context:          fmt.Sprintf("run %s superseded insight %s", runID, previous.ID),
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.storage.InsertKnowledgeEvolution(ctx, evolution); err != nil {
			s.log.Warn().Err(err).Str("ticker", outcome.ticker).Msg("Failed to record knowledge evolution")
		}
	}

	return insight, nil
}

func (s *Supervisor) emitEvents(ctx context.Context, runID uuid.UUID, outcomes []*tickerOutcome) {
	if s.sentinel == nil {
		return
	}

	resultMap := make(map[string]*models.AgentResult, len(outcomes))
	for _, outcome := range outcomes {
		resultMap[outcome.ticker] = outcome.merged
	}

	events := s.sentinel.DetectPortfolioEvents(runID, resultMap)
	for _, event := range events {
		if err := s.storage.InsertEvent(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("event_type", event.EventType).Msg("Failed to persist event")
		}
	}
	if s.publisher != nil && len(events) > 0 {
		s.publisher.PublishEvents(ctx, events)
	}
}

// improvementScore maps a confidence delta to [0, 1], with 0.5 meaning no
// change.
func improvementScore(previous, current float64) float64 {
	score := (current - previous + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func agentsUsed(outcomes []*tickerOutcome) []string {
	seen := make(map[string]struct{})
	for _, outcome := range outcomes {
		for _, name := range outcome.agents {
			seen[name] = struct{}{}
		}
	}
	used := make([]string, 0, len(seen))
	for name := range seen {
		used = append(used, name)
	}
	sort.Strings(used)
	return used
}

func summarize(outcomes []*tickerOutcome, risk models.ImpactLevel, highImpact, portfolioSize int) string {
	var high []string
	for _, outcome := range outcomes {
		if outcome.merged.ImpactLevel == models.ImpactHigh {
			high = append(high, outcome.ticker)
		}
	}
	sort.Strings(high)

	summary := fmt.Sprintf("Analyzed %d of %d tickers; portfolio risk %s with %d high-impact",
		len(outcomes), portfolioSize, risk, highImpact)
	if len(high) > 0 {
		summary += ": " + strings.Join(high, ", ")
	}
	return summary
}

func normalizeTickers(tickers []string) ([]string, error) {
	if len(tickers) == 0 {
		return nil, models.InvalidInputf("portfolio is empty")
	}

	seen := make(map[string]struct{}, len(tickers))
	normalized := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if !validation.ValidTicker(ticker) {
			return nil, models.InvalidInputf("invalid ticker %q", ticker)
		}
		if _, ok := seen[ticker]; ok {
			continue
		}
		seen[ticker] = struct{}{}
		normalized = append(normalized, ticker)
	}
	return normalized, nil
}
