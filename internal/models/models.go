// Package models defines the shared data contracts of the analysis core:
// agent results, persisted records, and the error taxonomy.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ImpactLevel is the three-tier severity classification used for both
// per-ticker insights and the portfolio verdict.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "LOW"
	ImpactMedium ImpactLevel = "MEDIUM"
	ImpactHigh   ImpactLevel = "HIGH"
)

// Rank returns the ordering of an impact level (higher = more severe).
// Unknown levels rank below LOW so they never win a merge.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactLow:
		return 1
	case ImpactMedium:
		return 2
	case ImpactHigh:
		return 3
	default:
		return 0
	}
}

// MaxImpact returns the higher of two impact levels.
func MaxImpact(a, b ImpactLevel) ImpactLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Severity classifies events from informational to portfolio-critical.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordering of a severity (higher = more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severities. Events are never
// downgraded after creation; conflicting severities for one ticker within a
// run resolve upward through this.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// NewsImpact is the five-level scale attached to ingested news snapshots.
type NewsImpact string

const (
	NewsVeryNegative NewsImpact = "very_negative"
	NewsNegative     NewsImpact = "negative"
	NewsNeutral      NewsImpact = "neutral"
	NewsPositive     NewsImpact = "positive"
	NewsVeryPositive NewsImpact = "very_positive"
)

// Score maps a news impact to a signed magnitude in [-1, 1] for use in
// reaction pattern statistics.
func (n NewsImpact) Score() float64 {
	switch n {
	case NewsVeryNegative:
		return -1.0
	case NewsNegative:
		return -0.5
	case NewsNeutral:
		return 0.0
	case NewsPositive:
		return 0.5
	case NewsVeryPositive:
		return 1.0
	default:
		return 0.0
	}
}

// AgentResult is the common output contract produced by every analysis agent.
type AgentResult struct {
	AgentName      string      `json:"agent_name"`
	Ticker         string      `json:"ticker"`
	ImpactLevel    ImpactLevel `json:"impact_level"`
	Confidence     float64     `json:"confidence"` // 0.0-1.0, from signal quality, never a constant
	Volatility     float64     `json:"volatility"`
	PriceDirection float64     `json:"price_direction"` // Signed move over the analysis window
	VolumeSpike    float64     `json:"volume_spike"`    // Latest volume relative to the window average
	RawInsightText string      `json:"raw_insight_text"`
	ComputedAt     time.Time   `json:"computed_at"`
}

// Insight is a persisted agent opinion about one ticker. Immutable once
// written except the refinement fields, which the knowledge evolution
// process sets exactly once.
type Insight struct {
	ID           uuid.UUID         `json:"id"`
	RunID        uuid.UUID         `json:"run_id"`
	Ticker       string            `json:"ticker"`
	Agent        string            `json:"agent"`
	Text         string            `json:"text"`
	ImpactLevel  ImpactLevel       `json:"impact_level"`
	Confidence   float64           `json:"confidence"`
	Volatility   float64           `json:"volatility"`
	Refined      bool              `json:"refined"`
	OriginalText *string           `json:"original_text,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Event records a threshold breach or cross-ticker correlation detected
// during one analysis run. Never mutated.
type Event struct {
	ID              uuid.UUID          `json:"id"`
	RunID           uuid.UUID          `json:"run_id"`
	Ticker          string             `json:"ticker"` // empty for portfolio-level events
	EventType       string             `json:"event_type"`
	Severity        Severity           `json:"severity"`
	Message         string             `json:"message"`
	Volatility      float64            `json:"volatility"`
	VolumeSpike     float64            `json:"volume_spike"`
	PortfolioRisk   float64            `json:"portfolio_risk"`
	CorrelationData map[string]float64 `json:"correlation_data,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Event types emitted by the sentinel.
const (
	EventTypeVolatilityBreach = "volatility_breach"
	EventTypeCorrelatedMove   = "correlated_move"
)

// KnowledgeEvolution is an append-only audit record written when a later
// analysis supersedes an earlier insight for the same ticker.
type KnowledgeEvolution struct {
	ID               uuid.UUID `json:"id"`
	Ticker           string    `json:"ticker"`
	EvolutionType    string    `json:"evolution_type"`
	PreviousInsight  string    `json:"previous_insight"`
	RefinedInsight   string    `json:"refined_insight"`
	ImprovementScore float64   `json:"improvement_score"` // 0.0-1.0
	Agent            string    `json:"agent"`
	Context          string    `json:"context"`
	CreatedAt        time.Time `json:"created_at"`
}

// PortfolioAnalysis is the single record produced by each supervisor
// synthesis call. Immutable.
type PortfolioAnalysis struct {
	ID               uuid.UUID     `json:"id"`
	RunID            uuid.UUID     `json:"run_id"`
	PortfolioSize    int           `json:"portfolio_size"`
	AnalyzedStocks   int           `json:"analyzed_stocks"`
	HighImpactCount  int           `json:"high_impact_count"`
	PortfolioRisk    ImpactLevel   `json:"portfolio_risk"`
	Degraded         bool          `json:"degraded"`
	AnalysisDuration time.Duration `json:"analysis_duration"`
	AgentsUsed       []string      `json:"agents_used"`
	SynthesisSummary string        `json:"synthesis_summary"`
	CreatedAt        time.Time     `json:"created_at"`
}

// StockPersonality is the live per-ticker statistical profile of how price
// historically reacts to categorized news. Exactly one row per ticker,
// mutated in place by every snapshot ingestion.
type StockPersonality struct {
	Ticker               string    `json:"ticker"`
	TotalEvents          int64     `json:"total_events"`
	AvgVolatility        float64   `json:"avg_volatility"`        // exact mean of |price_change_24h|
	SentimentSensitivity float64   `json:"sentiment_sensitivity"` // 0.0-1.0
	NewsMomentum         float64   `json:"news_momentum"`         // 0.0-1.0
	LastUpdated          time.Time `json:"last_updated"`
}

// ReactionPattern is the per-(ticker, category) slice of a personality.
// Frequency is relative to the ticker's total event count, so every category
// row is recomputed whenever the total changes.
type ReactionPattern struct {
	Ticker      string    `json:"ticker"`
	Category    string    `json:"category"`
	AvgImpact   float64   `json:"avg_impact"`
	Frequency   float64   `json:"frequency"` // 0.0-1.0, event_count / total_events
	Volatility  float64   `json:"volatility"`
	EventCount  int64     `json:"event_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewsSnapshot is one ingested, categorized article. Immutable; triggers
// exactly one personality update and one reaction pattern update.
type NewsSnapshot struct {
	ID              uuid.UUID  `json:"id"`
	Ticker          string     `json:"ticker"`
	Category        string     `json:"category"`
	Impact          NewsImpact `json:"impact"`
	PriceChange1h   float64    `json:"price_change_1h"`
	PriceChange24h  float64    `json:"price_change_24h"`
	SummaryLine1    string     `json:"summary_line_1"`
	SummaryLine2    string     `json:"summary_line_2"`
	ConfidenceScore float64    `json:"confidence_score"` // 0.0-1.0
	SourceURL       string     `json:"source_url"`
	PublishedAt     time.Time  `json:"published_at"`
}
