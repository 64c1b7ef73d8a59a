package store

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/stockpulse/internal/models"
)

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InsertPortfolioAnalysis persists one synthesis verdict. One record per
// supervisor run, immutable.
func (s *Store) InsertPortfolioAnalysis(ctx context.Context, analysis *models.PortfolioAnalysis) error {
	query := `
		INSERT INTO portfolio_analyses (
			id, run_id, portfolio_size, analyzed_stocks, high_impact_count,
			portfolio_risk, degraded, analysis_duration_ms, agents_used,
			synthesis_summary, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)
	`

	_, err := s.pool.Exec(
		ctx,
		query,
		analysis.ID,
		analysis.RunID,
		analysis.PortfolioSize,
		analysis.AnalyzedStocks,
		analysis.HighImpactCount,
		string(analysis.PortfolioRisk),
		analysis.Degraded,
		analysis.AnalysisDuration.Milliseconds(),
		analysis.AgentsUsed,
		analysis.SynthesisSummary,
		analysis.CreatedAt,
	)
	return err
}

// GetLatestPortfolioAnalysis returns the most recent verdict, or nil when
// none exists.
func (s *Store) GetLatestPortfolioAnalysis(ctx context.Context) (*models.PortfolioAnalysis, error) {
	query := `
		SELECT id, run_id, portfolio_size, analyzed_stocks, high_impact_count,
			portfolio_risk, degraded, analysis_duration_ms, agents_used,
			synthesis_summary, created_at
		FROM portfolio_analyses
		ORDER BY created_at DESC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating analysis rows: %w", err)
		}
		return nil, nil
	}

	var (
		pa         models.PortfolioAnalysis
		risk       string
		durationMs int64
	)
	err = rows.Scan(
		&pa.ID,
		&pa.RunID,
		&pa.PortfolioSize,
		&pa.AnalyzedStocks,
		&pa.HighImpactCount,
		&risk,
		&pa.Degraded,
		&durationMs,
		&pa.AgentsUsed,
		&pa.SynthesisSummary,
		&pa.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis row: %w", err)
	}
	pa.PortfolioRisk = models.ImpactLevel(risk)
	pa.AnalysisDuration = millisToDuration(durationMs)
	return &pa, nil
}
