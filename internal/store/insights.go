package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantfold/stockpulse/internal/models"
)

// InsertInsight persists a new agent insight. Insights are immutable after
// this point except the one-shot refinement fields.
func (s *Store) InsertInsight(ctx context.Context, insight *models.Insight) error {
	var metadata []byte
	if insight.Metadata != nil {
		var err error
		metadata, err = json.Marshal(insight.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal insight metadata: %w", err)
		}
	}

	query := `
		INSERT INTO insights (
			id, run_id, ticker, agent, text, impact_level,
			confidence, volatility, refined, original_text, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)
	`

	_, err := s.pool.Exec(
		ctx,
		query,
		insight.ID,
		insight.RunID,
		insight.Ticker,
		insight.Agent,
		insight.Text,
		string(insight.ImpactLevel),
		insight.Confidence,
		insight.Volatility,
		insight.Refined,
		insight.OriginalText,
		metadata,
		insight.CreatedAt,
	)
	return err
}

// MarkInsightRefined sets the refinement fields of an insight exactly once.
// The WHERE clause guards against double refinement.
func (s *Store) MarkInsightRefined(ctx context.Context, id uuid.UUID, refinedText string) error {
	query := `
		UPDATE insights
		SET refined = TRUE, original_text = text, text = $2
		WHERE id = $1 AND refined = FALSE
	`

	tag, err := s.pool.Exec(ctx, query, id, refinedText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insight %s not found or already refined", id)
	}
	return nil
}

// GetLatestInsight returns the most recent insight for a ticker/agent pair,
// or nil when none exists.
func (s *Store) GetLatestInsight(ctx context.Context, ticker, agent string) (*models.Insight, error) {
	query := `
		SELECT id, run_id, ticker, agent, text, impact_level,
			confidence, volatility, refined, original_text, metadata, created_at
		FROM insights
		WHERE ticker = $1 AND agent = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query, ticker, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	insights, err := scanInsights(rows)
	if err != nil {
		return nil, err
	}
	if len(insights) == 0 {
		return nil, nil
	}
	return insights[0], nil
}

// ListInsightsSince returns all insights created at or after the given time,
// newest first.
func (s *Store) ListInsightsSince(ctx context.Context, since time.Time) ([]*models.Insight, error) {
	query := `
		SELECT id, run_id, ticker, agent, text, impact_level,
			confidence, volatility, refined, original_text, metadata, created_at
		FROM insights
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInsights(rows)
}

// ListInsightsForTicker returns the insight history of one ticker, newest
// first.
func (s *Store) ListInsightsForTicker(ctx context.Context, ticker string, limit int) ([]*models.Insight, error) {
	query := `
		SELECT id, run_id, ticker, agent, text, impact_level,
			confidence, volatility, refined, original_text, metadata, created_at
		FROM insights
		WHERE ticker = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInsights(rows)
}

func scanInsights(rows pgx.Rows) ([]*models.Insight, error) {
	var insights []*models.Insight
	for rows.Next() {
		var (
			in       models.Insight
			impact   string
			metadata []byte
		)
		err := rows.Scan(
			&in.ID,
			&in.RunID,
			&in.Ticker,
			&in.Agent,
			&in.Text,
			&impact,
			&in.Confidence,
			&in.Volatility,
			&in.Refined,
			&in.OriginalText,
			&metadata,
			&in.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight row: %w", err)
		}
		in.ImpactLevel = models.ImpactLevel(impact)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &in.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal insight metadata: %w", err)
			}
		}
		insights = append(insights, &in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating insight rows: %w", err)
	}
	return insights, nil
}
