package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantfold/stockpulse/internal/models"
)

// The personality and reaction pattern rows are the only mutable state in
// the store. All writes go through a transaction holding row locks taken by
// the ForUpdate readers below, so two concurrent ingestions for the same
// ticker serialize at the database even without the in-process mutex.

// GetPersonalityForUpdate reads a ticker's personality row inside tx with a
// row lock, returning nil when the ticker has no row yet.
func GetPersonalityForUpdate(ctx context.Context, tx Execer, ticker string) (*models.StockPersonality, error) {
	query := `
		SELECT ticker, total_events, avg_volatility, sentiment_sensitivity,
			news_momentum, last_updated
		FROM stock_personalities
		WHERE ticker = $1
		FOR UPDATE
	`

	p := &models.StockPersonality{}
	err := tx.QueryRow(ctx, query, ticker).Scan(
		&p.Ticker,
		&p.TotalEvents,
		&p.AvgVolatility,
		&p.SentimentSensitivity,
		&p.NewsMomentum,
		&p.LastUpdated,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read personality: %w", err)
	}
	return p, nil
}

// UpsertPersonality writes a ticker's personality row inside tx.
func UpsertPersonality(ctx context.Context, tx Execer, p *models.StockPersonality) error {
	query := `
		INSERT INTO stock_personalities (
			ticker, total_events, avg_volatility, sentiment_sensitivity,
			news_momentum, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ticker) DO UPDATE SET
			total_events = EXCLUDED.total_events,
			avg_volatility = EXCLUDED.avg_volatility,
			sentiment_sensitivity = EXCLUDED.sentiment_sensitivity,
			news_momentum = EXCLUDED.news_momentum,
			last_updated = EXCLUDED.last_updated
	`

	_, err := tx.Exec(ctx, query,
		p.Ticker,
		p.TotalEvents,
		p.AvgVolatility,
		p.SentimentSensitivity,
		p.NewsMomentum,
		p.LastUpdated,
	)
	return err
}

// ListReactionPatternsForUpdate reads all category rows of a ticker inside
// tx with row locks, ordered by category for deterministic iteration.
func ListReactionPatternsForUpdate(ctx context.Context, tx Execer, ticker string) ([]*models.ReactionPattern, error) {
	query := `
		SELECT ticker, category, avg_impact, frequency, volatility,
			event_count, last_updated
		FROM reaction_patterns
		WHERE ticker = $1
		ORDER BY category
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReactionPatterns(rows)
}

// UpsertReactionPattern writes one (ticker, category) row inside tx.
func UpsertReactionPattern(ctx context.Context, tx Execer, rp *models.ReactionPattern) error {
	query := `
		INSERT INTO reaction_patterns (
			ticker, category, avg_impact, frequency, volatility,
			event_count, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, category) DO UPDATE SET
			avg_impact = EXCLUDED.avg_impact,
			frequency = EXCLUDED.frequency,
			volatility = EXCLUDED.volatility,
			event_count = EXCLUDED.event_count,
			last_updated = EXCLUDED.last_updated
	`

	_, err := tx.Exec(ctx, query,
		rp.Ticker,
		rp.Category,
		rp.AvgImpact,
		rp.Frequency,
		rp.Volatility,
		rp.EventCount,
		rp.LastUpdated,
	)
	return err
}

// GetPersonality reads a ticker's personality row without locking, returning
// nil when absent.
func (s *Store) GetPersonality(ctx context.Context, ticker string) (*models.StockPersonality, error) {
	query := `
		SELECT ticker, total_events, avg_volatility, sentiment_sensitivity,
			news_momentum, last_updated
		FROM stock_personalities
		WHERE ticker = $1
	`

	p := &models.StockPersonality{}
	err := s.pool.QueryRow(ctx, query, ticker).Scan(
		&p.Ticker,
		&p.TotalEvents,
		&p.AvgVolatility,
		&p.SentimentSensitivity,
		&p.NewsMomentum,
		&p.LastUpdated,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read personality: %w", err)
	}
	return p, nil
}

// ListReactionPatterns reads all category rows of a ticker without locking.
func (s *Store) ListReactionPatterns(ctx context.Context, ticker string) ([]*models.ReactionPattern, error) {
	query := `
		SELECT ticker, category, avg_impact, frequency, volatility,
			event_count, last_updated
		FROM reaction_patterns
		WHERE ticker = $1
		ORDER BY category
	`

	rows, err := s.pool.Query(ctx, query, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReactionPatterns(rows)
}

func scanReactionPatterns(rows pgx.Rows) ([]*models.ReactionPattern, error) {
	var patterns []*models.ReactionPattern
	for rows.Next() {
		var rp models.ReactionPattern
		err := rows.Scan(
			&rp.Ticker,
			&rp.Category,
			&rp.AvgImpact,
			&rp.Frequency,
			&rp.Volatility,
			&rp.EventCount,
			&rp.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reaction pattern row: %w", err)
		}
		patterns = append(patterns, &rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaction pattern rows: %w", err)
	}
	return patterns, nil
}
