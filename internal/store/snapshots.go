package store

import (
	"context"
	"fmt"

	"github.com/quantfold/stockpulse/internal/models"
)

// InsertNewsSnapshot persists one ingested article within the caller's
// transaction, so the snapshot and its personality update commit atomically.
func InsertNewsSnapshot(ctx context.Context, tx Execer, snapshot *models.NewsSnapshot) error {
	query := `
		INSERT INTO news_snapshots (
			id, ticker, category, impact, price_change_1h, price_change_24h,
			summary_line_1, summary_line_2, confidence_score, source_url, published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := tx.Exec(
		ctx,
		query,
		snapshot.ID,
		snapshot.Ticker,
		snapshot.Category,
		string(snapshot.Impact),
		snapshot.PriceChange1h,
		snapshot.PriceChange24h,
		snapshot.SummaryLine1,
		snapshot.SummaryLine2,
		snapshot.ConfidenceScore,
		snapshot.SourceURL,
		snapshot.PublishedAt,
	)
	return err
}

// CountSnapshots returns the number of snapshot rows for a ticker. Used to
// verify the personality total-event invariant.
func (s *Store) CountSnapshots(ctx context.Context, ticker string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM news_snapshots WHERE ticker = $1`, ticker,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}
