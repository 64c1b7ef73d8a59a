package store

import (
	"context"
	"fmt"

	"github.com/quantfold/stockpulse/internal/models"
)

// InsertKnowledgeEvolution appends one audit record of an insight being
// superseded. The trail is append-only; there is no update or delete path.
func (s *Store) InsertKnowledgeEvolution(ctx context.Context, evo *models.KnowledgeEvolution) error {
	query := `
		INSERT INTO knowledge_evolutions (
			id, ticker, evolution_type, previous_insight, refined_insight,
			improvement_score, agent, context, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(
		ctx,
		query,
		evo.ID,
		evo.Ticker,
		evo.EvolutionType,
		evo.PreviousInsight,
		evo.RefinedInsight,
		evo.ImprovementScore,
		evo.Agent,
		evo.Context,
		evo.CreatedAt,
	)
	return err
}

// ListEvolutionsForTicker returns the evolution trail of one ticker, newest
// first.
func (s *Store) ListEvolutionsForTicker(ctx context.Context, ticker string, limit int) ([]*models.KnowledgeEvolution, error) {
	query := `
		SELECT id, ticker, evolution_type, previous_insight, refined_insight,
			improvement_score, agent, context, created_at
		FROM knowledge_evolutions
		WHERE ticker = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evolutions []*models.KnowledgeEvolution
	for rows.Next() {
		var evo models.KnowledgeEvolution
		err := rows.Scan(
			&evo.ID,
			&evo.Ticker,
			&evo.EvolutionType,
			&evo.PreviousInsight,
			&evo.RefinedInsight,
			&evo.ImprovementScore,
			&evo.Agent,
			&evo.Context,
			&evo.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evolution row: %w", err)
		}
		evolutions = append(evolutions, &evo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evolution rows: %w", err)
	}
	return evolutions, nil
}
