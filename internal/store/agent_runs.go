package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentRun records one agent invocation, successful or not. The curator
// derives per-agent failure rates from these rows.
type AgentRun struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Agent     string    `json:"agent"`
	Ticker    string    `json:"ticker"`
	Success   bool      `json:"success"`
	Failure   string    `json:"failure,omitempty"` // taxonomy label when Success is false
	CreatedAt time.Time `json:"created_at"`
}

// InsertAgentRun records one agent invocation outcome.
func (s *Store) InsertAgentRun(ctx context.Context, run *AgentRun) error {
	query := `
		INSERT INTO agent_runs (id, run_id, agent, ticker, success, failure, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.RunID,
		run.Agent,
		run.Ticker,
		run.Success,
		run.Failure,
		run.CreatedAt,
	)
	return err
}

// AgentFailureRates returns, per agent, the fraction of invocations since
// the given time that failed. Agents with no invocations are absent.
func (s *Store) AgentFailureRates(ctx context.Context, since time.Time) (map[string]float64, error) {
	query := `
		SELECT agent,
			COUNT(*) FILTER (WHERE NOT success)::float / COUNT(*)::float
		FROM agent_runs
		WHERE created_at >= $1
		GROUP BY agent
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var (
			agent string
			rate  float64
		)
		if err := rows.Scan(&agent, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan failure rate row: %w", err)
		}
		rates[agent] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rate rows: %w", err)
	}
	return rates, nil
}
