package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/stockpulse/internal/models"
)

// InsertEvent persists a sentinel event. Events are never mutated.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	var correlation []byte
	if event.CorrelationData != nil {
		var err error
		correlation, err = json.Marshal(event.CorrelationData)
		if err != nil {
			return fmt.Errorf("failed to marshal correlation data: %w", err)
		}
	}

	query := `
		INSERT INTO events (
			id, run_id, ticker, event_type, severity, message,
			volatility, volume_spike, portfolio_risk, correlation_data, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.pool.Exec(
		ctx,
		query,
		event.ID,
		event.RunID,
		event.Ticker,
		event.EventType,
		string(event.Severity),
		event.Message,
		event.Volatility,
		event.VolumeSpike,
		event.PortfolioRisk,
		correlation,
		event.CreatedAt,
	)
	return err
}

// ListEventsSince returns all events created at or after the given time,
// newest first.
func (s *Store) ListEventsSince(ctx context.Context, since time.Time) ([]*models.Event, error) {
	query := `
		SELECT id, run_id, ticker, event_type, severity, message,
			volatility, volume_spike, portfolio_risk, correlation_data, created_at
		FROM events
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			ev          models.Event
			severity    string
			correlation []byte
		)
		err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Ticker,
			&ev.EventType,
			&severity,
			&ev.Message,
			&ev.Volatility,
			&ev.VolumeSpike,
			&ev.PortfolioRisk,
			&correlation,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Severity = models.Severity(severity)
		if len(correlation) > 0 {
			if err := json.Unmarshal(correlation, &ev.CorrelationData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal correlation data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
