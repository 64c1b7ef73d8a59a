// Package profile maintains the per-ticker reaction personality: running
// statistics of how each ticker's price historically responds to categorized
// news events, updated incrementally on every ingested snapshot.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/store"
	"github.com/quantfold/stockpulse/internal/validation"
)

// momentumSaturation controls how fast news_momentum approaches 1 as a
// ticker accumulates events.
const momentumSaturation = 10.0

// Storage is the transactional slice of the store the engine writes through.
type Storage interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Engine applies news snapshots to per-ticker personality profiles. Updates
// for one ticker serialize through a per-ticker mutex plus row locks inside
// a single transaction; different tickers update concurrently.
type Engine struct {
	storage    Storage
	maxRetries int
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a profile engine.
func NewEngine(storage Storage, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Engine{
		storage:    storage,
		maxRetries: maxRetries,
		log:        config.NewLogger("profile"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// OnSnapshotIngested persists the snapshot and folds it into the ticker's
// personality and reaction patterns in one transaction. Serialization
// failures retry up to the configured ceiling; exhaustion surfaces as an
// aggregation conflict, never a silent drop.
func (e *Engine) OnSnapshotIngested(ctx context.Context, snapshot *models.NewsSnapshot) (*models.StockPersonality, error) {
	if err := validateSnapshot(snapshot); err != nil {
		return nil, err
	}
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}

	lock := e.tickerLock(snapshot.Ticker)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		updated, err := e.applyOnce(ctx, snapshot)
		if err == nil {
			metrics.SnapshotsIngested.WithLabelValues("success").Inc()
			e.log.Debug().
				Str("ticker", snapshot.Ticker).
				Str("category", snapshot.Category).
				Int64("total_events", updated.TotalEvents).
				Msg("Snapshot ingested")
			return updated, nil
		}
		if !isSerializationFailure(err) {
			metrics.SnapshotsIngested.WithLabelValues("error").Inc()
			return nil, err
		}

		lastErr = err
		metrics.AggregationRetries.Inc()
		e.log.Warn().
			Err(err).
			Str("ticker", snapshot.Ticker).
			Int("attempt", attempt+1).
			Msg("Serialization failure applying snapshot, retrying")
	}

	metrics.AggregationConflicts.Inc()
	metrics.SnapshotsIngested.WithLabelValues("conflict").Inc()
	return nil, fmt.Errorf("snapshot for %s abandoned after %d attempts: %w (last error: %v)",
		snapshot.Ticker, e.maxRetries, models.ErrAggregationConflict, lastErr)
}

func (e *Engine) applyOnce(ctx context.Context, snapshot *models.NewsSnapshot) (*models.StockPersonality, error) {
	var updated *models.StockPersonality

	err := e.storage.WithTx(ctx, func(tx pgx.Tx) error {
		personality, err := store.GetPersonalityForUpdate(ctx, tx, snapshot.Ticker)
		if err != nil {
			return err
		}
		if personality == nil {
			personality = &models.StockPersonality{Ticker: snapshot.Ticker}
		}

		patterns, err := store.ListReactionPatternsForUpdate(ctx, tx, snapshot.Ticker)
		if err != nil {
			return err
		}

		if err := store.InsertNewsSnapshot(ctx, tx, snapshot); err != nil {
			return err
		}

		patterns = applySnapshot(personality, patterns, snapshot, time.Now().UTC())

		if err := store.UpsertPersonality(ctx, tx, personality); err != nil {
			return err
		}
		for _, pattern := range patterns {
			if err := store.UpsertReactionPattern(ctx, tx, pattern); err != nil {
				return err
			}
		}

		updated = personality
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applySnapshot folds one snapshot into the personality and its pattern
// rows. Every pattern row is rewritten because frequency is relative to the
// ticker total, not the category count alone.
func applySnapshot(p *models.StockPersonality, patterns []*models.ReactionPattern, snapshot *models.NewsSnapshot, now time.Time) []*models.ReactionPattern {
	absMove := math.Abs(snapshot.PriceChange24h)

	newTotal := p.TotalEvents + 1
	p.AvgVolatility = (p.AvgVolatility*float64(p.TotalEvents) + absMove) / float64(newTotal)
	p.TotalEvents = newTotal

	var pattern *models.ReactionPattern
	for _, existing := range patterns {
		if existing.Category == snapshot.Category {
			pattern = existing
			break
		}
	}
	if pattern == nil {
		pattern = &models.ReactionPattern{Ticker: p.Ticker, Category: snapshot.Category}
		patterns = append(patterns, pattern)
	}

	newCount := pattern.EventCount + 1
	pattern.AvgImpact = (pattern.AvgImpact*float64(pattern.EventCount) + snapshot.Impact.Score()) / float64(newCount)
	pattern.Volatility = (pattern.Volatility*float64(pattern.EventCount) + absMove) / float64(newCount)
	pattern.EventCount = newCount

	for _, existing := range patterns {
		existing.Frequency = float64(existing.EventCount) / float64(p.TotalEvents)
		existing.LastUpdated = now
	}

	p.SentimentSensitivity = sentimentSensitivity(patterns)
	p.NewsMomentum = float64(p.TotalEvents) / (float64(p.TotalEvents) + momentumSaturation)
	p.LastUpdated = now

	return patterns
}

// sentimentSensitivity is the population variance of avg_impact across the
// ticker's category rows, clamped to [0, 1]. A ticker whose categories all
// land the same way scores near zero; one with sharply split reactions
// scores high.
func sentimentSensitivity(patterns []*models.ReactionPattern) float64 {
	if len(patterns) == 0 {
		return 0
	}

	var mean float64
	for _, p := range patterns {
		mean += p.AvgImpact
	}
	mean /= float64(len(patterns))

	var variance float64
	for _, p := range patterns {
		variance += (p.AvgImpact - mean) * (p.AvgImpact - mean)
	}
	variance /= float64(len(patterns))

	if variance > 1 {
		return 1
	}
	return variance
}

func validateSnapshot(snapshot *models.NewsSnapshot) error {
	if snapshot == nil {
		return models.InvalidInputf("snapshot is nil")
	}

	v := validation.NewSnapshotValidator()
	v.Ticker("ticker", snapshot.Ticker)
	v.ValidateCategory(snapshot.Category)
	v.ValidateImpact(string(snapshot.Impact))
	v.UnitRange("confidence_score", snapshot.ConfidenceScore)
	if v.HasErrors() {
		return models.InvalidInputf("invalid snapshot: %s", v.Errors().Error())
	}
	return nil
}

func (e *Engine) tickerLock(ticker string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[ticker]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[ticker] = lock
	}
	return lock
}

// isSerializationFailure reports whether the error is a Postgres
// serialization failure or deadlock, both safe to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
