package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/profile"
	"github.com/quantfold/stockpulse/internal/store/testhelpers"
)

// TestInsightRoundTripWithTestcontainers exercises the insight lifecycle
// against a real PostgreSQL instance.
func TestInsightRoundTripWithTestcontainers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))

	ctx := context.Background()
	st := tc.Store

	insight := &models.Insight{
		ID:          uuid.New(),
		RunID:       uuid.New(),
		Ticker:      "AAPL",
		Agent:       "news+risk",
		Text:        "original",
		ImpactLevel: models.ImpactMedium,
		Confidence:  0.75,
		Volatility:  0.03,
		Metadata:    map[string]string{"degraded": "false"},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.InsertInsight(ctx, insight))

	loaded, err := st.GetLatestInsight(ctx, "AAPL", "news+risk")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, insight.ID, loaded.ID)
	assert.Equal(t, models.ImpactMedium, loaded.ImpactLevel)
	assert.Equal(t, "false", loaded.Metadata["degraded"])

	// One-shot refinement.
	require.NoError(t, st.MarkInsightRefined(ctx, insight.ID, "refined"))
	require.Error(t, st.MarkInsightRefined(ctx, insight.ID, "refined again"))

	loaded, err = st.GetLatestInsight(ctx, "AAPL", "news+risk")
	require.NoError(t, err)
	assert.True(t, loaded.Refined)
	assert.Equal(t, "refined", loaded.Text)
	require.NotNil(t, loaded.OriginalText)
	assert.Equal(t, "original", *loaded.OriginalText)
}

// TestConcurrentIngestionWithTestcontainers verifies the lost-update
// guarantee: concurrent snapshots for one ticker all land in the totals.
func TestConcurrentIngestionWithTestcontainers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))

	ctx := context.Background()
	engine := profile.NewEngine(tc.Store, 5)

	const workers = 8
	changes := []float64{8.1, -3.2, 0.5, 12.4, -7.7, 2.2, 1.0, -1.1}
	categories := []string{"earnings", "product", "earnings", "macro", "earnings", "product", "macro", "earnings"}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.OnSnapshotIngested(ctx, &models.NewsSnapshot{
				Ticker:          "TSLA",
				Category:        categories[i],
				Impact:          models.NewsPositive,
				PriceChange24h:  changes[i],
				ConfidenceScore: 0.9,
				PublishedAt:     time.Now().UTC(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	personality, err := tc.Store.GetPersonality(ctx, "TSLA")
	require.NoError(t, err)
	require.NotNil(t, personality)
	assert.Equal(t, int64(workers), personality.TotalEvents, "no ingestion may be lost")

	var expected float64
	for _, c := range changes {
		if c < 0 {
			c = -c
		}
		expected += c
	}
	expected /= float64(len(changes))
	assert.InDelta(t, expected, personality.AvgVolatility, 1e-9)

	count, err := tc.Store.CountSnapshots(ctx, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, personality.TotalEvents, count, "total_events must equal snapshot rows")

	patterns, err := tc.Store.ListReactionPatterns(ctx, "TSLA")
	require.NoError(t, err)
	var frequencySum float64
	for _, pattern := range patterns {
		frequencySum += pattern.Frequency
	}
	assert.InDelta(t, 1.0, frequencySum, 1e-6, "frequencies must sum to 1")
}
