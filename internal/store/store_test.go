package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/stockpulse/internal/models"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestInsertInsight(t *testing.T) {
	st, mock := newMockStore(t)

	insight := &models.Insight{
		ID:          uuid.New(),
		RunID:       uuid.New(),
		Ticker:      "AAPL",
		Agent:       "risk",
		Text:        "elevated volatility",
		ImpactLevel: models.ImpactHigh,
		Confidence:  0.9,
		Volatility:  0.07,
		Metadata:    map[string]string{"degraded": "false"},
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO insights").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.InsertInsight(context.Background(), insight))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestInsight(t *testing.T) {
	st, mock := newMockStore(t)

	id := uuid.New()
	runID := uuid.New()
	created := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "run_id", "ticker", "agent", "text", "impact_level",
		"confidence", "volatility", "refined", "original_text", "metadata", "created_at",
	}).AddRow(id, runID, "AAPL", "risk", "steady", "LOW", 0.8, 0.01, false, nil, []byte(nil), created)

	mock.ExpectQuery("FROM insights").
		WithArgs("AAPL", "risk").
		WillReturnRows(rows)

	insight, err := st.GetLatestInsight(context.Background(), "AAPL", "risk")
	require.NoError(t, err)
	require.NotNil(t, insight)
	assert.Equal(t, id, insight.ID)
	assert.Equal(t, models.ImpactLow, insight.ImpactLevel)
	assert.False(t, insight.Refined)
	assert.Nil(t, insight.OriginalText)
}

func TestGetLatestInsightAbsent(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("FROM insights").
		WithArgs("AAPL", "risk").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "run_id", "ticker", "agent", "text", "impact_level",
			"confidence", "volatility", "refined", "original_text", "metadata", "created_at",
		}))

	insight, err := st.GetLatestInsight(context.Background(), "AAPL", "risk")
	require.NoError(t, err)
	assert.Nil(t, insight)
}

func TestMarkInsightRefinedOneShot(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE insights").
		WithArgs(id, "refined text").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.MarkInsightRefined(context.Background(), id, "refined text"))

	// A second refinement matches zero rows and must fail loudly.
	mock.ExpectExec("UPDATE insights").
		WithArgs(id, "again").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.MarkInsightRefined(context.Background(), id, "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already refined")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPortfolioAnalysis(t *testing.T) {
	st, mock := newMockStore(t)

	analysis := &models.PortfolioAnalysis{
		ID:               uuid.New(),
		RunID:            uuid.New(),
		PortfolioSize:    5,
		AnalyzedStocks:   4,
		HighImpactCount:  2,
		PortfolioRisk:    models.ImpactHigh,
		AnalysisDuration: 1500 * time.Millisecond,
		AgentsUsed:       []string{"news", "risk"},
		SynthesisSummary: "summary",
		CreatedAt:        time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO portfolio_analyses").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.InsertPortfolioAnalysis(context.Background(), analysis))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestPortfolioAnalysisRoundsDuration(t *testing.T) {
	st, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "run_id", "portfolio_size", "analyzed_stocks", "high_impact_count",
		"portfolio_risk", "degraded", "analysis_duration_ms", "agents_used",
		"synthesis_summary", "created_at",
	}).AddRow(uuid.New(), uuid.New(), 5, 5, 1, "MEDIUM", false, int64(1500),
		[]string{"news", "risk"}, "summary", time.Now().UTC())

	mock.ExpectQuery("FROM portfolio_analyses").WillReturnRows(rows)

	analysis, err := st.GetLatestPortfolioAnalysis(context.Background())
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, models.ImpactMedium, analysis.PortfolioRisk)
	assert.Equal(t, 1500*time.Millisecond, analysis.AnalysisDuration)
}

func TestAgentFailureRates(t *testing.T) {
	st, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"agent", "rate"}).
		AddRow("risk", 0.25).
		AddRow("news", 0.0)

	mock.ExpectQuery("FROM agent_runs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(rows)

	rates, err := st.AgentFailureRates(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rates["risk"], 1e-9)
	assert.InDelta(t, 0.0, rates["news"], 1e-9)
}

func TestInsertEvent(t *testing.T) {
	st, mock := newMockStore(t)

	event := &models.Event{
		ID:              uuid.New(),
		RunID:           uuid.New(),
		EventType:       models.EventTypeCorrelatedMove,
		Severity:        models.SeverityCritical,
		Message:         "correlated move",
		CorrelationData: map[string]float64{"TSLA": 0.06, "NVDA": 0.05},
		CreatedAt:       time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.InsertEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx pgx.Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
