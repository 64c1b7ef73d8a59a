package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/stockpulse/internal/models"
)

func TestNormalizeFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"invalid input", models.InvalidInputf("bad ticker"), "invalid_input"},
		{"upstream timeout", models.UpstreamTimeoutf("news"), "upstream_timeout"},
		{"upstream error", models.UpstreamErrorf("oracle", errors.New("boom")), "upstream_error"},
		{"aggregation conflict", models.ErrAggregationConflict, "aggregation_conflict"},
		{"synthesis failed", models.ErrSynthesisFailed, "synthesis_failed"},
		{"canceled", context.Canceled, "canceled"},
		{"unknown", errors.New("something else"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFailureReason(tt.err))
		})
	}
}
