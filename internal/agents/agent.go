// Package agents provides the analysis agents that turn upstream market and
// news signals into per-ticker results for the supervisor.
package agents

import (
	"context"

	"github.com/quantfold/stockpulse/internal/models"
)

// Agent is one independent analysis perspective on a single ticker. Analyze
// is side-effect free: it reads upstream sources and returns a result, and
// persistence belongs to the caller.
type Agent interface {
	Name() string
	Analyze(ctx context.Context, ticker string) (*models.AgentResult, error)
}

// Agent names used in persisted records and metric labels.
const (
	RiskAgentName = "risk"
	NewsAgentName = "news"
)
