package config

import "fmt"

// Validate checks that the loaded configuration is internally consistent.
// Threshold mistakes here would silently skew every verdict, so the process
// refuses to start on any violation.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("app.environment must be development, staging, or production, got %q", c.App.Environment)
	}

	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}

	a := c.Analysis
	if a.VolatilityMedium <= 0 {
		return fmt.Errorf("analysis.volatility_medium must be positive, got %f", a.VolatilityMedium)
	}
	if a.VolatilityHigh <= a.VolatilityMedium {
		return fmt.Errorf("analysis.volatility_high (%f) must exceed volatility_medium (%f)",
			a.VolatilityHigh, a.VolatilityMedium)
	}
	if a.CorrelationThreshold <= 0 || a.CorrelationThreshold > 1 {
		return fmt.Errorf("analysis.correlation_threshold must be in (0, 1], got %f", a.CorrelationThreshold)
	}
	if a.AgentTimeout <= 0 {
		return fmt.Errorf("analysis.agent_timeout must be positive, got %s", a.AgentTimeout)
	}
	if a.DegradationFactor <= 0 || a.DegradationFactor >= 1 {
		return fmt.Errorf("analysis.degradation_factor must be in (0, 1), got %f", a.DegradationFactor)
	}
	if a.HighRiskRatio <= 0 || a.HighRiskRatio > 1 {
		return fmt.Errorf("analysis.high_risk_ratio must be in (0, 1], got %f", a.HighRiskRatio)
	}
	if a.DegradedFraction <= 0 || a.DegradedFraction > 1 {
		return fmt.Errorf("analysis.degraded_fraction must be in (0, 1], got %f", a.DegradedFraction)
	}
	if a.QualityFloor < 0 || a.QualityFloor > 1 {
		return fmt.Errorf("analysis.quality_floor must be in [0, 1], got %f", a.QualityFloor)
	}
	if a.StaleAfter <= 0 {
		return fmt.Errorf("analysis.stale_after must be positive, got %s", a.StaleAfter)
	}
	if a.FailureRateCeiling < 0 || a.FailureRateCeiling > 1 {
		return fmt.Errorf("analysis.failure_rate_ceiling must be in [0, 1], got %f", a.FailureRateCeiling)
	}
	if a.AggregationMaxRetries < 1 {
		return fmt.Errorf("analysis.aggregation_max_retries must be at least 1, got %d", a.AggregationMaxRetries)
	}

	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("market_data.timeout must be positive, got %d", c.MarketData.Timeout)
	}
	if c.MarketData.LookbackDays <= 1 {
		return fmt.Errorf("market_data.lookback_days must exceed 1, got %d", c.MarketData.LookbackDays)
	}
	if c.News.Timeout <= 0 {
		return fmt.Errorf("news.timeout must be positive, got %d", c.News.Timeout)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive, got %d", c.Oracle.Timeout)
	}

	return nil
}
