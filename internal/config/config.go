package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	News       NewsConfig       `mapstructure:"news"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// URL renders the database connection string
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig contains Redis settings for the price-series cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"` // subject prefix for published events
}

// OracleConfig contains reasoning oracle gateway settings
type OracleConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	APIKey        string  `mapstructure:"api_key"`
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Timeout       int     `mapstructure:"timeout"` // milliseconds
}

// MarketDataConfig contains market-data source settings
type MarketDataConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Timeout           int    `mapstructure:"timeout"` // milliseconds
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	LookbackDays      int    `mapstructure:"lookback_days"`
}

// NewsConfig contains news source settings
type NewsConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Timeout           int    `mapstructure:"timeout"` // milliseconds
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	WindowHours       int    `mapstructure:"window_hours"`
	MaxArticles       int    `mapstructure:"max_articles"`
}

// AnalysisConfig contains every numeric threshold of the synthesis core.
// Nothing in the supervisor, sentinel, curator, or aggregator hard-codes
// these.
type AnalysisConfig struct {
	// Volatility bands for impact classification
	VolatilityHigh   float64 `mapstructure:"volatility_high"`   // >= -> HIGH
	VolatilityMedium float64 `mapstructure:"volatility_medium"` // >= -> MEDIUM

	// Sentinel
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`

	// Supervisor
	AgentTimeout      time.Duration `mapstructure:"agent_timeout"`
	DegradationFactor float64       `mapstructure:"degradation_factor"` // confidence multiplier when one agent failed
	HighRiskRatio     float64       `mapstructure:"high_risk_ratio"`    // high_impact_count/portfolio_size -> HIGH
	DegradedFraction  float64       `mapstructure:"degraded_fraction"`  // failed-ticker fraction -> DEGRADED_SYNTHESIZED

	// Curator
	QualityFloor       float64       `mapstructure:"quality_floor"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	FailureRateCeiling float64       `mapstructure:"failure_rate_ceiling"`

	// Profile aggregator
	AggregationMaxRetries int `mapstructure:"aggregation_max_retries"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("STOCKPULSE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "StockPulse")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "stockpulse")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 60)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "stockpulse.events")

	// Oracle defaults
	v.SetDefault("oracle.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("oracle.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("oracle.fallback_model", "gpt-4-turbo")
	v.SetDefault("oracle.temperature", 0.3)
	v.SetDefault("oracle.max_tokens", 1000)
	v.SetDefault("oracle.timeout", 30000)

	// Market data defaults
	v.SetDefault("market_data.base_url", "https://api.marketdata.local")
	v.SetDefault("market_data.timeout", 10000)
	v.SetDefault("market_data.requests_per_minute", 120)
	v.SetDefault("market_data.lookback_days", 30)

	// News defaults
	v.SetDefault("news.base_url", "https://api.news.local")
	v.SetDefault("news.timeout", 10000)
	v.SetDefault("news.requests_per_minute", 60)
	v.SetDefault("news.window_hours", 24)
	v.SetDefault("news.max_articles", 20)

	// Analysis thresholds
	v.SetDefault("analysis.volatility_high", 0.05)
	v.SetDefault("analysis.volatility_medium", 0.02)
	v.SetDefault("analysis.correlation_threshold", 0.7)
	v.SetDefault("analysis.agent_timeout", "15s")
	v.SetDefault("analysis.degradation_factor", 0.7)
	v.SetDefault("analysis.high_risk_ratio", 0.3)
	v.SetDefault("analysis.degraded_fraction", 0.5)
	v.SetDefault("analysis.quality_floor", 0.6)
	v.SetDefault("analysis.stale_after", "24h")
	v.SetDefault("analysis.failure_rate_ceiling", 0.25)
	v.SetDefault("analysis.aggregation_max_retries", 5)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9090)
	v.SetDefault("monitoring.enable_metrics", true)
}
