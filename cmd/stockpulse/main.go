package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/stockpulse/internal/agents"
	"github.com/quantfold/stockpulse/internal/bus"
	"github.com/quantfold/stockpulse/internal/config"
	"github.com/quantfold/stockpulse/internal/curator"
	"github.com/quantfold/stockpulse/internal/market"
	"github.com/quantfold/stockpulse/internal/metrics"
	"github.com/quantfold/stockpulse/internal/models"
	"github.com/quantfold/stockpulse/internal/news"
	"github.com/quantfold/stockpulse/internal/oracle"
	"github.com/quantfold/stockpulse/internal/profile"
	"github.com/quantfold/stockpulse/internal/sentinel"
	"github.com/quantfold/stockpulse/internal/store"
	"github.com/quantfold/stockpulse/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	tickersFlag := flag.String("tickers", "", "Comma-separated portfolio tickers to analyze")
	interval := flag.Duration("interval", 0, "Run the portfolio analysis on this interval (0 = run once and exit)")
	migrate := flag.Bool("migrate", false, "Apply pending database migrations before starting")
	migrationsDir := flag.String("migrations-dir", "migrations", "Directory containing migration files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	tickers := splitTickers(*tickersFlag)
	if len(tickers) == 0 {
		log.Fatal().Msg("No tickers given, use --tickers=AAPL,MSFT,...")
	}

	log.Info().
		Str("name", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Strs("tickers", tickers).
		Msg("Starting StockPulse analysis core")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		migrator, err := store.NewMigrator(cfg.Database.URL(), *migrationsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create migrator")
		}
		if err := migrator.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		migrator.Close()
	}

	st, err := store.New(ctx, cfg.Database.URL(), cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	var cache *market.SeriesCache
	if cfg.Redis.CacheTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running without price-series cache")
		} else {
			cache = market.NewSeriesCache(rdb, time.Duration(cfg.Redis.CacheTTL)*time.Second)
		}
	}

	marketClient, err := market.NewClient(market.ClientConfig{
		BaseURL:           cfg.MarketData.BaseURL,
		APIKey:            cfg.MarketData.APIKey,
		Timeout:           time.Duration(cfg.MarketData.Timeout) * time.Millisecond,
		RequestsPerMinute: cfg.MarketData.RequestsPerMinute,
	}, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create market-data client")
	}

	newsClient, err := news.NewClient(news.ClientConfig{
		BaseURL:           cfg.News.BaseURL,
		APIKey:            cfg.News.APIKey,
		Timeout:           time.Duration(cfg.News.Timeout) * time.Millisecond,
		RequestsPerMinute: cfg.News.RequestsPerMinute,
		MaxArticles:       cfg.News.MaxArticles,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create news client")
	}

	oracleClient := oracle.NewClient(oracle.ClientConfig{
		Endpoint:      cfg.Oracle.Endpoint,
		APIKey:        cfg.Oracle.APIKey,
		PrimaryModel:  cfg.Oracle.PrimaryModel,
		FallbackModel: cfg.Oracle.FallbackModel,
		Temperature:   cfg.Oracle.Temperature,
		MaxTokens:     cfg.Oracle.MaxTokens,
		Timeout:       time.Duration(cfg.Oracle.Timeout) * time.Millisecond,
	})

	riskAgent := agents.NewRiskAgent(marketClient, oracleClient, agents.RiskAgentConfig{
		LookbackDays:     cfg.MarketData.LookbackDays,
		VolatilityHigh:   cfg.Analysis.VolatilityHigh,
		VolatilityMedium: cfg.Analysis.VolatilityMedium,
	})
	newsAgent := agents.NewNewsAgent(newsClient, oracleClient,
		time.Duration(cfg.News.WindowHours)*time.Hour)

	snt := sentinel.New(cfg.Analysis.VolatilityHigh, cfg.Analysis.CorrelationThreshold)

	var publisher supervisor.EventPublisher
	natsPublisher, err := bus.NewPublisher(bus.PublisherConfig{
		NATSURL: cfg.NATS.URL,
		Prefix:  cfg.NATS.Subject + ".",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Event bus unavailable, events will only be persisted")
	} else {
		publisher = natsPublisher
		defer natsPublisher.Close()
	}

	sup := supervisor.New([]agents.Agent{riskAgent, newsAgent}, st, snt, publisher, supervisor.Config{
		AgentTimeout:      cfg.Analysis.AgentTimeout,
		DegradationFactor: cfg.Analysis.DegradationFactor,
		HighRiskRatio:     cfg.Analysis.HighRiskRatio,
		DegradedFraction:  cfg.Analysis.DegradedFraction,
	})

	engine := profile.NewEngine(st, cfg.Analysis.AggregationMaxRetries)
	consumer, err := bus.NewSnapshotConsumer(bus.ConsumerConfig{NATSURL: cfg.NATS.URL})
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot consumer unavailable, reaction profiles will not update")
	} else {
		err := consumer.Start(ctx, func(ctx context.Context, snapshot *models.NewsSnapshot) error {
			_, err := engine.OnSnapshotIngested(ctx, snapshot)
			return err
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to start snapshot consumer")
		}
		defer consumer.Close()
	}

	cur := curator.New(st, cfg.Analysis.QualityFloor, cfg.Analysis.StaleAfter,
		cfg.Analysis.FailureRateCeiling)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort)
		metricsServer.Start()
	}

	runOnce := func() {
		analysis, err := sup.AnalyzePortfolio(ctx, tickers)
		if err != nil {
			log.Error().Err(err).Msg("Portfolio analysis failed")
			return
		}
		log.Info().
			Str("run_id", analysis.RunID.String()).
			Str("portfolio_risk", string(analysis.PortfolioRisk)).
			Int("analyzed_stocks", analysis.AnalyzedStocks).
			Int("high_impact_count", analysis.HighImpactCount).
			Bool("degraded", analysis.Degraded).
			Dur("duration", analysis.AnalysisDuration).
			Msg("Portfolio analysis complete")

		report, err := cur.CurateKnowledgeQuality(ctx, cfg.Analysis.StaleAfter, len(tickers))
		if err != nil {
			log.Warn().Err(err).Msg("Knowledge quality report failed")
			return
		}
		log.Info().Float64("overall_quality", report.Overall).Msg("Knowledge quality assessed")

		gaps, err := cur.IdentifyKnowledgeGaps(ctx, cfg.Analysis.StaleAfter, tickers)
		if err != nil {
			log.Warn().Err(err).Msg("Knowledge gap scan failed")
			return
		}
		for _, gap := range gaps {
			log.Warn().
				Str("severity", string(gap.Severity)).
				Str("ticker", gap.Ticker).
				Str("agent", gap.Agent).
				Str("reason", gap.Reason).
				Msg("Knowledge gap")
		}
	}

	runOnce()
	if *interval > 0 {
		tick := time.NewTicker(*interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Shutdown signal received")
				shutdown(metricsServer)
				return
			case <-tick.C:
				runOnce()
			}
		}
	}

	shutdown(metricsServer)
}

func shutdown(metricsServer *metrics.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	log.Info().Msg("Shutdown complete")
}

func splitTickers(flagValue string) []string {
	var tickers []string
	for _, t := range strings.Split(flagValue, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
}
