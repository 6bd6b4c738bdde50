package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"

	"github.com/shubhamtaywade82/riskcore/internal/api"
	"github.com/shubhamtaywade82/riskcore/internal/broker"
	"github.com/shubhamtaywade82/riskcore/internal/cache"
	"github.com/shubhamtaywade82/riskcore/internal/config"
	"github.com/shubhamtaywade82/riskcore/internal/edge"
	"github.com/shubhamtaywade82/riskcore/internal/exit"
	"github.com/shubhamtaywade82/riskcore/internal/feed"
	"github.com/shubhamtaywade82/riskcore/internal/limits"
	"github.com/shubhamtaywade82/riskcore/internal/models"
	"github.com/shubhamtaywade82/riskcore/internal/position"
	"github.com/shubhamtaywade82/riskcore/internal/reconcile"
	"github.com/shubhamtaywade82/riskcore/internal/repository"
	"github.com/shubhamtaywade82/riskcore/internal/risk"
	"github.com/shubhamtaywade82/riskcore/internal/riskmanager"
	"github.com/shubhamtaywade82/riskcore/internal/supervisor"
	"github.com/shubhamtaywade82/riskcore/internal/trailing"
	"github.com/shubhamtaywade82/riskcore/pkg/utils"
)

func main() {
	// .env не обязателен - отсутствие файла не является ошибкой запуска.
	_ = godotenv.Load()

	cfg, err := config.Load(getRegimesPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
	})

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Error("failed to connect to database", utils.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to tracker database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	warmStore := cache.NewRedisStore(redisClient)

	trackerRepo := repository.NewTrackerRepository(db)
	lockStore := repository.NewSQLTrackerStore(db, trackerRepo)

	hot := cache.NewTickCache()
	warm := cache.NewWarmCache(warmStore)
	active := position.NewActiveCache(nil)
	dailyLimits := limits.NewDailyLimits(warmStore)
	edgeDetector := edge.NewDetector(warmStore)

	ltpLookup := func(segment models.Segment, securityID string) (decimal.Decimal, bool) {
		tick, ok := hot.Get(models.InstrumentKey{Segment: segment, SecurityID: securityID})
		if !ok {
			return decimal.Zero, false
		}
		return tick.LTP, true
	}

	paperBroker := broker.NewPaperBroker(ltpLookup, decimal.NewFromInt(100000))
	var gateway broker.Gateway = paperBroker

	transport := feed.NewWSTransport(cfg.Feed.WSURL, nil, feed.DefaultWSTransportConfig())
	feedHub := feed.NewMarketFeedHub(transport, hot, warm, logger)

	ruleEngine := risk.NewEngineDefault(logger)
	exitEngine := exit.NewEngine(lockStore, gateway, dailyLimits, ltpLookup, logger)
	trailingEngine := trailing.NewEngine(paperBroker, trailing.ModeDirect, nil, logger)

	riskManager := riskmanager.NewManager(
		trackerRepo,
		active,
		warm,
		feedHub,
		gateway,
		ruleEngine,
		exitEngine,
		trailingEngine,
		edgeDetector,
		nil, // UnderlyingMonitor подключается снаружи, если включены underlying-aware выходы
		logger,
		riskmanager.Config{
			Risk:         cfg.Risk,
			Regimes:      cfg.Regimes,
			FeatureFlags: cfg.FeatureFlags,
			PaperTrading: cfg.PaperTrading,
		},
	)

	sweeper := reconcile.NewSweeper(trackerRepo, active, warm, feedHub, logger)
	rollover := limits.NewRollover(warmStore, logger)

	router := api.SetupRoutes(&api.Dependencies{
		Feed:        feedHub,
		Active:      active,
		DailyLimits: dailyLimits,
		Sweeper:     sweeper,
		Config:      cfg,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	super := supervisor.New(supervisor.Dependencies{
		Feed:        feedHub,
		RiskManager: riskManager,
		Sweeper:     sweeper,
		Rollover:    rollover,
		HTTPServer:  httpServer,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := super.Start(ctx); err != nil {
		logger.Error("supervisor failed to start", utils.Err(err))
		os.Exit(1)
	}
	logger.Info("riskcore started", utils.String("addr", httpServer.Addr))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := super.Stop(30 * time.Second); err != nil {
		logger.Error("supervisor shutdown error", utils.Err(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func getRegimesPath() string {
	if path := os.Getenv("REGIMES_CONFIG_PATH"); path != "" {
		return path
	}
	return "config/time_regimes.yaml"
}
