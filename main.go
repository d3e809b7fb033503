package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/analytics"
	"genx-core/internal/api"
	"genx-core/internal/bridge"
	"genx-core/internal/engine"
	"genx-core/internal/events"
	"genx-core/internal/market"
	"genx-core/internal/monitor"
	"genx-core/internal/predictor"
	"genx-core/internal/reconciliation"
	"genx-core/internal/risk"
	"genx-core/internal/validator"
	"genx-core/pkg/cache"
	"genx-core/pkg/config"
	"genx-core/pkg/db"
	"genx-core/pkg/identity"
	"genx-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	hostID, err := identity.HostID()
	if err != nil {
		log.Warn("host id unavailable", zap.Error(err))
		hostID = "unknown"
	}

	log.Info("starting trading core",
		zap.String("version", version),
		zap.String("host_id", hostID),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("simulation", cfg.SimulationMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("database migrations failed", zap.Error(err))
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	quotes := cache.NewQuoteCache()
	history := analytics.NewHistory(cfg.ReturnWindow)

	sizer, err := risk.NewSizer(risk.Config{
		AccountBalance:   cfg.AccountBalance,
		Level:            risk.ParseRiskLevel(cfg.RiskLevel),
		MaxRiskPerTrade:  cfg.MaxRiskPerTrade,
		MaxPortfolioRisk: cfg.MaxPortfolioRisk,
		MinLot:           cfg.MinLotSize,
	}, log)
	if err != nil {
		log.Fatal("risk config invalid", zap.Error(err))
	}

	timeframes, err := validator.LoadTimeframes(cfg.TimeframesPath)
	if err != nil {
		log.Warn("timeframe config not loaded, using defaults",
			zap.String("path", cfg.TimeframesPath), zap.Error(err))
		timeframes = validator.DefaultTimeframes()
	}
	valid, err := validator.New(validator.Config{
		Timeframes: timeframes,
		Synthetic:  cfg.SimulationMode,
	}, log)
	if err != nil {
		log.Fatal("validator config invalid", zap.Error(err))
	}

	bridgeSrv := bridge.NewServer(bridge.Config{
		Addr:             cfg.BridgeAddr,
		ReadTimeout:      cfg.ReadTimeout,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		QueueSize:        cfg.QueueSize,
		MaxFrame:         cfg.MaxFrameBytes,
	}, bus, metrics, log)

	pipe, err := engine.New(engine.Config{
		Validator:     valid,
		Sizer:         sizer,
		Bridge:        bridgeSrv,
		DB:            database,
		History:       history,
		Quotes:        quotes,
		Bus:           bus,
		Metrics:       metrics,
		Log:           log,
		MagicNumber:   cfg.MagicNumber,
		SignalComment: cfg.SignalComment,
		MinConfidence: cfg.MinConfidence,
		MinConsensus:  cfg.MinConsensus,
	})
	if err != nil {
		log.Fatal("pipeline init failed", zap.Error(err))
	}

	// Execution feedback flows from the bridge into the pipeline. Register
	// before Start so no early frame is missed.
	bridgeSrv.OnTradeResult(pipe.HandleTradeResult)
	bridgeSrv.OnAccountStatus(pipe.HandleAccountStatus)

	if err := bridgeSrv.Start(ctx); err != nil {
		log.Fatal("bridge listen failed", zap.String("addr", cfg.BridgeAddr), zap.Error(err))
	}
	defer bridgeSrv.Stop()

	// Signals persisted but never delivered land back on the outbound
	// queue and flush once an agent connects.
	if _, err := pipe.RecoverPending(ctx); err != nil {
		log.Error("pending signal recovery failed", zap.Error(err))
	}

	recon := reconciliation.NewService(sizer, bus, cfg.ReconcileInterval, log)
	recon.Start(ctx)
	defer recon.Stop()

	monitor.New(bus, monitor.LogSink{Log: log}, log).Start(ctx)

	go quoteJanitor(ctx, quotes, log)

	switch {
	case cfg.EnablePredictor:
		client, err := predictor.NewClient(cfg.PredictorAddr)
		if err != nil {
			log.Error("predictor client init failed", zap.Error(err))
		} else {
			defer client.Close()
			go runPredictorLoop(ctx, client, pipe, cfg.Symbols, cfg.PredictorInterval, log)
			log.Info("predictor loop enabled",
				zap.String("addr", cfg.PredictorAddr),
				zap.Duration("interval", cfg.PredictorInterval))
		}
	case cfg.SimulationMode:
		go runSimulationFeed(ctx, pipe, valid, cfg.Symbols, cfg.PredictorInterval, log)
		log.Info("simulation feed enabled", zap.Duration("interval", cfg.PredictorInterval))
	}

	apiServer := api.NewServer(api.Config{
		Bus:       bus,
		DB:        database,
		Bridge:    bridgeSrv,
		Pipeline:  pipe,
		Sizer:     sizer,
		Validator: valid,
		History:   history,
		Quotes:    quotes,
		Recon:     recon,
		Metrics:   metrics,
		Log:       log,
		JWTSecret: cfg.JWTSecret,
		Creds:     api.Credentials{User: cfg.AdminUser, Password: cfg.AdminPassword},
		Meta: api.SystemMeta{
			Version:    version,
			HostID:     hostID,
			Symbols:    cfg.Symbols,
			BridgeAddr: cfg.BridgeAddr,
			Simulation: cfg.SimulationMode,
		},
		SortinoTarget:  cfg.SortinoTarget,
		PeriodsPerYear: cfg.PeriodsPerYear,
	})
	go func() {
		if err := apiServer.Start(":" + cfg.AdminPort); err != nil {
			log.Fatal("admin api failed", zap.Error(err))
		}
	}()
	log.Info("admin api listening", zap.String("port", cfg.AdminPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	cancel()
}

// quoteJanitor drops quotes that have not updated for an hour so the
// portfolio endpoint never marks positions against dead prices.
func quoteJanitor(ctx context.Context, quotes *cache.QuoteCache, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := quotes.Cleanup(time.Hour); n > 0 {
				log.Debug("stale quotes dropped", zap.Int("count", n))
			}
		}
	}
}

// runPredictorLoop polls the external scorer for each configured symbol and
// feeds the results through the pipeline.
func runPredictorLoop(ctx context.Context, client *predictor.Client, pipe *engine.Pipeline, symbols []string, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range symbols {
				base, data, err := client.Score(ctx, sym)
				if err != nil {
					log.Warn("predictor score failed", zap.String("symbol", sym), zap.Error(err))
					continue
				}
				decision, err := pipe.ProcessSignal(ctx, engine.Request{
					Symbol: sym,
					Base:   base,
					Market: data,
				})
				if err != nil {
					log.Error("signal processing failed", zap.String("symbol", sym), zap.Error(err))
					continue
				}
				log.Info("predictor signal processed",
					zap.String("symbol", sym),
					zap.String("outcome", string(decision.Outcome)),
					zap.String("reason", decision.Reason))
			}
		}
	}
}

// runSimulationFeed drives the pipeline with synthetic candles and random
// base signals so the whole flow can be exercised without a predictor or a
// live feed.
func runSimulationFeed(ctx context.Context, pipe *engine.Pipeline, valid *validator.Validator, symbols []string, interval time.Duration, log *zap.Logger) {
	if len(symbols) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sym := symbols[rng.Intn(len(symbols))]
			data := make(map[string][]market.Candle)
			for _, tf := range valid.Timeframes() {
				data[tf.Label] = market.SyntheticSeries(sym, 60, 100, 0.4, time.Minute, 0)
			}
			base := validator.BaseSignal{
				Score:      rng.Float64()*2 - 1,
				Confidence: 0.5 + rng.Float64()*0.5,
			}
			decision, err := pipe.ProcessSignal(ctx, engine.Request{
				Symbol: sym,
				Base:   base,
				Market: data,
			})
			if err != nil {
				log.Error("signal processing failed", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			log.Info("simulated signal processed",
				zap.String("symbol", sym),
				zap.String("outcome", string(decision.Outcome)),
				zap.String("reason", decision.Reason))
		}
	}
}
