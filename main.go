package main

import (
	"context"
	"errors"
	"flag"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zetatrade/config"
	"zetatrade/internal/adapters/binanceclient"
	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/adapters/paper"
	"zetatrade/internal/adapters/sqlite"
	"zetatrade/internal/app"
	"zetatrade/internal/domain"
	"zetatrade/internal/metrics"
	"zetatrade/internal/ports"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/strategies"
)

var drain = flag.Bool("drain", false, "on the first SIGINT/SIGTERM keep managing open trades until all are closed")

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	if s, ok := appLogger.(interface{ Sync() error }); ok {
		defer s.Sync()
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter), wrapped by the paper
	// exchange in dry run so only public endpoints are used.
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	var exchange ports.Exchange = binanceClient
	if cfg.DryRun {
		exchange, err = paper.New(paper.Config{
			StakeCurrency:   cfg.StakeCurrency,
			Wallet:          cfg.DryRunWallet,
			FillLimitOrders: true,
			Logger:          appLogger,
		}, binanceClient)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper exchange")
			log.Fatalf("FATAL: Failed to initialize paper exchange: %v", err)
		}
		appLogger.Info(ctx, "Dry run: orders are simulated", map[string]interface{}{"wallet": cfg.DryRunWallet, "currency": cfg.StakeCurrency})
	}

	// 5. Initialize Strategy and optional edge sizing
	strat, err := strategies.New(cfg.Strategies(), appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	var edge *risk.Edge
	if cfg.Edge.Enabled {
		candles, err := app.NewMarketCandles(binanceClient, cfg.Interval, nil)
		if err == nil {
			edge, err = risk.NewEdge(cfg.EdgeConfig(), strat, candles.WithLogger(appLogger), appLogger, nil)
		}
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize edge")
			log.Fatalf("FATAL: Failed to initialize edge: %v", err)
		}
	}

	m := metrics.New()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server failed")
			}
		}()
		appLogger.Info(ctx, "Serving metrics", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 6. Initialize the bot and restore open trades
	bot, err := app.NewBot(app.Deps{
		Config:   cfg,
		Logger:   appLogger,
		Exchange: exchange,
		Repo:     repo,
		Strategy: strat,
		Metrics:  m,
		Edge:     edge,
		Markets:  binanceClient,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize bot")
		log.Fatalf("FATAL: Failed to initialize bot: %v", err)
	}
	if err := bot.Restore(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to restore open trades")
		log.Fatalf("FATAL: Failed to restore open trades: %v", err)
	}

	// 7. Run until stopped
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return bot.Run(gctx)
	})
	if cfg.StreamCandles {
		for _, pair := range cfg.TradablePairs() {
			pair := pair
			g.Go(func() error {
				err := binanceClient.StreamKlines(gctx, pair, cfg.Interval, func(*domain.Kline) { bot.Wake() })
				if gctx.Err() != nil {
					return nil
				}
				return err
			})
		}
	}
	go handleSignals(gctx, cancel, bot, appLogger)

	err = g.Wait()
	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		done()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(ctx, err, "Bot exited with error")
		log.Fatalf("FATAL: Bot exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

// handleSignals reloads the configuration on SIGHUP. The first SIGINT or
// SIGTERM stops the bot gracefully; a second one stops it immediately.
func handleSignals(ctx context.Context, cancel context.CancelFunc, bot *app.Bot, appLogger ports.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				cfg, err := config.LoadConfig()
				if err == nil {
					err = bot.Reload(cfg)
				}
				if err != nil {
					appLogger.Error(ctx, err, "Reload failed, keeping current configuration")
				}
				continue
			}
			if !stopping {
				stopping = true
				appLogger.Info(ctx, "Stopping", map[string]interface{}{"signal": sig.String(), "drain": *drain})
				if err := bot.Stop(ctx, true, *drain); err != nil {
					appLogger.Error(ctx, err, "Graceful stop failed")
				}
				bot.Wake()
				continue
			}
			appLogger.Warn(ctx, "Second signal, stopping immediately", map[string]interface{}{"signal": sig.String()})
			if err := bot.Stop(context.Background(), false, false); err != nil {
				appLogger.Error(ctx, err, "Immediate stop failed to persist trades")
			}
			cancel()
			return
		}
	}
}
