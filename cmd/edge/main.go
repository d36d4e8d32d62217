package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"zetatrade/config"
	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/strategies"
	"zetatrade/internal/utils"
)

func main() {
	dataDir := flag.String("data", "data", "directory holding <PAIR>-<interval>.csv candle files")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data, err := utils.LoadKlines(*dataDir, cfg.TradablePairs(), cfg.Interval)
	if err != nil {
		log.Fatalf("Failed to load candles: %v", err)
	}
	strat, err := strategies.New(cfg.Strategies(), appLogger)
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	// The window ends at the last stored candle rather than the wall clock.
	candles := utils.MemoryCandles(data)
	edge, err := risk.NewEdge(cfg.EdgeConfig(), strat, candles, appLogger, candles.End)
	if err != nil {
		log.Fatalf("Failed to create edge: %v", err)
	}
	if _, err := edge.Calculate(ctx, cfg.TradablePairs()); err != nil {
		log.Fatalf("Edge calculation failed: %v", err)
	}

	infos := edge.All()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Pair\tStoploss\tWinRate\tRiskReward\tRequiredRR\tExpectancy\tTrades\tAvgDuration\t")
	for _, p := range infos {
		fmt.Fprintf(w, "%s\t%.3f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t%s\t\n",
			p.Pair, p.StopLoss, p.WinRate, p.RiskRewardRatio, p.RequiredRiskReward,
			p.Expectancy, p.NbTrades, p.AvgTradeDuration.Round(time.Minute))
	}
	w.Flush()
	if len(infos) == 0 {
		fmt.Println("No pair passed the edge filters.")
		return
	}
	fmt.Printf("\nWhitelist after edge: %v\n", edge.AdjustWhitelist(cfg.TradablePairs()))
}
