package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"zetatrade/config"
	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy/analytics"
	"zetatrade/internal/strategy/backtesting"
	"zetatrade/internal/strategy/strategies"
	"zetatrade/internal/utils"
)

func main() {
	dataDir := flag.String("data", "data", "directory holding <PAIR>-<interval>.csv candle files")
	outDir := flag.String("out", "data/backtests", "directory for the JSON report and trades CSV")
	name := flag.String("name", "", "report name (default: strategy and timestamp)")
	useEdge := flag.Bool("edge", false, "size stakes and stoplosses with edge computed over the data")
	slippage := flag.Float64("slippage-bps", 0, "fill price penalty in basis points, 0 fills at the next open")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 3. Load candles for the whitelist
	data, err := utils.LoadKlines(*dataDir, cfg.TradablePairs(), cfg.Interval)
	if err != nil {
		log.Fatalf("Failed to load candles: %v", err)
	}

	// 4. Initialize Strategy
	strat, err := strategies.New(cfg.Strategies(), appLogger)
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	var opts []backtesting.Option
	if *slippage > 0 {
		opts = append(opts, backtesting.WithFillModel(backtesting.OrderBookDepth{BasisPoints: *slippage}))
	}
	if *useEdge {
		candles := utils.MemoryCandles(data)
		edge, err := risk.NewEdge(cfg.EdgeConfig(), strat, candles, appLogger, candles.End)
		if err != nil {
			log.Fatalf("Failed to create edge: %v", err)
		}
		if _, err := edge.Calculate(ctx, cfg.TradablePairs()); err != nil {
			log.Fatalf("Edge calculation failed: %v", err)
		}
		appLogger.Info(ctx, "Edge calculated", map[string]interface{}{"accepted": len(edge.All()), "pairs": len(cfg.TradablePairs())})
		opts = append(opts, backtesting.WithEdge(edge))
	}

	// 5. Run the simulation
	sim, err := backtesting.New(cfg.Backtest(), strat, appLogger, opts...)
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}
	result, err := sim.Run(ctx, data)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}
	printSummary(result)

	// 6. Persist report and trades
	if *name == "" {
		*name = fmt.Sprintf("%s_%s", strat.Name(), time.Now().UTC().Format("20060102T150405"))
	}
	report := analytics.NewReport(strat.Name(), result.StartTime, result.EndTime, cfg.DryRunWallet, result.Metrics)
	reportFile := filepath.Join(*outDir, *name+".json")
	if err := analytics.WriteReport(reportFile, report); err != nil {
		appLogger.Error(ctx, err, "Error writing report")
	}
	tradesFile := filepath.Join(*outDir, *name+"_trades.csv")
	if err := utils.WriteTradesToCSV(result.Trades, tradesFile); err != nil {
		appLogger.Error(ctx, err, "Error writing trades CSV")
	}
	appLogger.Info(ctx, "Backtest saved", map[string]interface{}{"report": reportFile, "trades": tradesFile})
}

func printSummary(result *backtesting.Result) {
	m := result.Metrics
	fmt.Printf("\nBacktest %s -> %s\n", result.StartTime.Format(time.RFC3339), result.EndTime.Format(time.RFC3339))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Pair\tTrades\tWins\tAvgProfit%\tProfit\tAvgDuration\t")
	for _, pair := range m.Pairs() {
		g := m.ByPair[pair]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.8f\t%s\t\n",
			pair, g.Trades, g.Wins, g.ProfitRatioMean()*100, g.ProfitAbs, g.AverageDuration.Round(time.Minute))
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t\t%.8f\t%s\t\n",
		m.TotalTrades, m.WinningTrades, m.TotalProfit, m.AverageTradeDuration.Round(time.Minute))
	w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "SellReason\tTrades\tWins\tProfit\t")
	for reason, g := range m.ByReason {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.8f\t\n", reason, g.Trades, g.Wins, g.ProfitAbs)
	}
	w.Flush()

	fmt.Printf("\nWin rate %.2f%%  ROI %.2f%%  Max drawdown %.2f%%  Profit factor %.2f  Max open trades %d  Rejected entries %d\n",
		m.WinRate*100, m.ReturnOnInvestment*100, m.MaxDrawdown*100, m.ProfitFactor,
		result.MaxOpenTradesSeen, result.RejectedEntries)
}
