package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"zetatrade/config"
	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/strategy/analytics"
	"zetatrade/internal/strategy/optimization"
	"zetatrade/internal/strategy/strategies"
	"zetatrade/internal/utils"
)

func main() {
	dataDir := flag.String("data", "data", "directory holding <PAIR>-<interval>.csv candle files")
	outDir := flag.String("out", "data/backtests", "directory for the best combination's report")
	stoploss := flag.String("stoploss", "-0.15:-0.02:0.01", "stoploss range min:max:step")
	trailing := flag.String("trailing-positive", "", "trailing_stop_positive range min:max:step (empty: not optimized)")
	offset := flag.String("trailing-offset", "", "trailing_stop_positive_offset range min:max:step (empty: not optimized)")
	workers := flag.Int("workers", 0, "parallel simulations (default: GOMAXPROCS)")
	top := flag.Int("top", 10, "number of results to print")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var ranges []optimization.ParameterRange
	for _, p := range []struct{ name, spec string }{
		{optimization.ParamStopLoss, *stoploss},
		{optimization.ParamTrailingStopPositive, *trailing},
		{optimization.ParamTrailingStopPositiveOffset, *offset},
	} {
		if p.spec == "" {
			continue
		}
		r, err := optimization.ParseRange(p.name, p.spec)
		if err != nil {
			log.Fatalf("Invalid range: %v", err)
		}
		ranges = append(ranges, r)
	}

	data, err := utils.LoadKlines(*dataDir, cfg.TradablePairs(), cfg.Interval)
	if err != nil {
		log.Fatalf("Failed to load candles: %v", err)
	}
	strat, err := strategies.New(cfg.Strategies(), appLogger)
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		Base:            cfg.Backtest(),
		ParameterRanges: ranges,
		Workers:         *workers,
	}, appLogger)
	if err != nil {
		log.Fatalf("Failed to create optimizer: %v", err)
	}
	started := time.Now()
	results, err := optimizer.Optimize(ctx, strat, data)
	if err != nil {
		log.Fatalf("Optimization failed: %v", err)
	}
	fmt.Printf("%d combinations in %s\n\n", len(results), time.Since(started).Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Rank\tScore\tParameters\tTrades\tWinRate\tROI%\tMaxDD%\t")
	for i, r := range results {
		if i == *top {
			break
		}
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%d\t%.2f\t%.2f\t%.2f\t\n",
			i+1, r.Score, formatParams(r.Parameters), r.Metrics.TotalTrades,
			r.Metrics.WinRate*100, r.Metrics.ReturnOnInvestment*100, r.Metrics.MaxDrawdown*100)
	}
	w.Flush()

	if len(results) == 0 {
		return
	}
	best := results[0]
	report := analytics.NewReport(strat.Name(), time.Time{}, time.Time{}, cfg.DryRunWallet, best.Metrics)
	report.Parameters = best.Parameters
	if n := len(best.Metrics.EquityCurve); n > 0 {
		report.Start, report.End = best.Metrics.EquityCurve[0].Time, best.Metrics.EquityCurve[n-1].Time
	}
	file := filepath.Join(*outDir, fmt.Sprintf("%s_optimized_%s.json", strat.Name(), time.Now().UTC().Format("20060102T150405")))
	if err := analytics.WriteReport(file, report); err != nil {
		log.Fatalf("Error writing report: %v", err)
	}
	fmt.Printf("\nBest combination saved to %s\n", file)
}

func formatParams(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%g", name, params[name])
	}
	return out
}
