package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"zetatrade/config"
	"zetatrade/internal/adapters/binanceclient"
	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/utils"
)

func main() {
	pairsFlag := flag.String("pairs", "", "comma separated pairs (default: configured whitelist)")
	interval := flag.String("interval", "", "candle interval (default: configured ticker interval)")
	days := flag.Int("days", 30, "number of days of history to download")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *interval == "" {
		*interval = cfg.Interval
	}
	pairs := cfg.TradablePairs()
	if *pairsFlag != "" {
		pairs = strings.Split(*pairsFlag, ",")
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	// 3. Initialize Exchange Client (Binance Adapter); candles are public.
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	failed := 0
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		fmt.Printf("Fetching %s %s from %s to %s...\n", pair, *interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
		klines, err := client.FetchKlinesRange(ctx, pair, *interval, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching klines", map[string]interface{}{"pair": pair})
			failed++
			continue
		}
		filename := utils.KlineFileName(*outDir, pair, *interval)
		if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
			appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"pair": pair})
			failed++
			continue
		}
		appLogger.Info(ctx, "Saved klines", map[string]interface{}{"pair": pair, "count": len(klines), "filename": filename})
	}
	if failed > 0 {
		log.Fatalf("%d of %d pairs failed", failed, len(pairs))
	}
}
