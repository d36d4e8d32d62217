package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zetatrade/internal/adapters/logger"
)

const sampleYAML = `
dry_run: true
stake_currency: BTC
stake_amount: unlimited
max_open_trades: 4
ticker_interval: 1m
minimal_roi:
  "40": 0.0
  "30": 0.01
  "20": 0.02
  "0": 0.04
stoploss: -0.05
trailing_stop: true
trailing_stop_positive: 0.01
unfilledtimeout:
  buy: 5
  sell: 15
bid_strategy:
  ask_last_balance: 0.5
  use_order_book: true
  order_book_top: 2
ask_strategy:
  use_order_book: true
  order_book_min: 1
exchange:
  pair_whitelist: [ETH/BTC, NEO/BTC]
strategy: ma_crossover
edge:
  enabled: true
  process_throttle_secs: 1800
  allowed_risk: 0.02
experimental:
  sell_profit_only: true
internals:
  process_throttle_secs: 2
`

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, 0.05, cfg.StakeAmount)
	assert.Equal(t, 3, cfg.MaxOpenTrades)
	assert.Equal(t, 10*time.Minute, cfg.UnfilledTimeoutBuy)
	assert.Equal(t, 5*time.Minute, cfg.IntervalDuration())

	bt := cfg.Backtest()
	assert.Equal(t, 5*time.Minute, bt.Interval)
	assert.Equal(t, 1000.0, bt.StartingBalance)
	assert.Equal(t, cfg.Whitelist, bt.Whitelist)
	assert.Equal(t, -0.10, bt.Exit.StopLoss)
	ratio, ok := cfg.MinimalROI.Lookup(25)
	require.True(t, ok)
	assert.Equal(t, 0.02, ratio)
}

func TestLoadConfig_YAMLOverlay(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeYAML(t, sampleYAML))
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.StakeUnlimited)
	assert.Equal(t, 4, cfg.MaxOpenTrades)
	assert.Equal(t, "1m", cfg.Interval)
	assert.Equal(t, -0.05, cfg.StopLoss)
	assert.True(t, cfg.TrailingStop)
	assert.Equal(t, 0.01, cfg.TrailingStopPositive)
	assert.Equal(t, 5*time.Minute, cfg.UnfilledTimeoutBuy)
	assert.Equal(t, 15*time.Minute, cfg.UnfilledTimeoutSell)
	assert.Equal(t, BidStrategy{AskLastBalance: 0.5, UseOrderBook: true, OrderBookTop: 2}, cfg.BidStrategy)
	assert.Equal(t, []string{"ETH/BTC", "NEO/BTC"}, cfg.Whitelist)
	assert.True(t, cfg.Edge.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Edge.ProcessThrottle)
	assert.Equal(t, 0.02, cfg.Edge.AllowedRisk)
	assert.Equal(t, 0.5, cfg.Edge.CapitalAvailablePercentage, "unset edge keys keep defaults")
	assert.True(t, cfg.SellProfitOnly)
	assert.True(t, cfg.UseSellSignal)
	assert.Equal(t, 2*time.Second, cfg.ProcessThrottle)

	ratio, ok := cfg.MinimalROI.Lookup(35)
	require.True(t, ok)
	assert.Equal(t, 0.01, ratio)

	exitCfg := cfg.ExitConfig()
	assert.Equal(t, cfg.StopLoss, exitCfg.StopLoss)
	assert.True(t, exitCfg.SellProfitOnly)
	assert.True(t, cfg.StakeConfig().Unlimited)
	assert.Equal(t, cfg.Fee, cfg.EdgeConfig().Fee)

	sc := cfg.Strategies()
	assert.Equal(t, "ma_crossover", sc.Name)
	assert.Equal(t, cfg.StrategyShortMAPeriod, sc.Crossover.FastMAPeriod)
	assert.Equal(t, cfg.StrategyLongMAPeriod, sc.Crossover.SlowMAPeriod)
	assert.Equal(t, 14, sc.Crossover.ATRPeriod, "ATR period defaults when unset")
	assert.Equal(t, 2.5, sc.Crossover.ATRMultiplier)
}

func TestLoadConfig_EnvWins(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeYAML(t, sampleYAML))
	t.Setenv("STAKE_AMOUNT", "0.01")
	t.Setenv("MAX_OPEN_TRADES", "-1")
	t.Setenv("PAIR_WHITELIST", "XRP/BTC, LTC/BTC")
	t.Setenv("MINIMAL_ROI", "0:0.1,60:0.0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.False(t, cfg.StakeUnlimited)
	assert.Equal(t, 0.01, cfg.StakeAmount)
	assert.Equal(t, -1, cfg.MaxOpenTrades)
	assert.Equal(t, []string{"XRP/BTC", "LTC/BTC"}, cfg.Whitelist)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	ratio, ok := cfg.MinimalROI.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, 0.1, ratio)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		message string
	}{
		{"live without keys", map[string]string{"DRY_RUN": "false"}, "BINANCE_API_KEY must be set"},
		{"positive stoploss", map[string]string{"STOP_LOSS": "0.1"}, "STOP_LOSS must be a negative ratio"},
		{"bad interval", map[string]string{"TICKER_INTERVAL": "7x"}, "invalid TICKER_INTERVAL"},
		{"bad stake", map[string]string{"STAKE_AMOUNT": "lots"}, "invalid stake amount"},
		{"unlimited without slots", map[string]string{"STAKE_AMOUNT": "unlimited", "MAX_OPEN_TRADES": "0"}, "unlimited stake requires"},
		{"bad pair", map[string]string{"PAIR_WHITELIST": "ETHBTC"}, "must be BASE/QUOTE"},
		{"unknown strategy", map[string]string{"STRATEGY": "martingale"}, "unknown STRATEGY"},
		{"crossover without multiplier", map[string]string{"STRATEGY": "ma_crossover", "STRATEGY_ATR_MULTIPLIER": "0"}, "STRATEGY_ATR_MULTIPLIER must be positive"},
		{"bad blacklisted pair", map[string]string{"PAIR_BLACKLIST": "BNBBTC"}, "must be BASE/QUOTE"},
		{"unknown pairlist", map[string]string{"PAIRLIST_METHOD": "NonexistingPairList"}, "unknown pairlist method"},
		{"volume without number_assets", map[string]string{"PAIRLIST_METHOD": "VolumePairList"}, "`number_assets` not specified"},
		{"startup candles above one request", map[string]string{"STARTUP_CANDLE_COUNT": "1000"}, "STARTUP_CANDLE_COUNT must be between"},
		{"edge defaults", map[string]string{"EDGE_ENABLED": "true"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			if tt.message == "" {
				// Default edge settings are valid.
				assert.NoError(t, err)
				assert.NotNil(t, cfg)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_Pairlist(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeYAML(t, `
stake_currency: BTC
exchange:
  pair_whitelist: []
  pair_blacklist: [BNB/BTC, BLK/BTC]
pairlist:
  method: VolumePairList
  config:
    number_assets: 20
    sort_key: bidVolume
  refresh_period_secs: 600
startup_candle_count: 400
`))
	cfg, err := LoadConfig()
	require.NoError(t, err)

	pl := cfg.PairlistConfig()
	assert.Equal(t, "VolumePairList", pl.Method)
	assert.Equal(t, 20, pl.NumberAssets)
	assert.Equal(t, "bidVolume", pl.SortKey)
	assert.Equal(t, 10*time.Minute, pl.RefreshPeriod)
	assert.Equal(t, "BTC", pl.StakeCurrency)
	assert.Equal(t, []string{"BNB/BTC", "BLK/BTC"}, pl.Blacklist)
	assert.Equal(t, 400, cfg.StartupCandleCount)

	t.Setenv("PAIR_BLACKLIST", "XRP/BTC")
	t.Setenv("PAIRLIST_NUMBER_ASSETS", "5")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"XRP/BTC"}, cfg.Blacklist)
	assert.Equal(t, 5, cfg.PairlistNumberAssets)
}

func TestConfig_BacktestSkipsBlacklistedPairs(t *testing.T) {
	cfg := Default()
	cfg.Blacklist = []string{"LTC/BTC"}
	assert.Equal(t, []string{"ETH/BTC", "XRP/BTC"}, cfg.Backtest().Whitelist)
	assert.Equal(t, []string{"ETH/BTC", "LTC/BTC", "XRP/BTC"}, cfg.Whitelist)
}

func TestConfig_StartupCandles(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 255, cfg.StartupCandles(51), "defaults to five times the required points")
	assert.Equal(t, 999, cfg.StartupCandles(300), "capped at one candle request")

	cfg.StartupCandleCount = 100
	assert.Equal(t, 100, cfg.StartupCandles(51))
	assert.Equal(t, 120, cfg.StartupCandles(120), "never below the required points")
}
