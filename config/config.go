package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"zetatrade/internal/adapters/logger"
	"zetatrade/internal/domain"
	"zetatrade/internal/pairlist"
	"zetatrade/internal/retry"
	"zetatrade/internal/risk"
	"zetatrade/internal/strategy"
	"zetatrade/internal/strategy/backtesting"
	"zetatrade/internal/strategy/exit"
	"zetatrade/internal/strategy/strategies"
)

// maxStartupCandles is one candle request; the candle still forming takes a slot.
const maxStartupCandles = 1000

// BidStrategy controls how entry prices are chosen.
type BidStrategy struct {
	AskLastBalance     float64 `yaml:"ask_last_balance"`
	UseOrderBook       bool    `yaml:"use_order_book"`
	OrderBookTop       int     `yaml:"order_book_top"`
	CheckDepthOfMarket bool    `yaml:"check_depth_of_market"`
	BidsToAskDelta     float64 `yaml:"bids_to_ask_delta"`
}

// AskStrategy controls how exit prices are chosen.
type AskStrategy struct {
	UseOrderBook bool `yaml:"use_order_book"`
	OrderBookMin int  `yaml:"order_book_min"`
}

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Dry run trades against the paper exchange with DryRunWallet stake currency.
	DryRun       bool
	DryRunWallet float64

	// Trading Parameters
	StakeCurrency    string
	StakeAmount      float64
	StakeUnlimited   bool
	MaxOpenTrades    int // negative means unlimited
	PositionStacking bool
	Whitelist        []string
	Blacklist        []string
	Interval         string
	Fee              float64

	// Exit rules
	MinimalROI                  domain.ROITable
	StopLoss                    float64
	TrailingStop                bool
	TrailingStopPositive        float64
	TrailingStopPositiveOffset  float64
	TrailingOnlyOffsetIsReached bool
	UseSellSignal               bool
	SellProfitOnly              bool
	IgnoreROIIfBuySignal        bool

	UnfilledTimeoutBuy  time.Duration
	UnfilledTimeoutSell time.Duration
	BidStrategy         BidStrategy
	AskStrategy         AskStrategy
	ProcessThrottle     time.Duration

	// Pair list selection. The volume method ranks the stake currency's
	// markets by PairlistSortKey and keeps the top PairlistNumberAssets.
	PairlistMethod       string
	PairlistNumberAssets int
	PairlistSortKey      string
	PairlistRefresh      time.Duration

	Edge risk.EdgeConfig

	// StartupCandleCount is how many closed candles feed each live signal.
	// Zero picks a multiple of the strategy's required data points.
	StartupCandleCount int

	// Strategy Parameters
	StrategyName          string
	StrategyShortMAPeriod int
	StrategyLongMAPeriod  int
	StrategyEMAPeriod     int
	StrategyRSIPeriod     int
	StrategyRSIOverbought float64
	StrategyRSIOversold   float64
	StrategyATRPeriod     int
	StrategyMaxVolatility float64
	StrategyATRMultiplier float64
	StrategyBreakEven     float64

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string

	MetricsAddr string
	// StreamCandles wakes the loop on every closed candle from the venue's kline stream.
	StreamCandles bool

	// Venue call budget
	RetryMaxAttempts int
	CallTimeout      time.Duration
}

// Default returns the configuration used before the YAML file and environment are applied.
func Default() *Config {
	return &Config{
		IsTestnet:           true,
		DryRun:              true,
		DryRunWallet:        1000,
		StakeCurrency:       "BTC",
		StakeAmount:         0.05,
		MaxOpenTrades:       3,
		Whitelist:           []string{"ETH/BTC", "LTC/BTC", "XRP/BTC"},
		Interval:            "5m",
		Fee:                 0.001,
		MinimalROI:          domain.NewROITable(map[int]float64{0: 0.04, 20: 0.02, 30: 0.01, 40: 0}),
		StopLoss:            -0.10,
		UseSellSignal:       true,
		UnfilledTimeoutBuy:  10 * time.Minute,
		UnfilledTimeoutSell: 30 * time.Minute,
		BidStrategy:         BidStrategy{AskLastBalance: 0, OrderBookTop: 1, BidsToAskDelta: 1},
		AskStrategy:         AskStrategy{OrderBookMin: 1},
		ProcessThrottle:     5 * time.Second,
		PairlistMethod:      pairlist.MethodStatic,
		PairlistSortKey:     pairlist.SortQuoteVolume,
		PairlistRefresh:     30 * time.Minute,
		Edge: risk.EdgeConfig{
			ProcessThrottle:            time.Hour,
			CalculateSinceDays:         2,
			CapitalAvailablePercentage: 0.5,
			AllowedRisk:                0.01,
			StoplossRangeMin:           -0.01,
			StoplossRangeMax:           -0.10,
			StoplossRangeStep:          -0.01,
			MinimumWinrate:             0.60,
			MinimumExpectancy:          0.20,
			MinTradeNumber:             10,
			MaxTradeDurationMinute:     1440,
		},
		StrategyName:          strategies.NameTrend,
		StrategyShortMAPeriod: 20,
		StrategyLongMAPeriod:  50,
		StrategyEMAPeriod:     20,
		StrategyRSIPeriod:     14,
		StrategyRSIOverbought: 70.0,
		StrategyRSIOversold:   30.0,
		StrategyATRMultiplier: 2.5,
		DBPath:                "./data/zetatrade.db",
		LogLevel:              logger.LevelInfo,
		LogFormat:             "text",
		RetryMaxAttempts:      3,
		CallTimeout:           10 * time.Second,
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and environment variables (.env file), in increasing priority.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	errs := cfg.applyEnv()
	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// fileConfig mirrors the YAML layout; nil fields keep the current value.
type fileConfig struct {
	DryRun           *bool              `yaml:"dry_run"`
	DryRunWallet     *float64           `yaml:"dry_run_wallet"`
	StakeCurrency    *string            `yaml:"stake_currency"`
	StakeAmount      *string            `yaml:"stake_amount"`
	MaxOpenTrades    *int               `yaml:"max_open_trades"`
	PositionStacking *bool              `yaml:"position_stacking"`
	TickerInterval   *string            `yaml:"ticker_interval"`
	Fee              *float64           `yaml:"fee"`
	MinimalROI       map[string]float64 `yaml:"minimal_roi"`
	StopLoss         *float64           `yaml:"stoploss"`

	TrailingStop                *bool    `yaml:"trailing_stop"`
	TrailingStopPositive        *float64 `yaml:"trailing_stop_positive"`
	TrailingStopPositiveOffset  *float64 `yaml:"trailing_stop_positive_offset"`
	TrailingOnlyOffsetIsReached *bool    `yaml:"trailing_only_offset_is_reached"`

	Experimental *struct {
		UseSellSignal        *bool `yaml:"use_sell_signal"`
		SellProfitOnly       *bool `yaml:"sell_profit_only"`
		IgnoreROIIfBuySignal *bool `yaml:"ignore_roi_if_buy_signal"`
	} `yaml:"experimental"`

	UnfilledTimeout *struct {
		Buy  *int `yaml:"buy"`
		Sell *int `yaml:"sell"`
	} `yaml:"unfilledtimeout"`

	BidStrategy *BidStrategy `yaml:"bid_strategy"`
	AskStrategy *AskStrategy `yaml:"ask_strategy"`

	Exchange *struct {
		PairWhitelist []string `yaml:"pair_whitelist"`
		PairBlacklist []string `yaml:"pair_blacklist"`
	} `yaml:"exchange"`

	Pairlist *struct {
		Method *string `yaml:"method"`
		Config *struct {
			NumberAssets *int    `yaml:"number_assets"`
			SortKey      *string `yaml:"sort_key"`
		} `yaml:"config"`
		RefreshPeriodSecs *int `yaml:"refresh_period_secs"`
	} `yaml:"pairlist"`

	StartupCandleCount *int `yaml:"startup_candle_count"`

	Edge *struct {
		Enabled                    *bool    `yaml:"enabled"`
		ProcessThrottleSecs        *int     `yaml:"process_throttle_secs"`
		CalculateSinceNumberOfDays *int     `yaml:"calculate_since_number_of_days"`
		CapitalAvailablePercentage *float64 `yaml:"capital_available_percentage"`
		AllowedRisk                *float64 `yaml:"allowed_risk"`
		StoplossRangeMin           *float64 `yaml:"stoploss_range_min"`
		StoplossRangeMax           *float64 `yaml:"stoploss_range_max"`
		StoplossRangeStep          *float64 `yaml:"stoploss_range_step"`
		MinimumWinrate             *float64 `yaml:"minimum_winrate"`
		MinimumExpectancy          *float64 `yaml:"minimum_expectancy"`
		MinTradeNumber             *int     `yaml:"min_trade_number"`
		MaxTradeDurationMinute     *int     `yaml:"max_trade_duration_minute"`
	} `yaml:"edge"`

	Strategy *string `yaml:"strategy"`

	Internals *struct {
		ProcessThrottleSecs *int `yaml:"process_throttle_secs"`
	} `yaml:"internals"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	set(&c.DryRun, f.DryRun)
	set(&c.DryRunWallet, f.DryRunWallet)
	set(&c.StakeCurrency, f.StakeCurrency)
	if f.StakeAmount != nil {
		if err := c.setStake(*f.StakeAmount); err != nil {
			return err
		}
	}
	set(&c.MaxOpenTrades, f.MaxOpenTrades)
	set(&c.PositionStacking, f.PositionStacking)
	set(&c.Interval, f.TickerInterval)
	set(&c.Fee, f.Fee)
	if f.MinimalROI != nil {
		table, err := roiFromMap(f.MinimalROI)
		if err != nil {
			return err
		}
		c.MinimalROI = table
	}
	set(&c.StopLoss, f.StopLoss)
	set(&c.TrailingStop, f.TrailingStop)
	set(&c.TrailingStopPositive, f.TrailingStopPositive)
	set(&c.TrailingStopPositiveOffset, f.TrailingStopPositiveOffset)
	set(&c.TrailingOnlyOffsetIsReached, f.TrailingOnlyOffsetIsReached)

	if e := f.Experimental; e != nil {
		set(&c.UseSellSignal, e.UseSellSignal)
		set(&c.SellProfitOnly, e.SellProfitOnly)
		set(&c.IgnoreROIIfBuySignal, e.IgnoreROIIfBuySignal)
	}
	if u := f.UnfilledTimeout; u != nil {
		if u.Buy != nil {
			c.UnfilledTimeoutBuy = time.Duration(*u.Buy) * time.Minute
		}
		if u.Sell != nil {
			c.UnfilledTimeoutSell = time.Duration(*u.Sell) * time.Minute
		}
	}
	set(&c.BidStrategy, f.BidStrategy)
	set(&c.AskStrategy, f.AskStrategy)
	if f.Exchange != nil {
		if len(f.Exchange.PairWhitelist) > 0 {
			c.Whitelist = f.Exchange.PairWhitelist
		}
		if f.Exchange.PairBlacklist != nil {
			c.Blacklist = f.Exchange.PairBlacklist
		}
	}
	if pl := f.Pairlist; pl != nil {
		set(&c.PairlistMethod, pl.Method)
		if pl.Config != nil {
			set(&c.PairlistNumberAssets, pl.Config.NumberAssets)
			set(&c.PairlistSortKey, pl.Config.SortKey)
		}
		if pl.RefreshPeriodSecs != nil {
			c.PairlistRefresh = time.Duration(*pl.RefreshPeriodSecs) * time.Second
		}
	}
	set(&c.StartupCandleCount, f.StartupCandleCount)
	if e := f.Edge; e != nil {
		set(&c.Edge.Enabled, e.Enabled)
		if e.ProcessThrottleSecs != nil {
			c.Edge.ProcessThrottle = time.Duration(*e.ProcessThrottleSecs) * time.Second
		}
		set(&c.Edge.CalculateSinceDays, e.CalculateSinceNumberOfDays)
		set(&c.Edge.CapitalAvailablePercentage, e.CapitalAvailablePercentage)
		set(&c.Edge.AllowedRisk, e.AllowedRisk)
		set(&c.Edge.StoplossRangeMin, e.StoplossRangeMin)
		set(&c.Edge.StoplossRangeMax, e.StoplossRangeMax)
		set(&c.Edge.StoplossRangeStep, e.StoplossRangeStep)
		set(&c.Edge.MinimumWinrate, e.MinimumWinrate)
		set(&c.Edge.MinimumExpectancy, e.MinimumExpectancy)
		set(&c.Edge.MinTradeNumber, e.MinTradeNumber)
		set(&c.Edge.MaxTradeDurationMinute, e.MaxTradeDurationMinute)
	}
	set(&c.StrategyName, f.Strategy)
	if f.Internals != nil && f.Internals.ProcessThrottleSecs != nil {
		c.ProcessThrottle = time.Duration(*f.Internals.ProcessThrottleSecs) * time.Second
	}
	return nil
}

func roiFromMap(m map[string]float64) (domain.ROITable, error) {
	steps := make(map[int]float64, len(m))
	for k, v := range m {
		minutes, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid minimal_roi key %q: %w", k, err)
		}
		steps[minutes] = v
	}
	return domain.NewROITable(steps), nil
}

func (c *Config) setStake(v string) error {
	if strings.EqualFold(v, risk.StakeUnlimited) {
		c.StakeUnlimited = true
		c.StakeAmount = 0
		return nil
	}
	amount, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid stake amount %q: %w", v, err)
	}
	c.StakeUnlimited = false
	c.StakeAmount = amount
	return nil
}

// applyEnv overrides fields with any environment variables that are set.
func (c *Config) applyEnv() []string {
	var errs []string
	var err error

	c.APIKey = getEnv("BINANCE_API_KEY", c.APIKey)
	c.SecretKey = getEnv("BINANCE_API_SECRET", c.SecretKey)
	c.IsTestnet = getEnvAsBool("IS_TESTNET", c.IsTestnet)
	c.DryRun = getEnvAsBool("DRY_RUN", c.DryRun)
	if c.DryRunWallet, err = getEnvAsFloatRequired("DRY_RUN_WALLET", c.DryRunWallet); err != nil {
		errs = append(errs, err.Error())
	}

	c.StakeCurrency = getEnv("STAKE_CURRENCY", c.StakeCurrency)
	if v := os.Getenv("STAKE_AMOUNT"); v != "" {
		if err := c.setStake(v); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.MaxOpenTrades, err = getEnvAsIntRequired("MAX_OPEN_TRADES", c.MaxOpenTrades); err != nil {
		errs = append(errs, err.Error())
	}
	c.PositionStacking = getEnvAsBool("POSITION_STACKING", c.PositionStacking)
	if v := os.Getenv("PAIR_WHITELIST"); v != "" {
		c.Whitelist = splitList(v)
	}
	if v := os.Getenv("PAIR_BLACKLIST"); v != "" {
		c.Blacklist = splitList(v)
	}
	c.PairlistMethod = getEnv("PAIRLIST_METHOD", c.PairlistMethod)
	if c.PairlistNumberAssets, err = getEnvAsIntRequired("PAIRLIST_NUMBER_ASSETS", c.PairlistNumberAssets); err != nil {
		errs = append(errs, err.Error())
	}
	c.PairlistSortKey = getEnv("PAIRLIST_SORT_KEY", c.PairlistSortKey)
	if c.StartupCandleCount, err = getEnvAsIntRequired("STARTUP_CANDLE_COUNT", c.StartupCandleCount); err != nil {
		errs = append(errs, err.Error())
	}
	c.Interval = getEnv("TICKER_INTERVAL", c.Interval)
	if c.Fee, err = getEnvAsFloatRequired("FEE", c.Fee); err != nil {
		errs = append(errs, err.Error())
	}

	if v := os.Getenv("MINIMAL_ROI"); v != "" {
		table, err := domain.ParseROITable(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid MINIMAL_ROI: %v", err))
		} else {
			c.MinimalROI = table
		}
	}
	if c.StopLoss, err = getEnvAsFloatRequired("STOP_LOSS", c.StopLoss); err != nil {
		errs = append(errs, err.Error())
	}
	c.TrailingStop = getEnvAsBool("TRAILING_STOP", c.TrailingStop)
	c.TrailingStopPositive = getEnvAsFloat("TRAILING_STOP_POSITIVE", c.TrailingStopPositive)
	c.TrailingStopPositiveOffset = getEnvAsFloat("TRAILING_STOP_POSITIVE_OFFSET", c.TrailingStopPositiveOffset)
	c.TrailingOnlyOffsetIsReached = getEnvAsBool("TRAILING_ONLY_OFFSET_IS_REACHED", c.TrailingOnlyOffsetIsReached)
	c.UseSellSignal = getEnvAsBool("USE_SELL_SIGNAL", c.UseSellSignal)
	c.SellProfitOnly = getEnvAsBool("SELL_PROFIT_ONLY", c.SellProfitOnly)
	c.IgnoreROIIfBuySignal = getEnvAsBool("IGNORE_ROI_IF_BUY_SIGNAL", c.IgnoreROIIfBuySignal)

	c.UnfilledTimeoutBuy = time.Duration(getEnvAsInt("UNFILLED_TIMEOUT_BUY", int(c.UnfilledTimeoutBuy/time.Minute))) * time.Minute
	c.UnfilledTimeoutSell = time.Duration(getEnvAsInt("UNFILLED_TIMEOUT_SELL", int(c.UnfilledTimeoutSell/time.Minute))) * time.Minute
	c.ProcessThrottle = time.Duration(getEnvAsInt("PROCESS_THROTTLE_SECS", int(c.ProcessThrottle/time.Second))) * time.Second
	c.Edge.Enabled = getEnvAsBool("EDGE_ENABLED", c.Edge.Enabled)

	// Strategy Parameters
	c.StrategyName = getEnv("STRATEGY", c.StrategyName)
	c.StrategyShortMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", c.StrategyShortMAPeriod)
	c.StrategyLongMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", c.StrategyLongMAPeriod)
	c.StrategyEMAPeriod = getEnvAsInt("STRATEGY_EMA_PERIOD", c.StrategyEMAPeriod)
	c.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", c.StrategyRSIPeriod)
	c.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", c.StrategyRSIOverbought)
	c.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", c.StrategyRSIOversold)
	c.StrategyATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", c.StrategyATRPeriod)
	c.StrategyMaxVolatility = getEnvAsFloat("STRATEGY_MAX_VOLATILITY", c.StrategyMaxVolatility)
	c.StrategyATRMultiplier = getEnvAsFloat("STRATEGY_ATR_MULTIPLIER", c.StrategyATRMultiplier)
	c.StrategyBreakEven = getEnvAsFloat("STRATEGY_BREAK_EVEN", c.StrategyBreakEven)

	c.DBPath = getEnv("DB_PATH", c.DBPath)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = logger.ParseLevel(v)
	}
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.StreamCandles = getEnvAsBool("STREAM_CANDLES", c.StreamCandles)
	c.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.CallTimeout = time.Duration(getEnvAsInt("CALL_TIMEOUT_SECONDS", int(c.CallTimeout/time.Second))) * time.Second
	return errs
}

func (c *Config) validate() []string {
	var errs []string

	if !c.DryRun {
		if c.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if c.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	} else if c.DryRunWallet <= 0 {
		errs = append(errs, "DRY_RUN_WALLET must be positive")
	}

	if c.StakeCurrency == "" {
		errs = append(errs, "STAKE_CURRENCY must be set")
	}
	if !c.StakeUnlimited && c.StakeAmount <= 0 {
		errs = append(errs, "STAKE_AMOUNT must be positive or \"unlimited\"")
	}
	if c.StakeUnlimited && c.MaxOpenTrades <= 0 {
		errs = append(errs, "an unlimited stake requires a positive MAX_OPEN_TRADES")
	}
	if len(c.Whitelist) == 0 && c.PairlistMethod != pairlist.MethodVolume {
		errs = append(errs, "PAIR_WHITELIST must not be empty")
	}
	for _, p := range append(slices.Clone(c.Whitelist), c.Blacklist...) {
		if !strings.Contains(p, "/") {
			errs = append(errs, fmt.Sprintf("pair %q must be BASE/QUOTE", p))
		}
	}
	if err := c.PairlistConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.StartupCandleCount < 0 || c.StartupCandleCount >= maxStartupCandles {
		errs = append(errs, fmt.Sprintf("STARTUP_CANDLE_COUNT must be between 0 and %d", maxStartupCandles-1))
	}
	if _, err := domain.IntervalDuration(c.Interval); err != nil {
		errs = append(errs, fmt.Sprintf("invalid TICKER_INTERVAL: %v", err))
	}
	if c.Fee < 0 || c.Fee >= 1 {
		errs = append(errs, "FEE must be between 0.0 and 1.0")
	}
	if c.StopLoss >= 0 || c.StopLoss <= -1 {
		errs = append(errs, "STOP_LOSS must be a negative ratio above -1.0")
	}
	if c.TrailingStopPositive < 0 || c.TrailingStopPositiveOffset < 0 {
		errs = append(errs, "trailing stop settings cannot be negative")
	}
	if c.UnfilledTimeoutBuy <= 0 || c.UnfilledTimeoutSell <= 0 {
		errs = append(errs, "unfilled timeouts must be positive")
	}
	if c.ProcessThrottle <= 0 {
		errs = append(errs, "PROCESS_THROTTLE_SECS must be positive")
	}
	if c.BidStrategy.AskLastBalance < 0 || c.BidStrategy.AskLastBalance > 1 {
		errs = append(errs, "ask_last_balance must be between 0.0 and 1.0")
	}
	if c.BidStrategy.UseOrderBook && c.BidStrategy.OrderBookTop < 1 {
		errs = append(errs, "order_book_top must be at least 1")
	}
	if c.AskStrategy.UseOrderBook && c.AskStrategy.OrderBookMin < 1 {
		errs = append(errs, "order_book_min must be at least 1")
	}
	if c.Edge.Enabled {
		if err := c.Edge.Validate(); err != nil {
			errs = append(errs, strings.Split(err.Error(), "\n")...)
		}
	}

	// Validate strategy periods
	if c.StrategyShortMAPeriod <= 0 || c.StrategyLongMAPeriod <= 0 || c.StrategyEMAPeriod <= 0 || c.StrategyRSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, EMA, RSI) must be positive")
	}
	if c.StrategyShortMAPeriod >= c.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if c.StrategyRSIOverbought <= c.StrategyRSIOversold || c.StrategyRSIOverbought > 100 || c.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	switch c.StrategyName {
	case strategies.NameTrend:
	case strategies.NameCrossover:
		if c.StrategyATRMultiplier <= 0 {
			errs = append(errs, "STRATEGY_ATR_MULTIPLIER must be positive")
		}
		if c.StrategyBreakEven < 0 {
			errs = append(errs, "STRATEGY_BREAK_EVEN cannot be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STRATEGY %q (known: %v)", c.StrategyName, strategies.Names()))
	}

	if c.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	return errs
}

// Validate re-checks a configuration assembled by hand, e.g. one swapped in on reload.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TradablePairs is the static whitelist without blacklisted pairs. Offline
// tools use it; the live bot asks its pair list.
func (c *Config) TradablePairs() []string {
	return slices.DeleteFunc(slices.Clone(c.Whitelist), func(p string) bool { return slices.Contains(c.Blacklist, p) })
}

// PairlistConfig returns the pair list settings.
func (c *Config) PairlistConfig() pairlist.Config {
	return pairlist.Config{
		Method:        c.PairlistMethod,
		StakeCurrency: c.StakeCurrency,
		Whitelist:     c.Whitelist,
		Blacklist:     c.Blacklist,
		NumberAssets:  c.PairlistNumberAssets,
		SortKey:       c.PairlistSortKey,
		RefreshPeriod: c.PairlistRefresh,
	}
}

// StartupCandles is the signal window for a strategy needing required
// points: the configured count, or five times required when unset, never
// below required and capped at what one candle request returns.
func (c *Config) StartupCandles(required int) int {
	n := c.StartupCandleCount
	if n == 0 {
		n = 5 * required
	}
	return min(max(n, required), maxStartupCandles-1)
}

// ExitConfig returns the rules for the exit engine.
func (c *Config) ExitConfig() exit.Config {
	return exit.Config{
		MinimalROI:                  c.MinimalROI,
		StopLoss:                    c.StopLoss,
		TrailingStop:                c.TrailingStop,
		TrailingStopPositive:        c.TrailingStopPositive,
		TrailingStopPositiveOffset:  c.TrailingStopPositiveOffset,
		TrailingOnlyOffsetIsReached: c.TrailingOnlyOffsetIsReached,
		UseSellSignal:               c.UseSellSignal,
		SellProfitOnly:              c.SellProfitOnly,
		IgnoreROIIfBuySignal:        c.IgnoreROIIfBuySignal,
	}
}

// StakeConfig returns the static stake sizing rules.
func (c *Config) StakeConfig() risk.StakeConfig {
	return risk.StakeConfig{
		StakeAmount:   c.StakeAmount,
		Unlimited:     c.StakeUnlimited,
		MaxOpenTrades: c.MaxOpenTrades,
	}
}

// EdgeConfig returns the edge settings with the trading fee applied.
func (c *Config) EdgeConfig() risk.EdgeConfig {
	e := c.Edge
	e.Fee = c.Fee
	return e
}

// StrategyConfig returns the parameters of the default strategy.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		ShortTermMAPeriod: c.StrategyShortMAPeriod,
		LongTermMAPeriod:  c.StrategyLongMAPeriod,
		EMAPeriod:         c.StrategyEMAPeriod,
		RSIPeriod:         c.StrategyRSIPeriod,
		RSIOverbought:     c.StrategyRSIOverbought,
		RSIOversold:       c.StrategyRSIOversold,
		ATRPeriod:         c.StrategyATRPeriod,
		MaxVolatility:     c.StrategyMaxVolatility,
	}
}

// Strategies selects the configured strategy. The crossover reuses the MA, EMA
// and RSI settings and defaults the ATR period to 14 when it is not set.
func (c *Config) Strategies() strategies.Config {
	atrPeriod := c.StrategyATRPeriod
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return strategies.Config{
		Name:  c.StrategyName,
		Trend: c.StrategyConfig(),
		Crossover: strategies.MACrossoverConfig{
			FastMAPeriod:        c.StrategyShortMAPeriod,
			SlowMAPeriod:        c.StrategyLongMAPeriod,
			SignalPeriod:        c.StrategyEMAPeriod,
			RSIPeriod:           c.StrategyRSIPeriod,
			RSIOverbought:       c.StrategyRSIOverbought,
			ATRPeriod:           atrPeriod,
			ATRMultiplier:       c.StrategyATRMultiplier,
			BreakEvenActivation: c.StrategyBreakEven,
		},
	}
}

// Backtest returns the simulator settings matching the live bot, starting
// from the dry-run wallet.
func (c *Config) Backtest() backtesting.Config {
	return backtesting.Config{
		Exit:             c.ExitConfig(),
		Stake:            c.StakeConfig(),
		PositionStacking: c.PositionStacking,
		Fee:              c.Fee,
		Interval:         c.IntervalDuration(),
		StartingBalance:  c.DryRunWallet,
		Whitelist:        c.TradablePairs(),
	}
}

// RetryConfig returns the venue retry budget.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{MaxAttempts: c.RetryMaxAttempts, Jitter: true}
}

// IntervalDuration is the candle size as a duration.
func (c *Config) IntervalDuration() time.Duration {
	d, _ := domain.IntervalDuration(c.Interval)
	return d
}

// --- Env Var Helpers ---

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
