package analytics

import (
	"math"
	"sort"
	"time"

	"zetatrade/internal/domain"
)

// PerformanceMetrics holds the summary of a set of closed trades
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64 // absolute, stake currency
	TotalProfitRatio   float64 // sum of per-trade profit ratios
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	MonthlyReturns       map[string]float64
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint

	// Breakdowns
	ByPair   map[string]*GroupStats
	ByReason map[domain.SellReason]*GroupStats
}

// GroupStats aggregates the trades sharing a pair or a sell reason.
type GroupStats struct {
	Trades          int
	Wins            int
	ProfitAbs       float64
	ProfitRatioSum  float64
	AverageDuration time.Duration

	totalDuration time.Duration
}

// ProfitRatioMean is the average per-trade profit ratio of the group.
func (g *GroupStats) ProfitRatioMean() float64 {
	if g.Trades == 0 {
		return 0
	}
	return g.ProfitRatioSum / float64(g.Trades)
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from the closed trades in trades.
// Open and cancelled trades are ignored. The input slice is not reordered.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
		ByPair:         make(map[string]*GroupStats),
		ByReason:       make(map[domain.SellReason]*GroupStats),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.State == domain.StateClosed {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return metrics
	}

	// Equity moves when a trade closes.
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].CloseTime.Before(closed[j].CloseTime)
	})

	currentBalance := initialBalance
	peakBalance := initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var grossWin, grossLoss float64
	var totalDuration time.Duration

	for _, trade := range closed {
		pnl := trade.CloseProfitAbs
		metrics.TotalTrades++
		if pnl > 0 {
			metrics.WinningTrades++
			consecutiveWins++
			consecutiveLosses = 0
			grossWin += pnl
		} else {
			metrics.LosingTrades++
			consecutiveLosses++
			consecutiveWins = 0
			grossLoss += pnl
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		currentBalance += pnl
		metrics.TotalProfit += pnl
		metrics.TotalProfitRatio += trade.CloseProfit
		metrics.FinalBalance = currentBalance
		totalDuration += trade.Duration()
		metrics.MonthlyReturns[trade.CloseTime.Format("2006-01")] += pnl

		addToGroup(metrics.ByPair, trade.Pair, trade)
		addToGroup(metrics.ByReason, trade.SellReason, trade)

		if currentBalance > peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.CloseTime
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else if peakBalance > 0 {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.CloseTime,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		}

		point := EquityPoint{Time: trade.CloseTime, Value: currentBalance}
		if peakBalance > 0 {
			point.Drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.EquityCurve = append(metrics.EquityCurve, point)
	}

	if currentDrawdown != nil {
		currentDrawdown.EndTime = closed[len(closed)-1].CloseTime
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = grossWin / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = grossLoss / float64(metrics.LosingTrades)
	}
	if grossLoss != 0 {
		metrics.ProfitFactor = grossWin / -grossLoss
	}
	if metrics.AverageLoss != 0 {
		metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss

	for _, g := range metrics.ByPair {
		g.AverageDuration = g.totalDuration / time.Duration(g.Trades)
	}
	for _, g := range metrics.ByReason {
		g.AverageDuration = g.totalDuration / time.Duration(g.Trades)
	}

	return metrics
}

func addToGroup[K comparable](groups map[K]*GroupStats, key K, trade *domain.Trade) {
	g, ok := groups[key]
	if !ok {
		g = &GroupStats{}
		groups[key] = g
	}
	g.Trades++
	if trade.CloseProfitAbs > 0 {
		g.Wins++
	}
	g.ProfitAbs += trade.CloseProfitAbs
	g.ProfitRatioSum += trade.CloseProfit
	g.totalDuration += trade.Duration()
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// Pairs returns the pair breakdown keys in alphabetical order.
func (m *PerformanceMetrics) Pairs() []string {
	out := make([]string, 0, len(m.ByPair))
	for p := range m.ByPair {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
