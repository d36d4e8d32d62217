package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GroupReport is the serialized form of GroupStats.
type GroupReport struct {
	Trades          int     `json:"trades"`
	Wins            int     `json:"wins"`
	ProfitAbs       float64 `json:"profit_abs"`
	ProfitRatioMean float64 `json:"profit_ratio_mean"`
	AvgDurationMin  float64 `json:"avg_duration_min"`
}

// Report summarizes one backtest run for later comparison.
type Report struct {
	Strategy        string                 `json:"strategy"`
	Parameters      map[string]float64     `json:"parameters,omitempty"`
	Start           time.Time              `json:"start"`
	End             time.Time              `json:"end"`
	StartingBalance float64                `json:"starting_balance"`
	FinalBalance    float64                `json:"final_balance"`
	Trades          int                    `json:"trades"`
	WinRate         float64                `json:"win_rate"`
	TotalProfit     float64                `json:"total_profit"`
	ROI             float64                `json:"roi"`
	MaxDrawdown     float64                `json:"max_drawdown"`
	ProfitFactor    float64                `json:"profit_factor"`
	Expectancy      float64                `json:"expectancy"`
	AvgDurationMin  float64                `json:"avg_duration_min"`
	ByPair          map[string]GroupReport `json:"by_pair"`
	ByReason        map[string]GroupReport `json:"by_reason"`
	Monthly         map[string]float64     `json:"monthly,omitempty"`
}

// NewReport flattens metrics into a Report.
func NewReport(strategy string, start, end time.Time, startingBalance float64, m *PerformanceMetrics) *Report {
	r := &Report{
		Strategy:        strategy,
		Start:           start,
		End:             end,
		StartingBalance: startingBalance,
		FinalBalance:    m.FinalBalance,
		Trades:          m.TotalTrades,
		WinRate:         m.WinRate,
		TotalProfit:     m.TotalProfit,
		ROI:             m.ReturnOnInvestment,
		MaxDrawdown:     m.MaxDrawdown,
		ProfitFactor:    m.ProfitFactor,
		Expectancy:      m.Expectancy,
		AvgDurationMin:  m.AverageTradeDuration.Minutes(),
		ByPair:          make(map[string]GroupReport, len(m.ByPair)),
		ByReason:        make(map[string]GroupReport, len(m.ByReason)),
		Monthly:         m.MonthlyReturns,
	}
	for pair, g := range m.ByPair {
		r.ByPair[pair] = groupReport(g)
	}
	for reason, g := range m.ByReason {
		r.ByReason[string(reason)] = groupReport(g)
	}
	return r
}

func groupReport(g *GroupStats) GroupReport {
	return GroupReport{
		Trades:          g.Trades,
		Wins:            g.Wins,
		ProfitAbs:       g.ProfitAbs,
		ProfitRatioMean: g.ProfitRatioMean(),
		AvgDurationMin:  g.AverageDuration.Minutes(),
	}
}

// WriteReport stores r as indented JSON, creating parent directories.
func WriteReport(path string, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &r, nil
}
