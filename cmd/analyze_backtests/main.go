package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"zetatrade/internal/domain"
	"zetatrade/internal/strategy/analytics"
)

type namedReport struct {
	file string
	*analytics.Report
}

func main() {
	dir := flag.String("dir", "data/backtests", "directory holding backtest JSON reports")
	flag.Parse()

	files, err := findReportFiles(*dir)
	if err != nil {
		log.Fatalf("Error finding backtest reports: %v", err)
	}
	if len(files) == 0 {
		log.Println("No backtest reports found. Run the backtest runner first.")
		return
	}

	var reports []namedReport
	for _, file := range files {
		r, err := analytics.ReadReport(file)
		if err != nil {
			log.Printf("Error reading report %s: %v", file, err)
			continue
		}
		reports = append(reports, namedReport{file: filepath.Base(file), Report: r})
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].ROI > reports[j].ROI })

	// Create a tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Report\tStrategy\tTrades\tWinRate\tProfit\tROI%\tMaxDD%\tPF\tExpectancy\tAvgMin\t")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.8f\t%.2f\t%.2f\t%.2f\t%.4f\t%.0f\t\n",
			r.file, r.Strategy, r.Trades, r.WinRate*100, r.TotalProfit,
			r.ROI*100, r.MaxDrawdown*100, r.ProfitFactor, r.Expectancy, r.AvgDurationMin)
	}
	w.Flush()

	fmt.Println("\n## Exit Reason Analysis")
	for _, r := range reports {
		printReasons(r)
	}
}

// findReportFiles lists the JSON reports in dir.
func findReportFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func printReasons(r namedReport) {
	reasons := make([]string, 0, len(r.ByReason))
	for reason := range r.ByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	fmt.Printf("\nReport: %s\n", r.file)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Sell Reason\tCount\tWins\tTotal Profit\tAvg Profit%")
	for _, reason := range reasons {
		g := r.ByReason[reason]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.8f\t%.2f\n", reason, g.Trades, g.Wins, g.ProfitAbs, g.ProfitRatioMean*100)
	}
	w.Flush()

	var stops, stopProfit float64
	for _, reason := range []domain.SellReason{domain.SellReasonStopLoss, domain.SellReasonTrailingStopLoss, domain.SellReasonEmergencySell} {
		g := r.ByReason[string(reason)]
		stops += float64(g.Trades)
		stopProfit += g.ProfitAbs
	}
	if stops > 0 {
		fmt.Printf("Stop exits: %.0f trades (%.1f%% of all), profit %.8f\n", stops, 100*stops/float64(max(r.Trades, 1)), stopProfit)
	} else {
		fmt.Println("No stop exits")
	}
}
