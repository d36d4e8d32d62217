// Package utils reads and writes candle and trade CSV files.
package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

var klineHeader = []string{"open_time", "close_time", "pair", "interval", "open", "high", "low", "close", "volume"}

var tradeHeader = []string{
	"id", "pair", "strategy", "state", "open_time", "close_time", "open_rate", "close_rate",
	"amount", "stake_amount", "profit_ratio", "profit_abs", "sell_reason", "duration_min",
}

// KlineFileName is the conventional file name for a pair's candles, e.g. "ETH_BTC-5m.csv".
func KlineFileName(dir, pair, interval string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", strings.ReplaceAll(pair, "/", "_"), interval))
}

func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteKlines(file, klines); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteKlines writes candles with a header row.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Pair,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	klines, err := ReadKlines(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return klines, nil
}

// ReadKlines parses candles written by WriteKlines. Any unparsable row is
// reported as ErrMalformedCandle with its line number.
func ReadKlines(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: header: %v", ports.ErrMalformedCandle, err)
	}
	if header[0] != klineHeader[0] {
		return nil, fmt.Errorf("%w: unexpected header %v", ports.ErrMalformedCandle, header)
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ports.ErrMalformedCandle, line, err)
		}
		k, err := parseKline(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ports.ErrMalformedCandle, line, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(rec []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}
	values := make([]float64, 5)
	for i := range values {
		v, err := strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", klineHeader[4+i], err)
		}
		values[i] = v
	}
	return &domain.Kline{
		OpenTime:  openTime.UTC(),
		CloseTime: closeTime.UTC(),
		Pair:      rec[2],
		Interval:  rec[3],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		IsFinal:   true,
	}, nil
}

// WriteTradesToCSV writes one row per trade, creating parent directories.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTrades(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteTrades writes trades with a header row. Open trades leave the close columns empty.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		var closeTime, closeRate, profit, profitAbs string
		if t.State == domain.StateClosed {
			closeTime = t.CloseTime.UTC().Format(time.RFC3339)
			closeRate = formatFloat(t.CloseRate)
			profit = formatFloat(t.CloseProfit)
			profitAbs = formatFloat(t.CloseProfitAbs)
		}
		err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Pair,
			t.Strategy,
			string(t.State),
			t.OpenTime.UTC().Format(time.RFC3339),
			closeTime,
			formatFloat(t.OpenRate),
			closeRate,
			formatFloat(t.Amount),
			formatFloat(t.StakeAmount),
			profit,
			profitAbs,
			string(t.SellReason),
			strconv.FormatFloat(t.Duration().Minutes(), 'f', 0, 64),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
