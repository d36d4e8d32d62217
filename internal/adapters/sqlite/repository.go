package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
// Rows are inserted and updated but never deleted.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/zetatrade.db"
	}
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: open '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: ping '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		open_rate REAL NOT NULL,
		amount REAL NOT NULL,
		stake_amount REAL NOT NULL,
		fee_open REAL NOT NULL,
		fee_close REAL NOT NULL,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NULL,
		close_rate REAL NULL,
		close_profit REAL NULL,
		close_profit_abs REAL NULL,
		realized_profit REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		initial_stop_loss REAL NOT NULL DEFAULT 0,
		stop_loss_ratio REAL NOT NULL DEFAULT 0,
		trailing_active INTEGER NOT NULL DEFAULT 0,
		max_rate REAL NOT NULL DEFAULT 0,
		min_rate REAL NOT NULL DEFAULT 0,
		sell_reason TEXT NULL,
		open_order_id TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		trade_id INTEGER NOT NULL REFERENCES trades(id),
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		price REAL NOT NULL,
		amount REAL NOT NULL,
		filled REAL NOT NULL,
		avg_price REAL NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_pair_state ON trades (pair, state);
	CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders (trade_id, created_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveTrade inserts or updates the trade and upserts its orders in one transaction.
func (r *Repository) SaveTrade(ctx context.Context, trade *domain.Trade) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ports.ErrDBConnection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := trade.ID
	if id == 0 {
		id, err = insertTrade(ctx, tx, trade)
	} else {
		err = updateTrade(ctx, tx, trade)
	}
	if err != nil {
		return err
	}
	for _, o := range trade.Orders {
		if err = upsertOrder(ctx, tx, id, o); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit trade %d: %v", ports.ErrUpdateFailed, id, err)
	}

	if trade.ID == 0 {
		trade.ID = id
		for _, o := range trade.Orders {
			o.TradeID = id
		}
	}
	r.logger.Debug(ctx, "Trade saved", map[string]interface{}{"tradeID": id, "pair": trade.Pair, "state": trade.State})
	return nil
}

const tradeColumns = `pair, strategy, state, open_rate, amount, stake_amount, fee_open, fee_close,
	open_time, close_time, close_rate, close_profit, close_profit_abs, realized_profit, stop_loss,
	initial_stop_loss, stop_loss_ratio, trailing_active, max_rate, min_rate, sell_reason, open_order_id`

func tradeArgs(t *domain.Trade) []interface{} {
	var closeTime sql.NullTime
	var closeRate, closeProfit, closeProfitAbs sql.NullFloat64
	if !t.CloseTime.IsZero() {
		closeTime = sql.NullTime{Time: t.CloseTime.UTC(), Valid: true}
	}
	if t.State == domain.StateClosed {
		closeRate = sql.NullFloat64{Float64: t.CloseRate, Valid: true}
		closeProfit = sql.NullFloat64{Float64: t.CloseProfit, Valid: true}
		closeProfitAbs = sql.NullFloat64{Float64: t.CloseProfitAbs, Valid: true}
	}
	return []interface{}{
		t.Pair, t.Strategy, string(t.State), t.OpenRate, t.Amount, t.StakeAmount, t.FeeOpen, t.FeeClose,
		t.OpenTime.UTC(), closeTime, closeRate, closeProfit, closeProfitAbs, t.RealizedProfit, t.StopLoss, t.InitialStopLoss,
		t.StopLossRatio, t.TrailingActive, t.MaxRate, t.MinRate, nullString(string(t.SellReason)), nullString(t.OpenOrderID),
	}
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *domain.Trade) (int64, error) {
	query := `INSERT INTO trades (` + tradeColumns + `) VALUES (?` + strings.Repeat(", ?", 21) + `)`
	result, err := tx.ExecContext(ctx, query, tradeArgs(t)...)
	if err != nil {
		return 0, fmt.Errorf("%w: insert trade for %s: %v", ports.ErrUpdateFailed, t.Pair, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert ID for trade %s: %v", ports.ErrUpdateFailed, t.Pair, err)
	}
	return id, nil
}

func updateTrade(ctx context.Context, tx *sql.Tx, t *domain.Trade) error {
	cols := strings.Split(strings.Join(strings.Fields(tradeColumns), ""), ",")
	for i, c := range cols {
		cols[i] = c + " = ?"
	}
	query := `UPDATE trades SET ` + strings.Join(cols, ", ") + ` WHERE id = ?`
	result, err := tx.ExecContext(ctx, query, append(tradeArgs(t), t.ID)...)
	if err != nil {
		return fmt.Errorf("%w: update trade %d: %v", ports.ErrUpdateFailed, t.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for trade %d: %v", ports.ErrUpdateFailed, t.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrNotFound)
	}
	return nil
}

func upsertOrder(ctx context.Context, tx *sql.Tx, tradeID int64, o *domain.Order) error {
	const query = `
	INSERT INTO orders (id, client_id, trade_id, pair, side, type, status, price, amount, filled, avg_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status, filled = excluded.filled,
		avg_price = excluded.avg_price, updated_at = excluded.updated_at`

	_, err := tx.ExecContext(ctx, query,
		o.ID, o.ClientID, tradeID, o.Pair, string(o.Side), string(o.Type), string(o.Status),
		o.Price, o.Amount, o.Filled, o.AvgPrice, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: save order %s of trade %d: %v", ports.ErrUpdateFailed, o.ID, tradeID, err)
	}
	return nil
}

// GetTrade retrieves a trade and its orders by ID. Returns nil, nil if not found.
func (r *Repository) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Trade not found by ID", map[string]interface{}{"tradeID": id})
			return nil, nil
		}
		return nil, fmt.Errorf("%w: trade %d: %v", ports.ErrQueryFailed, id, err)
	}
	if err := r.loadOrders(ctx, []*domain.Trade{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// FindTrades returns trades matching the filter ordered by open time, then ID.
func (r *Repository) FindTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	query := `SELECT id, ` + tradeColumns + ` FROM trades WHERE 1 = 1`
	var args []interface{}
	if filter.Pair != "" {
		query += ` AND pair = ?`
		args = append(args, filter.Pair)
	}
	if filter.Open != nil {
		if *filter.Open {
			query += ` AND state NOT IN (?, ?)`
		} else {
			query += ` AND state IN (?, ?)`
		}
		args = append(args, string(domain.StateClosed), string(domain.StateCancelled))
	}
	query += ` ORDER BY open_time, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find trades: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", ports.ErrQueryFailed, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trades: %v", ports.ErrQueryFailed, err)
	}
	if err := r.loadOrders(ctx, trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// OpenTrades returns every trade that is neither closed nor cancelled.
func (r *Repository) OpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	open := true
	return r.FindTrades(ctx, ports.TradeFilter{Open: &open})
}

func (r *Repository) loadOrders(ctx context.Context, trades []*domain.Trade) error {
	const query = `
	SELECT id, client_id, trade_id, pair, side, type, status, price, amount, filled, avg_price, created_at, updated_at
	FROM orders WHERE trade_id = ? ORDER BY created_at, rowid`

	for _, t := range trades {
		rows, err := r.db.QueryContext(ctx, query, t.ID)
		if err != nil {
			return fmt.Errorf("%w: orders of trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
		for rows.Next() {
			o := &domain.Order{}
			var side, typ, status string
			if err := rows.Scan(&o.ID, &o.ClientID, &o.TradeID, &o.Pair, &side, &typ, &status,
				&o.Price, &o.Amount, &o.Filled, &o.AvgPrice, &o.CreatedAt, &o.UpdatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("%w: scan order of trade %d: %v", ports.ErrQueryFailed, t.ID, err)
			}
			o.Side, o.Type, o.Status = domain.OrderSide(side), domain.OrderType(typ), domain.OrderStatus(status)
			t.Orders = append(t.Orders, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("%w: iterate orders of trade %d: %v", ports.ErrQueryFailed, t.ID, err)
		}
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var state string
	var closeTime sql.NullTime
	var closeRate, closeProfit, closeProfitAbs sql.NullFloat64
	var sellReason, openOrderID sql.NullString
	err := s.Scan(
		&t.ID, &t.Pair, &t.Strategy, &state, &t.OpenRate, &t.Amount, &t.StakeAmount, &t.FeeOpen, &t.FeeClose,
		&t.OpenTime, &closeTime, &closeRate, &closeProfit, &closeProfitAbs, &t.RealizedProfit, &t.StopLoss, &t.InitialStopLoss,
		&t.StopLossRatio, &t.TrailingActive, &t.MaxRate, &t.MinRate, &sellReason, &openOrderID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.State = domain.TradeState(state)
	if closeTime.Valid {
		t.CloseTime = closeTime.Time
	}
	t.CloseRate = closeRate.Float64
	t.CloseProfit = closeProfit.Float64
	t.CloseProfitAbs = closeProfitAbs.Float64
	t.SellReason = domain.SellReason(sellReason.String)
	t.OpenOrderID = openOrderID.String
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ ports.TradeRepository = (*Repository)(nil)
