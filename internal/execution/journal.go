package execution

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"algotrade/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists closed trades and execution results to SQLite for audit.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		entry_time  TEXT NOT NULL,
		exit_time   TEXT NOT NULL,
		size        REAL NOT NULL,
		pnl         REAL NOT NULL,
		return_pct  REAL NOT NULL,
		reason      TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);

	CREATE TABLE IF NOT EXISTS executions (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id  TEXT,
		side      TEXT NOT NULL,
		status    TEXT NOT NULL,
		reason    TEXT,
		price     REAL NOT NULL,
		size      REAL NOT NULL,
		at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")
	logger.Info("opened trade journal", "path", dbPath)
	return &Journal{db: db, logger: logger}, nil
}

// RecordTrade persists a closed trade.
func (j *Journal) RecordTrade(ctx context.Context, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (position_id, entry_price, exit_price, entry_time, exit_time, size, pnl, return_pct, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID,
		t.EntryPrice,
		t.ExitPrice,
		t.EntryTime.UTC().Format(time.RFC3339Nano),
		t.ExitTime.UTC().Format(time.RFC3339Nano),
		t.Size,
		t.PnL,
		t.ReturnPct,
		string(t.Reason),
	)
	return err
}

// RecordResult persists an execution attempt, accepted or not.
func (j *Journal) RecordResult(ctx context.Context, r Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (order_id, side, status, reason, price, size, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.OrderID,
		string(r.Side),
		string(r.Status),
		r.Reason,
		r.Price,
		r.Size,
		r.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentTrades returns the last limit trades, newest first.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT position_id, entry_price, exit_price, entry_time, exit_time, size, pnl, return_pct, reason
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var (
			t           model.Trade
			entry, exit string
			reason      string
		)
		if err := rows.Scan(&t.PositionID, &t.EntryPrice, &t.ExitPrice, &entry, &exit,
			&t.Size, &t.PnL, &t.ReturnPct, &reason); err != nil {
			j.logger.Warn("skip unreadable trade row", "error", err)
			continue
		}
		t.EntryTime, _ = time.Parse(time.RFC3339Nano, entry)
		t.ExitTime, _ = time.Parse(time.RFC3339Nano, exit)
		t.Reason = model.CloseReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountResults returns the number of journaled executions with status.
func (j *Journal) CountResults(ctx context.Context, status Status) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// PingContext checks the database is reachable.
func (j *Journal) PingContext(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
