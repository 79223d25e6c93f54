package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kitebot/internal/strategy"
)

// Trade is one closed or open round trip as persisted.
type Trade struct {
	ID         int64
	Symbol     string
	Side       string
	Basis      string
	EntryTime  time.Time
	EntryPrice float64
	StopLoss   float64
	ExitTime   *time.Time
	ExitPrice  *float64
	Points     *float64
	ExitReason string
	Live       bool
	OrderID    string
}

// Session is one process run, recorded for operational forensics.
type Session struct {
	ID        int64
	StartedAt time.Time
	EndedAt   *time.Time
	Mode      string
	Note      string
}

// Journal records trades and process sessions in a local sqlite file.
type Journal struct {
	db *sql.DB
}

// Open creates the database (and parent directory) if needed and applies
// the schema.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	basis       TEXT NOT NULL,
	entry_time  TIMESTAMP NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss   REAL NOT NULL,
	exit_time   TIMESTAMP,
	exit_price  REAL,
	points      REAL,
	exit_reason TEXT NOT NULL DEFAULT '',
	live        INTEGER NOT NULL DEFAULT 0,
	order_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	mode       TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT ''
);`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("apply journal schema: %w", err)
	}
	return nil
}

// OpenTrade inserts a new open trade and returns its id.
func (j *Journal) OpenTrade(ctx context.Context, pos *strategy.Position, live bool, orderID string) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
INSERT INTO trades (symbol, side, basis, entry_time, entry_price, stop_loss, live, order_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.Symbol, string(pos.Side), string(pos.Basis), pos.EntryTime.UTC(),
		pos.EntryPrice, pos.StopLoss, boolToInt(live), orderID)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// CloseTrade fills in the exit leg of an open trade.
func (j *Journal) CloseTrade(ctx context.Context, id int64, exitTime time.Time, exitPrice, points float64, reason string) error {
	_, err := j.db.ExecContext(ctx, `
UPDATE trades SET exit_time = ?, exit_price = ?, points = ?, exit_reason = ?
WHERE id = ?`, exitTime.UTC(), exitPrice, points, reason, id)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}
	return nil
}

// LastOpenTrade returns the newest trade without an exit, or nil.
func (j *Journal) LastOpenTrade(ctx context.Context) (*Trade, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, symbol, side, basis, entry_time, entry_price, stop_loss, exit_reason, live, order_id
FROM trades WHERE exit_time IS NULL ORDER BY entry_time DESC LIMIT 1`)

	var t Trade
	var live int
	err := row.Scan(&t.ID, &t.Symbol, &t.Side, &t.Basis, &t.EntryTime, &t.EntryPrice,
		&t.StopLoss, &t.ExitReason, &live, &t.OrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query open trade: %w", err)
	}
	t.Live = live != 0
	return &t, nil
}

// RecentTrades returns the latest n trades, newest first.
func (j *Journal) RecentTrades(ctx context.Context, n int) ([]Trade, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, symbol, side, basis, entry_time, entry_price, stop_loss,
       exit_time, exit_price, points, exit_reason, live, order_id
FROM trades ORDER BY entry_time DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var live int
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Basis, &t.EntryTime, &t.EntryPrice,
			&t.StopLoss, &t.ExitTime, &t.ExitPrice, &t.Points, &t.ExitReason, &live, &t.OrderID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Live = live != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// StartSession records a new process run and returns its id.
func (j *Journal) StartSession(ctx context.Context, mode, note string) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (started_at, mode, note) VALUES (?, ?, ?)`,
		time.Now().UTC(), mode, note)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// EndSession stamps the session's end time.
func (j *Journal) EndSession(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("end session %d: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
