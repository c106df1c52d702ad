// Package journal persists executed trades to SQLite for analysis and audit.
// It is an append-only trail alongside the state store, not a source of
// truth for the ledgers.
package journal

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"trading-agentv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Journal writes trade records to a SQLite database.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id    TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		position_id TEXT,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		size        REAL NOT NULL,
		price       REAL NOT NULL,
		fee         REAL NOT NULL,
		executed_at DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record appends one executed trade.
func (j *Journal) Record(ctx context.Context, trade model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (trade_id, order_id, position_id, symbol, side, size, price, fee, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID,
		trade.OrderID,
		trade.PositionID,
		trade.Symbol,
		string(trade.Side),
		trade.Size,
		trade.Price,
		trade.Fee,
		trade.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Trades returns journaled trades filtered by symbol (empty = all) and time
// range (zero = unbounded), oldest first.
func (j *Journal) Trades(ctx context.Context, symbol string, start, end time.Time) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT trade_id, order_id, position_id, symbol, side, size, price, fee, executed_at
	          FROM trades WHERE 1=1`
	var args []any
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	if !start.IsZero() {
		query += " AND executed_at >= ?"
		args = append(args, start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		query += " AND executed_at <= ?"
		args = append(args, end.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY executed_at ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, ts string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PositionID, &t.Symbol, &side,
			&t.Size, &t.Price, &t.Fee, &ts); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			t.Timestamp = parsed
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
