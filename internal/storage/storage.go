package storage

import (
	"database/sql"
	"fmt"
	"time"

	"signal-combo-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// TradeLog is the append-only record of closed virtual trades.
type TradeLog interface {
	InsertTrade(rec *models.TradeRecord) error
	ListTrades(botID, limit int) ([]models.TradeRecord, error)
}

// SQLiteTradeLog stores TradeRecords in the trades table.
type SQLiteTradeLog struct {
	db *sql.DB
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// NewTradeLog wraps an initialized database.
func NewTradeLog(db *sql.DB) *SQLiteTradeLog {
	return &SQLiteTradeLog{db: db}
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		bot_id INTEGER NOT NULL,
		bot_name TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_price REAL NOT NULL,
		exit_time INTEGER NOT NULL,
		leverage REAL NOT NULL,
		margin REAL NOT NULL,
		pnl REAL NOT NULL,
		balance REAL NOT NULL,
		reason TEXT NOT NULL
	);`

	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades (bot_id, seq);`); err != nil {
		return err
	}

	return nil
}

// InsertTrade appends one closed trade.
func (l *SQLiteTradeLog) InsertTrade(rec *models.TradeRecord) error {
	query := `
	INSERT INTO trades (trade_id, bot_id, bot_name, side, entry_price, entry_time, exit_price, exit_time, leverage, margin, pnl, balance, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.Exec(query,
		rec.ID, rec.BotID, rec.Bot, string(rec.Side),
		rec.EntryPrice, rec.EntryTime.UnixMilli(),
		rec.ExitPrice, rec.ExitTime.UnixMilli(),
		rec.Leverage, rec.Margin, rec.PnL, rec.Balance, string(rec.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListTrades returns the most recent trades, newest first. botID 0 means every
// bot; limit <= 0 means no limit.
func (l *SQLiteTradeLog) ListTrades(botID, limit int) ([]models.TradeRecord, error) {
	query := `
	SELECT trade_id, bot_id, bot_name, side, entry_price, entry_time, exit_price, exit_time, leverage, margin, pnl, balance, reason
	FROM trades
	WHERE (? = 0 OR bot_id = ?)
	ORDER BY seq DESC`
	args := []any{botID, botID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var side, reason string
		var entryMs, exitMs int64
		if err := rows.Scan(
			&rec.ID, &rec.BotID, &rec.Bot, &side,
			&rec.EntryPrice, &entryMs, &rec.ExitPrice, &exitMs,
			&rec.Leverage, &rec.Margin, &rec.PnL, &rec.Balance, &reason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		rec.Side = models.Side(side)
		rec.Reason = models.ExitReason(reason)
		rec.EntryTime = time.UnixMilli(entryMs).UTC()
		rec.ExitTime = time.UnixMilli(exitMs).UTC()
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}
