package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: questionPlaceholder,
	quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
	upsert: onConflictUpsert,
	schema: func(t Tables) []string {
		q := func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + q(t.Prices) + ` (
				shop_id TEXT NOT NULL,
				product_id TEXT NOT NULL,
				last_buy_price REAL NOT NULL DEFAULT -1,
				last_sell_price REAL NOT NULL DEFAULT -1,
				last_updated INTEGER NOT NULL DEFAULT 0,
				expire_date INTEGER NOT NULL DEFAULT 0,
				purchases INTEGER NOT NULL DEFAULT 0,
				sales INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (shop_id, product_id)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + q(t.Stocks) + ` (
				shop_id TEXT NOT NULL,
				product_id TEXT NOT NULL,
				holder TEXT NOT NULL,
				buy_stock INTEGER NOT NULL DEFAULT 0,
				sell_stock INTEGER NOT NULL DEFAULT 0,
				restock_date INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (shop_id, product_id, holder)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + q(t.Rotations) + ` (
				shop_id TEXT NOT NULL,
				rotation_id TEXT NOT NULL,
				next_rotation_date INTEGER NOT NULL DEFAULT 0,
				products TEXT NOT NULL DEFAULT '{}',
				PRIMARY KEY (shop_id, rotation_id)
			)`,
		}
	},
}

// NewSQLiteStore opens a SQLite store. dbPath is a file path such as
// "./data/shopsync.db" or ":memory:".
func NewSQLiteStore(dbPath string, tables Tables, logger zerolog.Logger) (*SQLStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer; a single connection also keeps an
	// in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := newSQLStore(db, sqliteDialect, tables, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.serialize = true

	logger.Info().Str("path", dbPath).Msg("sqlite store initialized")
	return s, nil
}
