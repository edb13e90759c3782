package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

func mysqlQuote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

var mysqlDialect = dialect{
	name:        "mysql",
	placeholder: questionPlaceholder,
	quote:       mysqlQuote,
	upsert: func(_, cols []string) string {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = VALUES(" + c + ")"
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
	schema: func(t Tables) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + mysqlQuote(t.Prices) + ` (
				shop_id VARCHAR(128) NOT NULL,
				product_id VARCHAR(128) NOT NULL,
				last_buy_price DOUBLE NOT NULL DEFAULT -1,
				last_sell_price DOUBLE NOT NULL DEFAULT -1,
				last_updated BIGINT NOT NULL DEFAULT 0,
				expire_date BIGINT NOT NULL DEFAULT 0,
				purchases INT NOT NULL DEFAULT 0,
				sales INT NOT NULL DEFAULT 0,
				PRIMARY KEY (shop_id, product_id)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + mysqlQuote(t.Stocks) + ` (
				shop_id VARCHAR(128) NOT NULL,
				product_id VARCHAR(128) NOT NULL,
				holder VARCHAR(128) NOT NULL,
				buy_stock INT NOT NULL DEFAULT 0,
				sell_stock INT NOT NULL DEFAULT 0,
				restock_date BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (shop_id, product_id, holder)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + mysqlQuote(t.Rotations) + ` (
				shop_id VARCHAR(128) NOT NULL,
				rotation_id VARCHAR(128) NOT NULL,
				next_rotation_date BIGINT NOT NULL DEFAULT 0,
				products MEDIUMTEXT NOT NULL,
				PRIMARY KEY (shop_id, rotation_id)
			)`,
		}
	},
}

// NewMySQLStore opens a MySQL store.
// dsn format: "user:password@tcp(host:port)/dbname"
func NewMySQLStore(dsn string, tables Tables, logger zerolog.Logger) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := newSQLStore(db, mysqlDialect, tables, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("addr", cfg.Addr).Str("db", cfg.DBName).Msg("mysql store initialized")
	return s, nil
}
