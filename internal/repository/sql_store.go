package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"shopsync/internal/model"

	"github.com/rs/zerolog"
)

// dialect holds the SQL differences between the supported databases.
type dialect struct {
	name string

	// placeholder returns the n-th (1-based) bind parameter.
	placeholder func(n int) string

	// quote quotes an identifier.
	quote func(ident string) string

	// upsert returns the conflict clause that overwrites cols.
	upsert func(keyCols, cols []string) string

	// schema returns the DDL statements for the tables.
	schema func(t Tables) []string
}

func questionPlaceholder(int) string { return "?" }

func onConflictUpsert(keyCols, cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = excluded." + c
	}
	return " ON CONFLICT (" + strings.Join(keyCols, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// SQLStore implements ShopDataStore on database/sql for SQLite, PostgreSQL
// and MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	tables  Tables
	logger  zerolog.Logger

	// serialize is set for SQLite, which allows a single writer.
	serialize bool
	mu        sync.RWMutex

	priceUpsert    string
	stockUpsert    string
	rotationUpsert string

	priceUpdate    string
	stockUpdate    string
	rotationUpdate string
}

var _ ShopDataStore = (*SQLStore)(nil)

var (
	priceKeyCols    = []string{"shop_id", "product_id"}
	priceValueCols  = []string{"last_buy_price", "last_sell_price", "last_updated", "expire_date", "purchases", "sales"}
	stockKeyCols    = []string{"shop_id", "product_id", "holder"}
	stockValueCols  = []string{"buy_stock", "sell_stock", "restock_date"}
	rotationKeyCols = []string{"shop_id", "rotation_id"}
	rotationValCols = []string{"next_rotation_date", "products"}
)

func newSQLStore(db *sql.DB, d dialect, tables Tables, logger zerolog.Logger) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: d,
		tables:  tables.withDefaults(),
		logger:  logger,
	}

	if err := s.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s.priceUpsert = s.upsertQuery(s.tables.Prices, priceKeyCols, priceValueCols)
	s.stockUpsert = s.upsertQuery(s.tables.Stocks, stockKeyCols, stockValueCols)
	s.rotationUpsert = s.upsertQuery(s.tables.Rotations, rotationKeyCols, rotationValCols)
	s.priceUpdate = s.updateQuery(s.tables.Prices, priceKeyCols, priceValueCols)
	s.stockUpdate = s.updateQuery(s.tables.Stocks, stockKeyCols, stockValueCols)
	s.rotationUpdate = s.updateQuery(s.tables.Rotations, rotationKeyCols, rotationValCols)
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema(s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) upsertQuery(table string, keyCols, valueCols []string) string {
	cols := append(append([]string{}, keyCols...), valueCols...)
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = s.dialect.placeholder(i + 1)
	}
	return "INSERT INTO " + s.dialect.quote(table) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")" +
		s.dialect.upsert(keyCols, valueCols)
}

// updateQuery builds an UPDATE that binds the value columns first and the
// key columns last. Rows that no longer exist are left alone.
func (s *SQLStore) updateQuery(table string, keyCols, valueCols []string) string {
	sets := make([]string, len(valueCols))
	for i, c := range valueCols {
		sets[i] = c + " = " + s.dialect.placeholder(i+1)
	}
	conds := make([]string, len(keyCols))
	for i, c := range keyCols {
		conds[i] = c + " = " + s.dialect.placeholder(len(valueCols)+i+1)
	}
	return "UPDATE " + s.dialect.quote(table) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(conds, " AND ")
}

func priceArgs(r model.PriceRecord) (keys, values []any) {
	return []any{r.ShopID, r.ProductID},
		[]any{r.LatestBuyPrice, r.LatestSellPrice, r.LatestUpdateDate, r.ExpireDate, r.Purchases, r.Sales}
}

func stockArgs(r model.StockRecord) (keys, values []any) {
	return []any{r.ShopID, r.ProductID, r.Holder},
		[]any{r.BuyStock, r.SellStock, r.RestockDate}
}

func rotationArgs(r model.RotationRecord) (keys, values []any, err error) {
	products, err := json.Marshal(r.Products)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode rotation products %s: %w", r.Key(), err)
	}
	return []any{r.ShopID, r.RotationID}, []any{r.NextRotationDate, string(products)}, nil
}

func (s *SQLStore) lock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *SQLStore) rlock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// LoadPriceDatas reads every price record.
func (s *SQLStore) LoadPriceDatas(ctx context.Context) ([]model.PriceRecord, error) {
	defer s.rlock()()

	query := "SELECT shop_id, product_id, last_buy_price, last_sell_price, last_updated, expire_date, purchases, sales FROM " +
		s.dialect.quote(s.tables.Prices)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load price data: %w", err)
	}
	defer rows.Close()

	var out []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		if err := rows.Scan(&r.ShopID, &r.ProductID, &r.LatestBuyPrice, &r.LatestSellPrice,
			&r.LatestUpdateDate, &r.ExpireDate, &r.Purchases, &r.Sales); err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price data: %w", err)
	}
	return out, nil
}

// LoadStockDatas reads every stock record.
func (s *SQLStore) LoadStockDatas(ctx context.Context) ([]model.StockRecord, error) {
	defer s.rlock()()

	query := "SELECT shop_id, product_id, holder, buy_stock, sell_stock, restock_date FROM " +
		s.dialect.quote(s.tables.Stocks)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock data: %w", err)
	}
	defer rows.Close()

	var out []model.StockRecord
	for rows.Next() {
		var r model.StockRecord
		if err := rows.Scan(&r.ShopID, &r.ProductID, &r.Holder, &r.BuyStock, &r.SellStock, &r.RestockDate); err != nil {
			return nil, fmt.Errorf("failed to scan stock data: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock data: %w", err)
	}
	return out, nil
}

// LoadRotationDatas reads every rotation record. Rows with undecodable
// products are skipped.
func (s *SQLStore) LoadRotationDatas(ctx context.Context) ([]model.RotationRecord, error) {
	defer s.rlock()()

	query := "SELECT shop_id, rotation_id, next_rotation_date, products FROM " +
		s.dialect.quote(s.tables.Rotations)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation data: %w", err)
	}
	defer rows.Close()

	var out []model.RotationRecord
	for rows.Next() {
		var (
			r        model.RotationRecord
			products string
		)
		if err := rows.Scan(&r.ShopID, &r.RotationID, &r.NextRotationDate, &products); err != nil {
			return nil, fmt.Errorf("failed to scan rotation data: %w", err)
		}
		if products != "" {
			if err := json.Unmarshal([]byte(products), &r.Products); err != nil {
				s.logger.Warn().Err(err).Str("shop", r.ShopID).Str("rotation", r.RotationID).
					Msg("skipping rotation with invalid products")
				continue
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rotation data: %w", err)
	}
	return out, nil
}

// InsertPriceData writes a new price record, overwriting a row with the
// same key.
func (s *SQLStore) InsertPriceData(ctx context.Context, rec model.PriceRecord) error {
	keys, values := priceArgs(rec)
	return s.exec(ctx, s.priceUpsert, append(keys, values...), "insert price data "+rec.Key().String())
}

func (s *SQLStore) InsertStockData(ctx context.Context, rec model.StockRecord) error {
	keys, values := stockArgs(rec)
	return s.exec(ctx, s.stockUpsert, append(keys, values...), "insert stock data "+rec.Key().String())
}

func (s *SQLStore) InsertRotationData(ctx context.Context, rec model.RotationRecord) error {
	keys, values, err := rotationArgs(rec)
	if err != nil {
		return err
	}
	return s.exec(ctx, s.rotationUpsert, append(keys, values...), "insert rotation data "+rec.Key().String())
}

func (s *SQLStore) exec(ctx context.Context, query string, args []any, what string) error {
	defer s.lock()()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

// batch runs exec for every item inside one transaction with a prepared
// statement.
func (s *SQLStore) batch(ctx context.Context, query string, n int, exec func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}
	defer s.lock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdatePriceDatas overwrites existing price rows. Records without a row
// are skipped so a flush racing a delete cannot bring the row back.
func (s *SQLStore) UpdatePriceDatas(ctx context.Context, recs []model.PriceRecord) error {
	return s.batch(ctx, s.priceUpdate, len(recs), func(stmt *sql.Stmt, i int) error {
		keys, values := priceArgs(recs[i])
		if _, err := stmt.ExecContext(ctx, append(values, keys...)...); err != nil {
			return fmt.Errorf("failed to update price data %s: %w", recs[i].Key(), err)
		}
		return nil
	})
}

// UpdateStockDatas overwrites existing stock rows.
func (s *SQLStore) UpdateStockDatas(ctx context.Context, recs []model.StockRecord) error {
	return s.batch(ctx, s.stockUpdate, len(recs), func(stmt *sql.Stmt, i int) error {
		keys, values := stockArgs(recs[i])
		if _, err := stmt.ExecContext(ctx, append(values, keys...)...); err != nil {
			return fmt.Errorf("failed to update stock data %s: %w", recs[i].Key(), err)
		}
		return nil
	})
}

// UpdateRotationDatas overwrites existing rotation rows.
func (s *SQLStore) UpdateRotationDatas(ctx context.Context, recs []model.RotationRecord) error {
	return s.batch(ctx, s.rotationUpdate, len(recs), func(stmt *sql.Stmt, i int) error {
		keys, values, err := rotationArgs(recs[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, append(values, keys...)...); err != nil {
			return fmt.Errorf("failed to update rotation data %s: %w", recs[i].Key(), err)
		}
		return nil
	})
}

// deleteWhere removes rows whose columns match the values case-insensitively.
func (s *SQLStore) deleteWhere(ctx context.Context, table string, cols []string, values ...any) error {
	defer s.lock()()

	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = "LOWER(" + c + ") = LOWER(" + s.dialect.placeholder(i+1) + ")"
	}
	query := "DELETE FROM " + s.dialect.quote(table) + " WHERE " + strings.Join(conds, " AND ")
	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) DeletePriceDataByShop(ctx context.Context, shopID string) error {
	return s.deleteWhere(ctx, s.tables.Prices, []string{"shop_id"}, shopID)
}

func (s *SQLStore) DeletePriceDataByProduct(ctx context.Context, shopID, productID string) error {
	return s.deleteWhere(ctx, s.tables.Prices, []string{"shop_id", "product_id"}, shopID, productID)
}

func (s *SQLStore) DeleteStockDataByShop(ctx context.Context, shopID string) error {
	return s.deleteWhere(ctx, s.tables.Stocks, []string{"shop_id"}, shopID)
}

func (s *SQLStore) DeleteStockDataByProduct(ctx context.Context, shopID, productID string) error {
	return s.deleteWhere(ctx, s.tables.Stocks, []string{"shop_id", "product_id"}, shopID, productID)
}

func (s *SQLStore) DeleteRotationDataByShop(ctx context.Context, shopID string) error {
	return s.deleteWhere(ctx, s.tables.Rotations, []string{"shop_id"}, shopID)
}

func (s *SQLStore) DeleteRotationDataByRotation(ctx context.Context, shopID, rotationID string) error {
	return s.deleteWhere(ctx, s.tables.Rotations, []string{"shop_id", "rotation_id"}, shopID, rotationID)
}

// GetStats returns row counts and connection pool statistics.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	defer s.rlock()()

	stats := map[string]interface{}{"driver": s.dialect.name}
	for label, table := range map[string]string{
		"price_rows":    s.tables.Prices,
		"stock_rows":    s.tables.Stocks,
		"rotation_rows": s.tables.Rotations,
	} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.quote(table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[label] = count
	}

	dbStats := s.db.Stats()
	stats["connections"] = map[string]int{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
