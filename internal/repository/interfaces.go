package repository

import (
	"context"

	"shopsync/internal/model"
)

// ShopDataStore is the backing store of price, stock and rotation records.
//
// Insert and Update calls are upserts keyed on the record identity. Delete
// calls match ids case-insensitively.
type ShopDataStore interface {
	LoadPriceDatas(ctx context.Context) ([]model.PriceRecord, error)
	LoadStockDatas(ctx context.Context) ([]model.StockRecord, error)
	LoadRotationDatas(ctx context.Context) ([]model.RotationRecord, error)

	InsertPriceData(ctx context.Context, rec model.PriceRecord) error
	InsertStockData(ctx context.Context, rec model.StockRecord) error
	InsertRotationData(ctx context.Context, rec model.RotationRecord) error

	// UpdatePriceDatas writes a batch of records in one transaction.
	UpdatePriceDatas(ctx context.Context, recs []model.PriceRecord) error
	UpdateStockDatas(ctx context.Context, recs []model.StockRecord) error
	UpdateRotationDatas(ctx context.Context, recs []model.RotationRecord) error

	DeletePriceDataByShop(ctx context.Context, shopID string) error
	DeletePriceDataByProduct(ctx context.Context, shopID, productID string) error
	DeleteStockDataByShop(ctx context.Context, shopID string) error
	DeleteStockDataByProduct(ctx context.Context, shopID, productID string) error
	DeleteRotationDataByShop(ctx context.Context, shopID string) error
	DeleteRotationDataByRotation(ctx context.Context, shopID, rotationID string) error

	// GetStats returns row counts and backend details.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the store connection.
	Close() error
}

// Tables names the three record tables (collections for MongoDB).
type Tables struct {
	Prices    string
	Stocks    string
	Rotations string
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{Prices: "price_data", Stocks: "stocks", Rotations: "rotations"}
}

func (t Tables) withDefaults() Tables {
	d := DefaultTables()
	if t.Prices == "" {
		t.Prices = d.Prices
	}
	if t.Stocks == "" {
		t.Stocks = d.Stocks
	}
	if t.Rotations == "" {
		t.Rotations = d.Rotations
	}
	return t
}
