package cache

import (
	"context"

	"shopsync/internal/model"
)

// Kind separates price and stock entries that share a product key.
type Kind string

const (
	KindPrice Kind = "price"
	KindStock Kind = "stock"
)

// RecordCache is the short-lived pull-through cache consulted by the state
// manager before it synthesizes a new record. Entries are values, never the
// live records held by the manager.
//
// Implementations treat backend failures as misses.
type RecordCache interface {
	// GetPrice returns a price record inserted within the TTL.
	GetPrice(ctx context.Context, key model.ProductKey) (model.PriceRecord, bool)

	// PutPrice inserts or refreshes a price record.
	PutPrice(ctx context.Context, rec model.PriceRecord)

	// GetStock returns a stock record inserted within the TTL.
	GetStock(ctx context.Context, key model.ProductKey) (model.StockRecord, bool)

	// PutStock inserts or refreshes a stock record.
	PutStock(ctx context.Context, rec model.StockRecord)

	// EvictShop removes every entry of a shop.
	EvictShop(ctx context.Context, shopID string)

	// EvictProduct removes every entry of a shop product, all holders included.
	EvictProduct(ctx context.Context, shopID, productID string)

	// Clear removes all entries.
	Clear(ctx context.Context)

	// Len returns the number of entries held locally.
	Len() int
}
