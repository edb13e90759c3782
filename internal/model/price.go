package model

import (
	"sync"
	"sync/atomic"
)

// NoPrice marks a price that has not been computed yet.
const NoPrice = -1.0

// NeverExpires is the expire date of records that are recomputed on every
// processor tick (dynamic pricing).
const NeverExpires int64 = -1

// PriceRecord is the persisted and replicated form of a product price.
// Dates are Unix milliseconds.
type PriceRecord struct {
	ShopID           string  `json:"shopId" bson:"shop_id"`
	ProductID        string  `json:"productId" bson:"product_id"`
	LatestBuyPrice   float64 `json:"latestBuyPrice" bson:"latest_buy_price"`
	LatestSellPrice  float64 `json:"latestSellPrice" bson:"latest_sell_price"`
	LatestUpdateDate int64   `json:"latestUpdateDate" bson:"latest_update_date"`
	ExpireDate       int64   `json:"expireDate" bson:"expire_date"`
	Purchases        int     `json:"purchases" bson:"purchases"`
	Sales            int     `json:"sales" bson:"sales"`
}

// Key returns the global product key of the record.
func (r PriceRecord) Key() ProductKey {
	return GlobalKey(r.ShopID, r.ProductID)
}

// Validate checks the identity fields.
func (r PriceRecord) Validate() error {
	if r.ShopID == "" {
		return ErrMissingShopID
	}
	if r.ProductID == "" {
		return ErrMissingProductID
	}
	return nil
}

// IsExpired reports whether the price must be recomputed at now (Unix ms).
// Records with a negative expire date are always eligible.
func (r PriceRecord) IsExpired(now int64) bool {
	return r.ExpireDate < 0 || now >= r.ExpireDate
}

// PriceData is the live, in-memory price record of a shop product.
type PriceData struct {
	mu    sync.RWMutex
	rec   PriceRecord
	dirty atomic.Bool
}

// NewPriceData wraps a loaded record. The record starts clean.
func NewPriceData(rec PriceRecord) *PriceData {
	return &PriceData{rec: rec}
}

// CreatePriceData synthesizes the default price record of a product. The
// record starts dirty and expired so the next processor tick computes it.
func CreatePriceData(shopID, productID string) *PriceData {
	d := NewPriceData(PriceRecord{
		ShopID:          shopID,
		ProductID:       productID,
		LatestBuyPrice:  NoPrice,
		LatestSellPrice: NoPrice,
	})
	d.dirty.Store(true)
	return d
}

func (d *PriceData) Key() ProductKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec.Key()
}

// Record returns a copy of the current values.
func (d *PriceData) Record() PriceRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec
}

// Replace overwrites the values with a record received from another node.
// The record ends up clean: the originating node persists it.
func (d *PriceData) Replace(rec PriceRecord) {
	d.mu.Lock()
	d.rec = rec
	d.mu.Unlock()
	d.dirty.Store(false)
}

// Update mutates the record and marks it dirty.
func (d *PriceData) Update(fn func(r *PriceRecord)) {
	d.mu.Lock()
	fn(&d.rec)
	d.mu.Unlock()
	d.dirty.Store(true)
}

// IsExpired reports whether the price must be recomputed at now (Unix ms).
func (d *PriceData) IsExpired(now int64) bool {
	return d.Record().IsExpired(now)
}

// Reset drops computed prices and trade counters.
func (d *PriceData) Reset() {
	d.Update(func(r *PriceRecord) {
		r.LatestBuyPrice = NoPrice
		r.LatestSellPrice = NoPrice
		r.LatestUpdateDate = 0
		r.ExpireDate = 0
		r.Purchases = 0
		r.Sales = 0
	})
}

// CountTrade records units bought from or sold to the shop, the inputs of
// demand driven pricing.
func (d *PriceData) CountTrade(trade TradeType, amount int) {
	d.Update(func(r *PriceRecord) {
		if trade == Buy {
			r.Purchases += amount
		} else {
			r.Sales += amount
		}
	})
}

func (d *PriceData) IsDirty() bool { return d.dirty.Load() }

func (d *PriceData) MarkDirty() { d.dirty.Store(true) }

// TakeDirty clears the dirty flag and reports whether it was set.
func (d *PriceData) TakeDirty() bool { return d.dirty.CompareAndSwap(true, false) }
