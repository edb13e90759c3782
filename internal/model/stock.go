package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// StockLimits is the configured stock of a product for one holder scope.
type StockLimits struct {
	BuyInitial      int           `json:"buyInitial"`
	SellInitial     int           `json:"sellInitial"`
	RestockCooldown time.Duration `json:"restockCooldown"`
}

// NextRestock returns the restock date following now, or 0 when the stock
// never restocks on its own.
func (l StockLimits) NextRestock(now int64) int64 {
	if l.RestockCooldown <= 0 {
		return 0
	}
	return now + l.RestockCooldown.Milliseconds()
}

// StockRecord is the persisted and replicated form of a stock entry.
type StockRecord struct {
	ShopID      string `json:"shopId" bson:"shop_id"`
	ProductID   string `json:"productId" bson:"product_id"`
	Holder      string `json:"holder" bson:"holder"`
	BuyStock    int    `json:"buyStock" bson:"buy_stock"`
	SellStock   int    `json:"sellStock" bson:"sell_stock"`
	RestockDate int64  `json:"restockDate" bson:"restock_date"`
}

func (r StockRecord) Key() ProductKey {
	return NewProductKey(r.ShopID, r.ProductID, r.Holder)
}

// Validate checks the identity fields.
func (r StockRecord) Validate() error {
	if r.ShopID == "" {
		return ErrMissingShopID
	}
	if r.ProductID == "" {
		return ErrMissingProductID
	}
	if r.Holder == "" {
		return ErrMissingHolder
	}
	return nil
}

// IsRestockTime reports whether a restock is due at now (Unix ms). The
// boundary is inclusive.
func (r StockRecord) IsRestockTime(now int64) bool {
	return r.RestockDate > 0 && now >= r.RestockDate
}

// Stock returns the amount available on the given side.
func (r StockRecord) Stock(trade TradeType) int {
	if trade == Sell {
		return r.SellStock
	}
	return r.BuyStock
}

// StockData is the live, in-memory stock entry of a product for one holder.
type StockData struct {
	mu    sync.RWMutex
	rec   StockRecord
	dirty atomic.Bool
}

// NewStockData wraps a loaded record. The record starts clean.
func NewStockData(rec StockRecord) *StockData {
	return &StockData{rec: rec}
}

// CreateStockData synthesizes a full stock entry from the configured limits.
func CreateStockData(shopID, productID, holder string, limits StockLimits, now int64) *StockData {
	d := NewStockData(StockRecord{
		ShopID:      shopID,
		ProductID:   productID,
		Holder:      holder,
		BuyStock:    max(limits.BuyInitial, 0),
		SellStock:   max(limits.SellInitial, 0),
		RestockDate: limits.NextRestock(now),
	})
	d.dirty.Store(true)
	return d
}

func (d *StockData) Key() ProductKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec.Key()
}

// Record returns a copy of the current values.
func (d *StockData) Record() StockRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec
}

// Replace overwrites the values with a record received from another node.
// The record ends up clean: the originating node persists it.
func (d *StockData) Replace(rec StockRecord) {
	d.mu.Lock()
	d.rec = rec
	d.mu.Unlock()
	d.dirty.Store(false)
}

// Update mutates the record and marks it dirty.
func (d *StockData) Update(fn func(r *StockRecord)) {
	d.mu.Lock()
	fn(&d.rec)
	d.mu.Unlock()
	d.dirty.Store(true)
}

func (d *StockData) IsRestockTime(now int64) bool {
	return d.Record().IsRestockTime(now)
}

// Restock refills both sides to the limits and schedules the next restock.
func (d *StockData) Restock(limits StockLimits, now int64) {
	d.Update(func(r *StockRecord) {
		r.BuyStock = max(limits.BuyInitial, 0)
		r.SellStock = max(limits.SellInitial, 0)
		r.RestockDate = limits.NextRestock(now)
	})
}

// RestockSide refills one side only and schedules the next restock.
func (d *StockData) RestockSide(trade TradeType, limits StockLimits, now int64) {
	d.Update(func(r *StockRecord) {
		if trade == Sell {
			r.SellStock = max(limits.SellInitial, 0)
		} else {
			r.BuyStock = max(limits.BuyInitial, 0)
		}
		r.RestockDate = limits.NextRestock(now)
	})
}

// SetExpired makes the entry due for restock at now.
func (d *StockData) SetExpired(now int64) {
	d.Update(func(r *StockRecord) {
		r.RestockDate = now
	})
}

// Consume takes amount units from one side. Stock never goes below zero.
func (d *StockData) Consume(trade TradeType, amount int) {
	d.Update(func(r *StockRecord) {
		if trade == Sell {
			r.SellStock = max(r.SellStock-amount, 0)
		} else {
			r.BuyStock = max(r.BuyStock-amount, 0)
		}
	})
}

func (d *StockData) IsDirty() bool { return d.dirty.Load() }

func (d *StockData) MarkDirty() { d.dirty.Store(true) }

// TakeDirty clears the dirty flag and reports whether it was set.
func (d *StockData) TakeDirty() bool { return d.dirty.CompareAndSwap(true, false) }
