package cache

import (
	"context"

	"shopsync/internal/model"
)

// Layered reads through a local cache first and a shared cache second.
// Shared hits are copied into the local cache; writes go to both.
type Layered struct {
	local  RecordCache
	shared RecordCache
}

var _ RecordCache = (*Layered)(nil)

// NewLayered combines a local and a shared cache.
func NewLayered(local, shared RecordCache) *Layered {
	return &Layered{local: local, shared: shared}
}

func (l *Layered) GetPrice(ctx context.Context, key model.ProductKey) (model.PriceRecord, bool) {
	if rec, ok := l.local.GetPrice(ctx, key); ok {
		return rec, true
	}
	rec, ok := l.shared.GetPrice(ctx, key)
	if ok {
		l.local.PutPrice(ctx, rec)
	}
	return rec, ok
}

func (l *Layered) PutPrice(ctx context.Context, rec model.PriceRecord) {
	l.local.PutPrice(ctx, rec)
	l.shared.PutPrice(ctx, rec)
}

func (l *Layered) GetStock(ctx context.Context, key model.ProductKey) (model.StockRecord, bool) {
	if rec, ok := l.local.GetStock(ctx, key); ok {
		return rec, true
	}
	rec, ok := l.shared.GetStock(ctx, key)
	if ok {
		l.local.PutStock(ctx, rec)
	}
	return rec, ok
}

func (l *Layered) PutStock(ctx context.Context, rec model.StockRecord) {
	l.local.PutStock(ctx, rec)
	l.shared.PutStock(ctx, rec)
}

func (l *Layered) EvictShop(ctx context.Context, shopID string) {
	l.local.EvictShop(ctx, shopID)
	l.shared.EvictShop(ctx, shopID)
}

func (l *Layered) EvictProduct(ctx context.Context, shopID, productID string) {
	l.local.EvictProduct(ctx, shopID, productID)
	l.shared.EvictProduct(ctx, shopID, productID)
}

func (l *Layered) Clear(ctx context.Context) {
	l.local.Clear(ctx)
	l.shared.Clear(ctx)
}

func (l *Layered) Len() int {
	return l.local.Len()
}
