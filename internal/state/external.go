package state

import (
	"context"

	"shopsync/internal/model"
)

// The ApplyExternal methods apply records and deletions received from other
// nodes. They never persist or publish. Upserts also refresh the cache so a
// get-or-create racing with the message finds the remote record.

// ApplyExternalPrice stores a price record received from another node.
func (m *Manager) ApplyExternalPrice(ctx context.Context, rec model.PriceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := rec.Key()
	if d, loaded := m.prices.LoadOrStore(key, model.NewPriceData(rec)); loaded {
		d.Replace(rec)
	}
	m.cache.PutPrice(ctx, rec)
	return nil
}

// ApplyExternalStock stores a stock record received from another node.
func (m *Manager) ApplyExternalStock(ctx context.Context, rec model.StockRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := rec.Key()
	if d, loaded := m.stocks.LoadOrStore(key, model.NewStockData(rec)); loaded {
		d.Replace(rec)
	}
	m.cache.PutStock(ctx, rec)
	return nil
}

// ApplyExternalRotation stores a rotation record received from another node.
func (m *Manager) ApplyExternalRotation(_ context.Context, rec model.RotationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := rec.Key()
	if d, loaded := m.rotations.LoadOrStore(key, model.NewRotationData(rec)); loaded {
		d.Replace(rec)
	}
	return nil
}

// ApplyExternalPriceDeleteByShop drops every price record of a shop.
func (m *Manager) ApplyExternalPriceDeleteByShop(ctx context.Context, shopID string) {
	m.removePrices(ctx, shopID, "")
}

// ApplyExternalPriceDeleteByProduct drops the price record of a product.
func (m *Manager) ApplyExternalPriceDeleteByProduct(ctx context.Context, shopID, productID string) {
	m.removePrices(ctx, shopID, productID)
}

// ApplyExternalStockDeleteByShop drops every stock record of a shop.
func (m *Manager) ApplyExternalStockDeleteByShop(ctx context.Context, shopID string) {
	m.removeStocks(ctx, shopID, "")
}

// ApplyExternalStockDeleteByProduct drops every stock record of a product.
func (m *Manager) ApplyExternalStockDeleteByProduct(ctx context.Context, shopID, productID string) {
	m.removeStocks(ctx, shopID, productID)
}

// ApplyExternalRotationDeleteByShop drops every rotation record of a shop.
func (m *Manager) ApplyExternalRotationDeleteByShop(_ context.Context, shopID string) {
	m.removeRotations(shopID, "")
}

// ApplyExternalRotationDeleteByRotation drops one rotation record.
func (m *Manager) ApplyExternalRotationDeleteByRotation(_ context.Context, shopID, rotationID string) {
	m.removeRotations(shopID, rotationID)
}

// removePrices drops price records of a shop, or of one product when
// productID is set, from the map and then the cache. Evicting last keeps a
// concurrent flush from seeding the cache with a deleted record.
func (m *Manager) removePrices(ctx context.Context, shopID, productID string) int {
	if productID == "" {
		n := m.prices.DeleteFunc(func(k model.ProductKey, _ *model.PriceData) bool {
			return k.IsShop(shopID)
		})
		m.cache.EvictShop(ctx, shopID)
		return n
	}
	n := m.prices.DeleteFunc(func(k model.ProductKey, _ *model.PriceData) bool {
		return k.IsProduct(shopID, productID)
	})
	m.cache.EvictProduct(ctx, shopID, productID)
	return n
}

func (m *Manager) removeStocks(ctx context.Context, shopID, productID string) int {
	if productID == "" {
		n := m.stocks.DeleteFunc(func(k model.ProductKey, _ *model.StockData) bool {
			return k.IsShop(shopID)
		})
		m.cache.EvictShop(ctx, shopID)
		return n
	}
	n := m.stocks.DeleteFunc(func(k model.ProductKey, _ *model.StockData) bool {
		return k.IsProduct(shopID, productID)
	})
	m.cache.EvictProduct(ctx, shopID, productID)
	return n
}

func (m *Manager) removeRotations(shopID, rotationID string) int {
	if rotationID == "" {
		return m.rotations.DeleteFunc(func(k model.RotationKey, _ *model.RotationData) bool {
			return k.IsShop(shopID)
		})
	}
	key := model.NewRotationKey(shopID, rotationID)
	return m.rotations.DeleteFunc(func(k model.RotationKey, _ *model.RotationData) bool {
		return k == key
	})
}
