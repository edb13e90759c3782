package state

import (
	"context"
	"fmt"
)

// Local deletions run on the pool. Each one removes rows from the store
// first, then drops in-memory and cached records, then tells the other
// nodes. A get-or-create issued while the store delete is in flight still
// sees the old record and loses it once memory is cleaned up.

// DeleteShopData removes all price, stock and rotation records of a shop.
func (m *Manager) DeleteShopData(shopID string) {
	m.background("delete_shop", func(ctx context.Context) error {
		return m.deleteShopData(ctx, shopID)
	})
}

func (m *Manager) deleteShopData(ctx context.Context, shopID string) error {
	if err := m.store.DeletePriceDataByShop(ctx, shopID); err != nil {
		return fmt.Errorf("failed to delete price data of shop %s: %w", shopID, err)
	}
	if err := m.store.DeleteStockDataByShop(ctx, shopID); err != nil {
		return fmt.Errorf("failed to delete stock data of shop %s: %w", shopID, err)
	}
	if err := m.store.DeleteRotationDataByShop(ctx, shopID); err != nil {
		return fmt.Errorf("failed to delete rotation data of shop %s: %w", shopID, err)
	}

	prices := m.removePrices(ctx, shopID, "")
	stocks := m.removeStocks(ctx, shopID, "")
	rotations := m.removeRotations(shopID, "")

	p := m.pub()
	p.PublishPriceDeleteByShop(shopID)
	p.PublishStockDeleteByShop(shopID)
	p.PublishRotationDeleteByShop(shopID)

	m.logger.Info().
		Str("shop", shopID).
		Int("prices", prices).
		Int("stocks", stocks).
		Int("rotations", rotations).
		Msg("deleted shop data")
	return nil
}

// DeletePriceData removes the price record of a product.
func (m *Manager) DeletePriceData(shopID, productID string) {
	m.background("delete_price", func(ctx context.Context) error {
		if err := m.store.DeletePriceDataByProduct(ctx, shopID, productID); err != nil {
			return fmt.Errorf("failed to delete price data of %s/%s: %w", shopID, productID, err)
		}
		m.removePrices(ctx, shopID, productID)
		m.pub().PublishPriceDeleteByProduct(shopID, productID)
		return nil
	})
}

// DeleteStockData removes every stock record of a product, personal
// records included.
func (m *Manager) DeleteStockData(shopID, productID string) {
	m.background("delete_stock", func(ctx context.Context) error {
		if err := m.store.DeleteStockDataByProduct(ctx, shopID, productID); err != nil {
			return fmt.Errorf("failed to delete stock data of %s/%s: %w", shopID, productID, err)
		}
		m.removeStocks(ctx, shopID, productID)
		m.pub().PublishStockDeleteByProduct(shopID, productID)
		return nil
	})
}

// DeleteRotationData removes a rotation record.
func (m *Manager) DeleteRotationData(shopID, rotationID string) {
	m.background("delete_rotation", func(ctx context.Context) error {
		if err := m.store.DeleteRotationDataByRotation(ctx, shopID, rotationID); err != nil {
			return fmt.Errorf("failed to delete rotation data of %s/%s: %w", shopID, rotationID, err)
		}
		m.removeRotations(shopID, rotationID)
		m.pub().PublishRotationDeleteByRotation(shopID, rotationID)
		return nil
	})
}
