// Package processor runs the periodic price and stock maintenance of a node:
// read-only scans produce a Batch, which is then applied on the state
// executor.
package processor

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"shopsync/internal/model"
	"shopsync/internal/pricer"
	"shopsync/internal/shop"
)

// Reprice is a computed quote waiting to be written to a product.
type Reprice struct {
	Product *shop.Product
	Quote   pricer.Quote
}

// Batch collects the outcome of one processor run. Entries can only be
// added, never removed, and the snapshot accessors return copies.
type Batch struct {
	mu      sync.RWMutex
	shops   map[string]*shop.Shop
	reprice map[model.ProductKey]Reprice
	restock map[model.ProductKey]*shop.Product
	prices  map[model.ProductKey]*model.PriceData
	stocks  map[model.ProductKey]*model.StockData
}

func NewBatch() *Batch {
	return &Batch{
		shops:   make(map[string]*shop.Shop),
		reprice: make(map[model.ProductKey]Reprice),
		restock: make(map[model.ProductKey]*shop.Product),
		prices:  make(map[model.ProductKey]*model.PriceData),
		stocks:  make(map[model.ProductKey]*model.StockData),
	}
}

// AddShop flags a shop for refresh. It reports false when the shop was
// already in the batch.
func (b *Batch) AddShop(s *shop.Shop) bool {
	id := strings.ToLower(s.ID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.shops[id]; ok {
		return false
	}
	b.shops[id] = s
	return true
}

func (b *Batch) AddReprice(p *shop.Product, q pricer.Quote) bool {
	key := p.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reprice[key]; ok {
		return false
	}
	b.reprice[key] = Reprice{Product: p, Quote: q}
	return true
}

func (b *Batch) AddRestock(p *shop.Product) bool {
	key := p.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.restock[key]; ok {
		return false
	}
	b.restock[key] = p
	return true
}

func (b *Batch) AddPriceData(d *model.PriceData) bool {
	key := d.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.prices[key]; ok {
		return false
	}
	b.prices[key] = d
	return true
}

func (b *Batch) AddStockData(d *model.StockData) bool {
	key := d.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.stocks[key]; ok {
		return false
	}
	b.stocks[key] = d
	return true
}

// Shops returns the shops to refresh ordered by id.
func (b *Batch) Shops() []*shop.Shop {
	b.mu.RLock()
	out := make([]*shop.Shop, 0, len(b.shops))
	for _, s := range b.shops {
		out = append(out, s)
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y *shop.Shop) int { return cmp.Compare(strings.ToLower(x.ID), strings.ToLower(y.ID)) })
	return out
}

// Reprices returns the computed quotes ordered by product key.
func (b *Batch) Reprices() []Reprice {
	b.mu.RLock()
	out := make([]Reprice, 0, len(b.reprice))
	for _, r := range b.reprice {
		out = append(out, r)
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y Reprice) int { return cmp.Compare(x.Product.Key().String(), y.Product.Key().String()) })
	return out
}

// Restocks returns the products to restock ordered by key.
func (b *Batch) Restocks() []*shop.Product {
	b.mu.RLock()
	out := make([]*shop.Product, 0, len(b.restock))
	for _, p := range b.restock {
		out = append(out, p)
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y *shop.Product) int { return cmp.Compare(x.Key().String(), y.Key().String()) })
	return out
}

func (b *Batch) PriceDatas() []*model.PriceData {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.PriceData, 0, len(b.prices))
	for _, d := range b.prices {
		out = append(out, d)
	}
	return out
}

func (b *Batch) StockDatas() []*model.StockData {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.StockData, 0, len(b.stocks))
	for _, d := range b.stocks {
		out = append(out, d)
	}
	return out
}

// HasUpdates reports whether the batch holds anything to apply or save.
func (b *Batch) HasUpdates() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.shops)+len(b.reprice)+len(b.restock)+len(b.prices)+len(b.stocks) > 0
}

// Counts is the size of each set of a batch.
type Counts struct {
	Shops    int `json:"shops"`
	Reprices int `json:"reprices"`
	Restocks int `json:"restocks"`
	Prices   int `json:"prices"`
	Stocks   int `json:"stocks"`
}

func (b *Batch) Counts() Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Counts{
		Shops:    len(b.shops),
		Reprices: len(b.reprice),
		Restocks: len(b.restock),
		Prices:   len(b.prices),
		Stocks:   len(b.stocks),
	}
}
