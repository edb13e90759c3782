package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/observability"
	"shopsync/internal/pricer"
	"shopsync/internal/shop"
	"shopsync/internal/state"

	"github.com/rs/zerolog"
)

// Shops is the shop catalog the processor scans.
type Shops interface {
	Shops() []*shop.Shop
	Product(shopID, productID string) (*shop.Product, bool)
}

// States is the part of the state manager the processor reads and flushes.
type States interface {
	PriceDatas() []*model.PriceData
	StockDatas() []*model.StockData
	GetPriceData(shopID, productID string) (*model.PriceData, bool)
	Flush(ctx context.Context) state.FlushResult
}

// Processor scans shops for expired prices and due restocks.
type Processor struct {
	shops   Shops
	states  States
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func New(shops Shops, states States, logger zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		shops:   shops,
		states:  states,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process runs the four scans concurrently and returns their batch. A
// failing scan is logged and does not affect the others.
func (p *Processor) Process(ctx context.Context) *Batch {
	now := p.now()
	batch := NewBatch()

	scans := []struct {
		name string
		fn   func(context.Context, *Batch, time.Time)
	}{
		{"shop_update", p.scanShops},
		{"price_calculation", p.scanPrices},
		{"stock_restock", p.scanRestocks},
		{"data_saving", p.scanDirty},
	}

	var wg sync.WaitGroup
	for _, s := range scans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := guard(func() { s.fn(ctx, batch, now) }); err != nil {
				p.logger.Error().Err(err).Str("scan", s.name).Msg("processor scan failed")
			}
		}()
	}
	wg.Wait()
	return batch
}

func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}

func (p *Processor) scanShops(ctx context.Context, b *Batch, now time.Time) {
	ms := now.UnixMilli()
	for _, s := range p.shops.Shops() {
		if ctx.Err() != nil {
			return
		}
		if s.NeedsUpdate(ms) {
			b.AddShop(s)
		}
	}
}

func (p *Processor) scanPrices(ctx context.Context, b *Batch, now time.Time) {
	ms := now.UnixMilli()
	for _, s := range p.shops.Shops() {
		for _, prod := range s.Products() {
			if ctx.Err() != nil {
				return
			}
			if !pricer.Recomputes(prod.Pricer) || !prod.NeedsPriceUpdate(ms) {
				continue
			}
			q, ok := prod.Quote(now)
			if !ok {
				continue
			}
			b.AddReprice(prod, q)
			if d, ok := p.states.GetPriceData(s.ID, prod.ID); ok {
				b.AddPriceData(d)
			}
		}
	}
}

func (p *Processor) scanRestocks(ctx context.Context, b *Batch, now time.Time) {
	ms := now.UnixMilli()
	for _, d := range p.states.StockDatas() {
		if ctx.Err() != nil {
			return
		}
		if !d.IsRestockTime(ms) {
			continue
		}
		key := d.Key()
		if prod, ok := p.shops.Product(key.ShopID, key.ProductID); ok {
			b.AddRestock(prod)
		}
	}
}

func (p *Processor) scanDirty(_ context.Context, b *Batch, _ time.Time) {
	for _, d := range p.states.PriceDatas() {
		if d.IsDirty() {
			b.AddPriceData(d)
		}
	}
	for _, d := range p.states.StockDatas() {
		if d.IsDirty() {
			b.AddStockData(d)
		}
	}
}

// ApplyResult counts the outcome of applying a batch.
type ApplyResult struct {
	Repriced  int               `json:"repriced"`
	Restocked int               `json:"restocked"`
	Refreshed int               `json:"refreshed"`
	Failed    int               `json:"failed"`
	Flushed   state.FlushResult `json:"flushed"`
}

// Apply performs the domain mutations of a batch and hands the dirty
// records to the state manager. It must run on the state executor. A
// failing entry is logged and skipped.
func (p *Processor) Apply(ctx context.Context, b *Batch) ApplyResult {
	var res ApplyResult
	now := p.now()
	ms := now.UnixMilli()

	for _, r := range b.Reprices() {
		if p.applyItem("reprice", r.Product.Key().String(), func() { r.Product.ApplyQuote(ctx, r.Quote, now) }) {
			res.Repriced++
		} else {
			res.Failed++
		}
	}
	for _, prod := range b.Restocks() {
		if p.applyItem("restock", prod.Key().String(), func() { prod.Restock(ctx, ms) }) {
			res.Restocked++
		} else {
			res.Failed++
		}
	}
	for _, s := range b.Shops() {
		if p.applyItem("shop", s.ID, func() { s.Refresh(ctx, now) }) {
			res.Refreshed++
		} else {
			res.Failed++
		}
	}

	if b.HasUpdates() {
		res.Flushed = p.states.Flush(ctx)
	}
	return res
}

func (p *Processor) applyItem(kind, key string, fn func()) bool {
	err := guard(fn)
	p.metrics.ProcessorApplied(kind, err == nil)
	if err != nil {
		p.logger.Error().Err(err).Str("kind", kind).Str("key", key).Msg("failed to apply batch entry")
		return false
	}
	return true
}
