// Package shop holds the live shops and products a node serves and the
// domain mutations the batch processor applies to them.
package shop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/pricer"
)

const defaultRotationInterval = 24 * time.Hour

// ErrOutOfStock is returned when a trade asks for more than the stock holds.
var ErrOutOfStock = errors.New("out of stock")

// States is the part of the state manager shops work with.
type States interface {
	GetPriceData(shopID, productID string) (*model.PriceData, bool)
	GetOrCreatePriceData(ctx context.Context, shopID, productID string) *model.PriceData
	GetOrCreateStockData(ctx context.Context, shopID, productID, holder string, limits model.StockLimits) *model.StockData
	StockDatas() []*model.StockData
	GetRotationData(shopID, rotationID string) (*model.RotationData, bool)
	GetOrCreateRotationData(ctx context.Context, shopID, rotationID string) *model.RotationData
	DeleteShopData(shopID string)
}

// Shop is a live shop with its products and rotations.
type Shop struct {
	ID string

	states    States
	products  map[string]*Product
	order     []*Product
	rotations []*Rotation
	refreshed atomic.Int64
}

func newShop(cfg ShopConfig, states States) (*Shop, error) {
	s := &Shop{
		ID:       cfg.ID,
		states:   states,
		products: make(map[string]*Product, len(cfg.Products)),
	}

	for _, pc := range cfg.Products {
		pr, err := pc.Pricer.Build()
		if err != nil {
			return nil, fmt.Errorf("shop %s product %s: %w", cfg.ID, pc.ID, err)
		}
		limits, err := pc.Stock.limits()
		if err != nil {
			return nil, fmt.Errorf("shop %s product %s: %w", cfg.ID, pc.ID, err)
		}
		p := &Product{
			ID:       pc.ID,
			Pricer:   pr,
			Limits:   limits,
			Personal: pc.Stock.Personal,
			shop:     s,
		}
		s.products[strings.ToLower(pc.ID)] = p
		s.order = append(s.order, p)
	}

	for _, rc := range cfg.Rotations {
		interval := defaultRotationInterval
		if rc.Interval != "" {
			d, err := time.ParseDuration(rc.Interval)
			if err != nil {
				return nil, fmt.Errorf("shop %s rotation %s: invalid interval %q: %w", cfg.ID, rc.ID, rc.Interval, err)
			}
			interval = d
		}
		s.rotations = append(s.rotations, &Rotation{
			ID:       rc.ID,
			Slots:    rc.Slots,
			Interval: interval,
			Pool:     slices.Clone(rc.Products),
			shop:     s,
		})
	}
	return s, nil
}

// Product returns a product by id, ignoring case.
func (s *Shop) Product(id string) (*Product, bool) {
	p, ok := s.products[strings.ToLower(id)]
	return p, ok
}

// Products returns the products in catalog order.
func (s *Shop) Products() []*Product {
	return slices.Clone(s.order)
}

func (s *Shop) Rotations() []*Rotation {
	return slices.Clone(s.rotations)
}

// NeedsUpdate reports whether a product price is expired or a rotation is
// due at now (Unix ms).
func (s *Shop) NeedsUpdate(now int64) bool {
	for _, p := range s.order {
		if p.NeedsPriceUpdate(now) {
			return true
		}
	}
	for _, r := range s.rotations {
		if r.Due(now) {
			return true
		}
	}
	return false
}

// UpdatePrices recomputes every expired product price and returns how many
// changed.
func (s *Shop) UpdatePrices(ctx context.Context, now time.Time) int {
	n := 0
	for _, p := range s.order {
		if p.NeedsPriceUpdate(now.UnixMilli()) && p.UpdatePrice(ctx, now) {
			n++
		}
	}
	return n
}

// Refresh rotates the due rotations and records the refresh time. It
// returns the number of rotations that moved.
func (s *Shop) Refresh(ctx context.Context, now time.Time) int {
	ms := now.UnixMilli()
	n := 0
	for _, r := range s.rotations {
		if r.Due(ms) {
			r.Rotate(ctx, ms)
			n++
		}
	}
	s.refreshed.Store(ms)
	return n
}

// RefreshedAt returns the time of the last refresh in Unix ms, or 0.
func (s *Shop) RefreshedAt() int64 { return s.refreshed.Load() }

// Product is a tradeable product of a shop.
type Product struct {
	ID       string
	Pricer   pricer.Pricer
	Limits   model.StockLimits
	Personal bool

	shop *Shop
}

func (p *Product) Shop() *Shop { return p.shop }

// Key returns the global key of the product.
func (p *Product) Key() model.ProductKey {
	return model.GlobalKey(p.shop.ID, p.ID)
}

// NeedsPriceUpdate reports whether the price must be recomputed at now
// (Unix ms). Products without a price record yet always do.
func (p *Product) NeedsPriceUpdate(now int64) bool {
	if !pricer.Recomputes(p.Pricer) {
		return false
	}
	d, ok := p.shop.states.GetPriceData(p.shop.ID, p.ID)
	return !ok || d.IsExpired(now)
}

// Quote computes a new price without touching the live record.
func (p *Product) Quote(now time.Time) (pricer.Quote, bool) {
	rec := model.PriceRecord{
		ShopID:          p.shop.ID,
		ProductID:       p.ID,
		LatestBuyPrice:  model.NoPrice,
		LatestSellPrice: model.NoPrice,
	}
	if d, ok := p.shop.states.GetPriceData(p.shop.ID, p.ID); ok {
		rec = d.Record()
	}
	return pricer.Recompute(p.Pricer, rec, now)
}

// ApplyQuote writes a computed quote to the price record and marks it dirty.
func (p *Product) ApplyQuote(ctx context.Context, q pricer.Quote, now time.Time) *model.PriceData {
	d := p.shop.states.GetOrCreatePriceData(ctx, p.shop.ID, p.ID)
	d.Update(func(r *model.PriceRecord) {
		r.LatestBuyPrice = q.Buy
		r.LatestSellPrice = pricer.ClampSell(q.Buy, q.Sell)
		r.LatestUpdateDate = now.UnixMilli()
		r.ExpireDate = q.ExpireDate
	})
	return d
}

// UpdatePrice recomputes and stores the price. It reports false for
// pricers that are never recomputed.
func (p *Product) UpdatePrice(ctx context.Context, now time.Time) bool {
	q, ok := p.Quote(now)
	if !ok {
		return false
	}
	p.ApplyQuote(ctx, q, now)
	return true
}

// Price returns the current unit price of one side.
func (p *Product) Price(trade model.TradeType) float64 {
	d, ok := p.shop.states.GetPriceData(p.shop.ID, p.ID)
	if !ok {
		return p.Pricer.InitialPrice(trade)
	}
	rec := d.Record()
	price := rec.LatestBuyPrice
	if trade == model.Sell {
		price = rec.LatestSellPrice
	}
	if price < 0 {
		return p.Pricer.InitialPrice(trade)
	}
	return price
}

// Holder returns the stock holder of a player: the player for personal
// stock, the shop otherwise.
func (p *Product) Holder(player string) string {
	if p.Personal && player != "" {
		return player
	}
	return p.shop.ID
}

// StockData returns the stock record a player trades against.
func (p *Product) StockData(ctx context.Context, player string) *model.StockData {
	return p.shop.states.GetOrCreateStockData(ctx, p.shop.ID, p.ID, p.Holder(player), p.Limits)
}

func (p *Product) limited(trade model.TradeType) bool {
	if trade == model.Sell {
		return p.Limits.SellInitial >= 0
	}
	return p.Limits.BuyInitial >= 0
}

// Trade records amount units bought from (Buy) or sold to (Sell) the shop
// by player and returns the total price.
func (p *Product) Trade(ctx context.Context, player string, trade model.TradeType, amount int) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid trade amount %d", amount)
	}

	if p.limited(trade) {
		stock := p.StockData(ctx, player)
		if stock.Record().Stock(trade) < amount {
			return 0, ErrOutOfStock
		}
		stock.Consume(trade, amount)
	}

	unit := p.Price(trade)
	if pa, ok := p.Pricer.(*pricer.PlayerAmount); ok {
		unit = pa.PriceFor(trade, amount)
	}

	p.shop.states.GetOrCreatePriceData(ctx, p.shop.ID, p.ID).CountTrade(trade, amount)
	return unit * float64(amount), nil
}

// Restock refills every stock record of the product that is due at now
// (Unix ms) and returns how many were refilled.
func (p *Product) Restock(ctx context.Context, now int64) int {
	n := 0
	for _, d := range p.shop.states.StockDatas() {
		if !d.Key().IsProduct(p.shop.ID, p.ID) || !d.IsRestockTime(now) {
			continue
		}
		d.Restock(p.Limits, now)
		n++
	}
	return n
}

// Rotation cycles a window of Slots products through Pool.
type Rotation struct {
	ID       string
	Slots    int
	Interval time.Duration
	Pool     []string

	shop *Shop
}

// Due reports whether the rotation must move at now (Unix ms).
func (r *Rotation) Due(now int64) bool {
	d, ok := r.shop.states.GetRotationData(r.shop.ID, r.ID)
	return !ok || d.IsRotationTime(now)
}

// Rotate shows the next window of products and schedules the following
// rotation.
func (r *Rotation) Rotate(ctx context.Context, now int64) map[int][]string {
	d := r.shop.states.GetOrCreateRotationData(ctx, r.shop.ID, r.ID)

	start := 0
	if ids := d.Record().Products[0]; len(ids) > 0 && len(r.Pool) > 0 {
		if idx := slices.Index(r.Pool, ids[0]); idx >= 0 {
			start = idx + r.Slots
		}
	}

	products := make(map[int][]string, r.Slots)
	for i := 0; i < r.Slots && len(r.Pool) > 0; i++ {
		products[i] = []string{r.Pool[(start+i)%len(r.Pool)]}
	}
	d.Rotate(products, now+r.Interval.Milliseconds())
	return products
}
