// Package pricer holds the price strategies of shop products and the
// recomputation rules the batch processor applies to expired price records.
package pricer

import (
	"time"

	"shopsync/internal/model"

	"github.com/shopspring/decimal"
)

// Type names a price strategy.
type Type string

const (
	TypeFlat         Type = "FLAT"
	TypeFloat        Type = "FLOAT"
	TypeDynamic      Type = "DYNAMIC"
	TypePlayerAmount Type = "PLAYER_AMOUNT"
)

// Pricer is the price strategy of a product.
type Pricer interface {
	Type() Type
	// InitialPrice is the price shown before any recomputation happened.
	InitialPrice(trade model.TradeType) float64
}

// Quote is the outcome of a price recomputation.
type Quote struct {
	Buy        float64
	Sell       float64
	ExpireDate int64
}

// Recomputes reports whether records of this pricer are recomputed by the
// processor. Flat and per-player-amount prices never are.
func Recomputes(p Pricer) bool {
	if p == nil {
		return false
	}
	switch p.Type() {
	case TypeFlat, TypePlayerAmount:
		return false
	}
	return true
}

// Recompute derives a new quote for rec. The second result is false when the
// pricer does not recompute prices.
func Recompute(p Pricer, rec model.PriceRecord, now time.Time) (Quote, bool) {
	var q Quote
	switch pr := p.(type) {
	case *Float:
		q = Quote{
			Buy:        pr.Roll(model.Buy, rec.LatestBuyPrice),
			Sell:       pr.Roll(model.Sell, rec.LatestSellPrice),
			ExpireDate: pr.NextTimestamp(now),
		}
	case *Dynamic:
		difference := float64(rec.Purchases - rec.Sales)
		q = Quote{
			Buy:        pr.AdjustedPrice(model.Buy, difference),
			Sell:       pr.AdjustedPrice(model.Sell, difference),
			ExpireDate: model.NeverExpires,
		}
	default:
		return Quote{}, false
	}
	q.Sell = ClampSell(q.Buy, q.Sell)
	return q, true
}

// ClampSell enforces that the sell price never exceeds a set buy price.
func ClampSell(buy, sell float64) float64 {
	if buy >= 0 && sell > buy {
		return buy
	}
	return sell
}

func round(v float64, places int32) float64 {
	if places < 0 {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Flat is a fixed price.
type Flat struct {
	BuyPrice  float64
	SellPrice float64
}

func (f *Flat) Type() Type { return TypeFlat }

func (f *Flat) InitialPrice(trade model.TradeType) float64 {
	if trade == model.Sell {
		return f.SellPrice
	}
	return f.BuyPrice
}

// PlayerAmount prices scale with the amount a player trades and are computed
// at trade time, outside of the processor.
type PlayerAmount struct {
	BuyPrice  float64
	SellPrice float64
	Step      float64
}

func (p *PlayerAmount) Type() Type { return TypePlayerAmount }

func (p *PlayerAmount) InitialPrice(trade model.TradeType) float64 {
	if trade == model.Sell {
		return p.SellPrice
	}
	return p.BuyPrice
}

// PriceFor returns the unit price after the player already traded amount units.
func (p *PlayerAmount) PriceFor(trade model.TradeType, amount int) float64 {
	return p.InitialPrice(trade) + p.Step*float64(amount)
}
