package pricer

import "shopsync/internal/model"

// DynamicSide configures one side of a demand driven price.
type DynamicSide struct {
	Initial float64
	Step    float64
	Min     float64
	Max     float64
}

// Dynamic moves prices with the balance of purchases and sales. A positive
// difference (more bought than sold) raises both prices.
type Dynamic struct {
	Buy      DynamicSide
	Sell     DynamicSide
	Decimals int32
}

func (d *Dynamic) Type() Type { return TypeDynamic }

func (d *Dynamic) InitialPrice(trade model.TradeType) float64 {
	return round(d.side(trade).Initial, d.Decimals)
}

func (d *Dynamic) side(trade model.TradeType) DynamicSide {
	if trade == model.Sell {
		return d.Sell
	}
	return d.Buy
}

// AdjustedPrice returns the price of one side for the given purchase/sale
// difference. The result is monotonic in difference and kept inside
// [Min, Max] when Max is above Min.
func (d *Dynamic) AdjustedPrice(trade model.TradeType, difference float64) float64 {
	s := d.side(trade)
	price := s.Initial + s.Step*difference
	if s.Max > s.Min {
		price = min(max(price, s.Min), s.Max)
	} else {
		price = max(price, s.Min)
	}
	return round(price, d.Decimals)
}
