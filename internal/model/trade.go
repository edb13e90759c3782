package model

// TradeType distinguishes the buy and sell side of a product.
type TradeType int

const (
	Buy TradeType = iota
	Sell
)

func (t TradeType) String() string {
	if t == Sell {
		return "SELL"
	}
	return "BUY"
}
