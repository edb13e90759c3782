package pricer

import (
	"math/rand/v2"
	"sync"
	"time"

	"shopsync/internal/model"
)

// Range bounds one side of a floating price.
type Range struct {
	Min float64
	Max float64
}

func (r Range) clamp(v float64) float64 {
	return min(max(v, r.Min), r.Max)
}

// ClockTime is a wall clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// Float performs a bounded random walk on a schedule.
//
// Each roll moves the last price by at most Step in either direction and
// keeps it inside the side's range. With Step <= 0, or when no price was
// computed yet, the roll is uniform over the whole range.
type Float struct {
	Buy      Range
	Sell     Range
	Step     float64
	Decimals int32

	// Days and Times form the refresh schedule. When Times is empty the
	// price refreshes every Interval.
	Days     []time.Weekday
	Times    []ClockTime
	Interval time.Duration
	Location *time.Location

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFloat creates a floating pricer with a time-seeded random source.
func NewFloat(buy, sell Range) *Float {
	return &Float{
		Buy:      buy,
		Sell:     sell,
		Decimals: 2,
		Interval: time.Hour,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

// WithSeed replaces the random source with a deterministic one.
func (f *Float) WithSeed(seed uint64) *Float {
	f.mu.Lock()
	f.rnd = rand.New(rand.NewPCG(seed, seed^0x5eed))
	f.mu.Unlock()
	return f
}

func (f *Float) Type() Type { return TypeFloat }

func (f *Float) InitialPrice(trade model.TradeType) float64 {
	r := f.side(trade)
	return round((r.Min+r.Max)/2, f.Decimals)
}

func (f *Float) side(trade model.TradeType) Range {
	if trade == model.Sell {
		return f.Sell
	}
	return f.Buy
}

// Roll returns the next price of one side starting from last.
func (f *Float) Roll(trade model.TradeType, last float64) float64 {
	r := f.side(trade)
	if r.Max <= r.Min {
		return round(r.Min, f.Decimals)
	}

	f.mu.Lock()
	if f.rnd == nil {
		f.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	u := f.rnd.Float64()
	f.mu.Unlock()

	if f.Step <= 0 || last < 0 {
		return round(r.Min+u*(r.Max-r.Min), f.Decimals)
	}
	next := last + (2*u-1)*f.Step
	return round(r.clamp(next), f.Decimals)
}

// NextTimestamp returns the closest scheduled refresh after now, in Unix ms.
func (f *Float) NextTimestamp(now time.Time) int64 {
	if len(f.Times) == 0 {
		interval := f.Interval
		if interval <= 0 {
			interval = time.Hour
		}
		return now.Add(interval).UnixMilli()
	}

	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	days := make(map[time.Weekday]bool, len(f.Days))
	for _, d := range f.Days {
		days[d] = true
	}

	// A week ahead always contains a match when Times is non-empty.
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if len(days) > 0 && !days[day.Weekday()] {
			continue
		}
		var best time.Time
		for _, ct := range f.Times {
			at := time.Date(day.Year(), day.Month(), day.Day(), ct.Hour, ct.Minute, 0, 0, loc)
			if !at.After(local) {
				continue
			}
			if best.IsZero() || at.Before(best) {
				best = at
			}
		}
		if !best.IsZero() {
			return best.UnixMilli()
		}
	}
	return now.Add(24 * time.Hour).UnixMilli()
}
