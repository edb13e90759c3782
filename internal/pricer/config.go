package pricer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the catalog form of a pricer.
type Config struct {
	Type      Type    `json:"type"`
	BuyPrice  float64 `json:"buyPrice"`
	SellPrice float64 `json:"sellPrice"`

	// FLOAT
	BuyMin   float64  `json:"buyMin"`
	BuyMax   float64  `json:"buyMax"`
	SellMin  float64  `json:"sellMin"`
	SellMax  float64  `json:"sellMax"`
	Step     float64  `json:"step"`
	Days     []string `json:"days"`
	Times    []string `json:"times"`
	Interval string   `json:"interval"`

	// DYNAMIC
	BuyStep  float64 `json:"buyStep"`
	SellStep float64 `json:"sellStep"`

	Decimals *int32 `json:"decimals"`
}

// Build creates the pricer described by the config.
func (c Config) Build() (Pricer, error) {
	decimals := int32(2)
	if c.Decimals != nil {
		decimals = *c.Decimals
	}

	switch Type(strings.ToUpper(string(c.Type))) {
	case TypeFlat, "":
		return &Flat{BuyPrice: c.BuyPrice, SellPrice: c.SellPrice}, nil

	case TypePlayerAmount:
		return &PlayerAmount{BuyPrice: c.BuyPrice, SellPrice: c.SellPrice, Step: c.Step}, nil

	case TypeFloat:
		f := NewFloat(Range{Min: c.BuyMin, Max: c.BuyMax}, Range{Min: c.SellMin, Max: c.SellMax})
		f.Step = c.Step
		f.Decimals = decimals
		for _, raw := range c.Days {
			day, err := parseWeekday(raw)
			if err != nil {
				return nil, err
			}
			f.Days = append(f.Days, day)
		}
		for _, raw := range c.Times {
			ct, err := parseClock(raw)
			if err != nil {
				return nil, err
			}
			f.Times = append(f.Times, ct)
		}
		if c.Interval != "" {
			d, err := time.ParseDuration(c.Interval)
			if err != nil {
				return nil, fmt.Errorf("invalid float interval %q: %w", c.Interval, err)
			}
			f.Interval = d
		}
		return f, nil

	case TypeDynamic:
		return &Dynamic{
			Buy:      DynamicSide{Initial: c.BuyPrice, Step: c.BuyStep, Min: c.BuyMin, Max: c.BuyMax},
			Sell:     DynamicSide{Initial: c.SellPrice, Step: c.SellStep, Min: c.SellMin, Max: c.SellMax},
			Decimals: decimals,
		}, nil
	}
	return nil, fmt.Errorf("unknown pricer type %q", c.Type)
}

func parseWeekday(raw string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), raw) || strings.EqualFold(d.String()[:3], raw) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", raw)
}

func parseClock(raw string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}
