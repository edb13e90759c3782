package shop

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/pricer"
)

// Catalog is the JSON description of the shops a node serves.
type Catalog struct {
	Shops []ShopConfig `json:"shops"`
}

type ShopConfig struct {
	ID        string           `json:"id"`
	Products  []ProductConfig  `json:"products"`
	Rotations []RotationConfig `json:"rotations"`
}

type ProductConfig struct {
	ID     string        `json:"id"`
	Pricer pricer.Config `json:"pricer"`
	Stock  StockConfig   `json:"stock"`
}

// StockConfig limits the stock of a product. A missing or negative amount
// means unlimited. Personal stock keeps one record per player.
type StockConfig struct {
	Buy      *int   `json:"buy"`
	Sell     *int   `json:"sell"`
	Restock  string `json:"restock"`
	Personal bool   `json:"personal"`
}

// RotationConfig cycles Slots products out of Products every Interval.
type RotationConfig struct {
	ID       string   `json:"id"`
	Slots    int      `json:"slots"`
	Interval string   `json:"interval"`
	Products []string `json:"products"`
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids for presence and uniqueness.
func (c *Catalog) Validate() error {
	shops := make(map[string]bool, len(c.Shops))
	for i, s := range c.Shops {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("shop #%d has no id", i)
		}
		id := strings.ToLower(s.ID)
		if shops[id] {
			return fmt.Errorf("duplicate shop %q", s.ID)
		}
		shops[id] = true

		products := make(map[string]bool, len(s.Products))
		for j, p := range s.Products {
			if strings.TrimSpace(p.ID) == "" {
				return fmt.Errorf("shop %s: product #%d has no id", s.ID, j)
			}
			pid := strings.ToLower(p.ID)
			if products[pid] {
				return fmt.Errorf("shop %s: duplicate product %q", s.ID, p.ID)
			}
			products[pid] = true
		}
		for _, r := range s.Rotations {
			if strings.TrimSpace(r.ID) == "" {
				return fmt.Errorf("shop %s: rotation without id", s.ID)
			}
			if r.Slots <= 0 {
				return fmt.Errorf("shop %s: rotation %s needs at least one slot", s.ID, r.ID)
			}
		}
	}
	return nil
}

func (s StockConfig) limits() (model.StockLimits, error) {
	l := model.StockLimits{BuyInitial: -1, SellInitial: -1}
	if s.Buy != nil {
		l.BuyInitial = *s.Buy
	}
	if s.Sell != nil {
		l.SellInitial = *s.Sell
	}
	if s.Restock != "" {
		d, err := time.ParseDuration(s.Restock)
		if err != nil {
			return l, fmt.Errorf("invalid restock cooldown %q: %w", s.Restock, err)
		}
		l.RestockCooldown = d
	}
	return l, nil
}
