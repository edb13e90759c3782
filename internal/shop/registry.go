package shop

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry holds the shops of a node.
type Registry struct {
	mu     sync.RWMutex
	shops  map[string]*Shop
	states States
	logger zerolog.Logger
}

func NewRegistry(states States, logger zerolog.Logger) *Registry {
	return &Registry{
		shops:  make(map[string]*Shop),
		states: states,
		logger: logger,
	}
}

// Load replaces the shops with the ones of the catalog. Nothing changes
// when a shop fails to build.
func (r *Registry) Load(c *Catalog) error {
	shops := make(map[string]*Shop, len(c.Shops))
	for _, cfg := range c.Shops {
		s, err := newShop(cfg, r.states)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		shops[strings.ToLower(cfg.ID)] = s
	}

	r.mu.Lock()
	r.shops = shops
	r.mu.Unlock()

	r.logger.Info().Int("shops", len(shops)).Msg("catalog loaded")
	return nil
}

func (r *Registry) Shop(id string) (*Shop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shops[strings.ToLower(id)]
	return s, ok
}

// Shops returns the shops ordered by id.
func (r *Registry) Shops() []*Shop {
	r.mu.RLock()
	out := make([]*Shop, 0, len(r.shops))
	for _, s := range r.shops {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Shop) int { return cmp.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID)) })
	return out
}

func (r *Registry) Product(shopID, productID string) (*Product, bool) {
	s, ok := r.Shop(shopID)
	if !ok {
		return nil, false
	}
	return s.Product(productID)
}

// Remove drops a shop and deletes its data everywhere.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.shops[strings.ToLower(id)]
	delete(r.shops, strings.ToLower(id))
	r.mu.Unlock()

	if ok {
		r.states.DeleteShopData(s.ID)
	}
	return ok
}

// UpdateAllPrices recomputes the expired prices of every shop. It runs once
// after the state is loaded.
func (r *Registry) UpdateAllPrices(ctx context.Context, now time.Time) int {
	n := 0
	for _, s := range r.Shops() {
		n += s.UpdatePrices(ctx, now)
	}
	r.logger.Info().Int("updated", n).Msg("recomputed prices after load")
	return n
}
