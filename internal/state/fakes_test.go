package state

import (
	"context"
	"errors"
	"strings"
	"sync"

	"shopsync/internal/cache"
	"shopsync/internal/model"
	"shopsync/internal/repository"
)

// fakeStore is an in-memory ShopDataStore that records every call.
type fakeStore struct {
	mu        sync.Mutex
	prices    map[model.ProductKey]model.PriceRecord
	stocks    map[model.ProductKey]model.StockRecord
	rotations map[model.RotationKey]model.RotationRecord
	calls     []string
	failWrite error

	// onDelete runs after a delete call removed rows.
	onDelete func()
}

var _ repository.ShopDataStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		prices:    make(map[model.ProductKey]model.PriceRecord),
		stocks:    make(map[model.ProductKey]model.StockRecord),
		rotations: make(map[model.RotationKey]model.RotationRecord),
	}
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) count(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeStore) LoadPriceDatas(context.Context) ([]model.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("load_prices")
	out := make([]model.PriceRecord, 0, len(s.prices))
	for _, r := range s.prices {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) LoadStockDatas(context.Context) ([]model.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("load_stocks")
	out := make([]model.StockRecord, 0, len(s.stocks))
	for _, r := range s.stocks {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) LoadRotationDatas(context.Context) ([]model.RotationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("load_rotations")
	out := make([]model.RotationRecord, 0, len(s.rotations))
	for _, r := range s.rotations {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *fakeStore) InsertPriceData(_ context.Context, rec model.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("insert_price")
	if s.failWrite != nil {
		return s.failWrite
	}
	s.prices[rec.Key()] = rec
	return nil
}

func (s *fakeStore) InsertStockData(_ context.Context, rec model.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("insert_stock")
	if s.failWrite != nil {
		return s.failWrite
	}
	s.stocks[rec.Key()] = rec
	return nil
}

func (s *fakeStore) InsertRotationData(_ context.Context, rec model.RotationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("insert_rotation")
	if s.failWrite != nil {
		return s.failWrite
	}
	s.rotations[rec.Key()] = rec.Clone()
	return nil
}

func (s *fakeStore) UpdatePriceDatas(_ context.Context, recs []model.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_prices")
	if s.failWrite != nil {
		return s.failWrite
	}
	for _, r := range recs {
		if _, ok := s.prices[r.Key()]; ok {
			s.prices[r.Key()] = r
		}
	}
	return nil
}

func (s *fakeStore) UpdateStockDatas(_ context.Context, recs []model.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_stocks")
	if s.failWrite != nil {
		return s.failWrite
	}
	for _, r := range recs {
		if _, ok := s.stocks[r.Key()]; ok {
			s.stocks[r.Key()] = r
		}
	}
	return nil
}

func (s *fakeStore) UpdateRotationDatas(_ context.Context, recs []model.RotationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update_rotations")
	if s.failWrite != nil {
		return s.failWrite
	}
	for _, r := range recs {
		if _, ok := s.rotations[r.Key()]; ok {
			s.rotations[r.Key()] = r.Clone()
		}
	}
	return nil
}

func (s *fakeStore) deleted() {
	if s.onDelete != nil {
		s.onDelete()
	}
}

func (s *fakeStore) DeletePriceDataByShop(_ context.Context, shopID string) error {
	s.mu.Lock()
	s.record("delete_prices_shop")
	for k := range s.prices {
		if k.IsShop(shopID) {
			delete(s.prices, k)
		}
	}
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) DeletePriceDataByProduct(_ context.Context, shopID, productID string) error {
	s.mu.Lock()
	s.record("delete_prices_product")
	for k := range s.prices {
		if k.IsProduct(shopID, productID) {
			delete(s.prices, k)
		}
	}
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) DeleteStockDataByShop(_ context.Context, shopID string) error {
	s.mu.Lock()
	s.record("delete_stocks_shop")
	for k := range s.stocks {
		if k.IsShop(shopID) {
			delete(s.stocks, k)
		}
	}
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) DeleteStockDataByProduct(_ context.Context, shopID, productID string) error {
	s.mu.Lock()
	s.record("delete_stocks_product")
	for k := range s.stocks {
		if k.IsProduct(shopID, productID) {
			delete(s.stocks, k)
		}
	}
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) DeleteRotationDataByShop(_ context.Context, shopID string) error {
	s.mu.Lock()
	s.record("delete_rotations_shop")
	for k := range s.rotations {
		if k.IsShop(shopID) {
			delete(s.rotations, k)
		}
	}
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) DeleteRotationDataByRotation(_ context.Context, shopID, rotationID string) error {
	s.mu.Lock()
	s.record("delete_rotations_rotation")
	delete(s.rotations, model.NewRotationKey(shopID, rotationID))
	s.mu.Unlock()
	s.deleted()
	return nil
}

func (s *fakeStore) GetStats(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"driver": "fake"}, nil
}

func (s *fakeStore) Close() error { return nil }

var errStoreDown = errors.New("store down")

// fakePublisher records published messages by name.
type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	prices   []model.PriceRecord
	stocks   []model.StockRecord
}

var _ Publisher = (*fakePublisher)(nil)

func (p *fakePublisher) add(msg string) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
}

func (p *fakePublisher) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

func (p *fakePublisher) PublishPriceUpsert(rec model.PriceRecord) {
	p.mu.Lock()
	p.prices = append(p.prices, rec)
	p.mu.Unlock()
	p.add("price_upsert")
}

func (p *fakePublisher) PublishPriceDeleteByShop(string) { p.add("price_delete_shop") }

func (p *fakePublisher) PublishPriceDeleteByProduct(string, string) { p.add("price_delete_product") }

func (p *fakePublisher) PublishStockUpsert(rec model.StockRecord) {
	p.mu.Lock()
	p.stocks = append(p.stocks, rec)
	p.mu.Unlock()
	p.add("stock_upsert")
}

func (p *fakePublisher) PublishStockDeleteByShop(string) { p.add("stock_delete_shop") }

func (p *fakePublisher) PublishStockDeleteByProduct(string, string) { p.add("stock_delete_product") }

func (p *fakePublisher) PublishRotationUpsert(model.RotationRecord) { p.add("rotation_upsert") }

func (p *fakePublisher) PublishRotationDeleteByShop(string) { p.add("rotation_delete_shop") }

func (p *fakePublisher) PublishRotationDeleteByRotation(string, string) {
	p.add("rotation_delete_rotation")
}

func (p *fakePublisher) PublishPriceUpserts(_ context.Context, recs []model.PriceRecord) {
	for _, r := range recs {
		p.PublishPriceUpsert(r)
	}
}

func (p *fakePublisher) PublishStockUpserts(_ context.Context, recs []model.StockRecord) {
	for _, r := range recs {
		p.PublishStockUpsert(r)
	}
}

func (p *fakePublisher) PublishRotationUpserts(_ context.Context, recs []model.RotationRecord) {
	for _, r := range recs {
		p.PublishRotationUpsert(r)
	}
}

// hookCache runs onEvict before a shop eviction reaches the memory cache.
type hookCache struct {
	*cache.MemoryCache
	onEvict func()
}

func (c *hookCache) EvictShop(ctx context.Context, shopID string) {
	if c.onEvict != nil {
		c.onEvict()
	}
	c.MemoryCache.EvictShop(ctx, shopID)
}
