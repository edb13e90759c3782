// Package state holds the canonical in-memory price, stock and rotation
// records of a node and keeps them in step with the backing store and the
// other nodes.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"shopsync/internal/cache"
	"shopsync/internal/model"
	"shopsync/internal/observability"
	"shopsync/internal/repository"

	"github.com/rs/zerolog"
)

const storeTimeout = 30 * time.Second

// Options configures a Manager. Store is required.
type Options struct {
	Store     repository.ShopDataStore
	Cache     cache.RecordCache
	Publisher Publisher

	// Pool runs persistence and publishing. Defaults to the calling goroutine.
	Pool TaskRunner

	// Executor receives the post-load recompute pass. Defaults to the calling
	// goroutine.
	Executor TaskSubmitter

	// OnLoaded runs on the executor after every successful LoadAll.
	OnLoaded func()

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Manager owns the canonical maps of a node.
type Manager struct {
	store    repository.ShopDataStore
	cache    cache.RecordCache
	pool     TaskRunner
	executor TaskSubmitter
	onLoaded func()
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	pubMu     sync.RWMutex
	publisher Publisher

	prices    *ShardedMap[model.ProductKey, *model.PriceData]
	stocks    *ShardedMap[model.ProductKey, *model.StockData]
	rotations *ShardedMap[model.RotationKey, *model.RotationData]

	loaded atomic.Bool
	loadMu sync.Mutex
}

// Stats is a point-in-time summary of the maps.
type Stats struct {
	Loaded         bool `json:"loaded"`
	Prices         int  `json:"prices"`
	Stocks         int  `json:"stocks"`
	Rotations      int  `json:"rotations"`
	DirtyPrices    int  `json:"dirty_prices"`
	DirtyStocks    int  `json:"dirty_stocks"`
	DirtyRotations int  `json:"dirty_rotations"`
	CacheEntries   int  `json:"cache_entries"`
}

// FlushResult counts the records handed to the store by a flush.
type FlushResult struct {
	Prices    int `json:"prices"`
	Stocks    int `json:"stocks"`
	Rotations int `json:"rotations"`
}

// Total returns the number of flushed records.
func (r FlushResult) Total() int { return r.Prices + r.Stocks + r.Rotations }

// NewManager creates a manager. Nothing is loaded until LoadAll.
func NewManager(opts Options) *Manager {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(cache.MemoryConfig{})
	}
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	if opts.Pool == nil {
		opts.Pool = inline{}
	}
	if opts.Executor == nil {
		opts.Executor = inline{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		store:     opts.Store,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		pool:      opts.Pool,
		executor:  opts.Executor,
		onLoaded:  opts.OnLoaded,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		prices:    NewShardedMap[model.ProductKey, *model.PriceData](),
		stocks:    NewShardedMap[model.ProductKey, *model.StockData](),
		rotations: NewShardedMap[model.RotationKey, *model.RotationData](),
	}
}

// SetPublisher replaces the publisher. It is set once the transport exists.
func (m *Manager) SetPublisher(p Publisher) {
	if p == nil {
		p = NopPublisher{}
	}
	m.pubMu.Lock()
	m.publisher = p
	m.pubMu.Unlock()
}

func (m *Manager) pub() Publisher {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return m.publisher
}

// OnLoaded sets the hook run on the executor after every LoadAll.
func (m *Manager) OnLoaded(fn func()) {
	m.loadMu.Lock()
	m.onLoaded = fn
	m.loadMu.Unlock()
}

func (m *Manager) nowMillis() int64 {
	return m.now().UnixMilli()
}

// background runs fn on the pool with its own timeout. Errors are logged.
func (m *Manager) background(op string, fn func(ctx context.Context) error) {
	err := m.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.metrics.PersistError(op)
			m.logger.Error().Err(err).Str("op", op).Msg("background task failed")
		}
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("op", op).Msg("background task rejected")
	}
}

// ----------------------------------------------------------------------------
// Loading
// ----------------------------------------------------------------------------

// LoadAll reads every record from the store into the maps, marks the
// manager loaded and schedules the post-load hook on the executor.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	prices, err := m.store.LoadPriceDatas(ctx)
	if err != nil {
		return fmt.Errorf("failed to load price data: %w", err)
	}
	stocks, err := m.store.LoadStockDatas(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stock data: %w", err)
	}
	rotations, err := m.store.LoadRotationDatas(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rotation data: %w", err)
	}

	for _, rec := range prices {
		m.prices.Store(rec.Key(), model.NewPriceData(rec))
	}
	for _, rec := range stocks {
		m.stocks.Store(rec.Key(), model.NewStockData(rec))
	}
	for _, rec := range rotations {
		m.rotations.Store(rec.Key(), model.NewRotationData(rec))
	}
	m.loaded.Store(true)

	m.metrics.SetLoaded("price", m.prices.Len())
	m.metrics.SetLoaded("stock", m.stocks.Len())
	m.metrics.SetLoaded("rotation", m.rotations.Len())
	m.logger.Info().
		Int("prices", len(prices)).
		Int("stocks", len(stocks)).
		Int("rotations", len(rotations)).
		Msg("shop data loaded")

	if hook := m.onLoaded; hook != nil {
		if err := m.executor.Submit(hook); err != nil {
			m.logger.Warn().Err(err).Msg("failed to schedule post-load pass")
		}
	}
	return nil
}

// IsLoaded reports whether LoadAll completed since the last Clear.
func (m *Manager) IsLoaded() bool {
	return m.loaded.Load()
}

// Clear empties the maps and the cache and resets the loaded state.
func (m *Manager) Clear() {
	m.prices.Clear()
	m.stocks.Clear()
	m.rotations.Clear()
	m.cache.Clear(context.Background())
	m.loaded.Store(false)
}

// Resync flushes pending changes, drops the in-memory state and reloads it
// from the store. It does nothing before the first load.
func (m *Manager) Resync(ctx context.Context) error {
	if !m.IsLoaded() {
		return nil
	}
	if _, err := m.FlushNow(ctx); err != nil {
		m.logger.Error().Err(err).Msg("flush before resync failed")
	}
	m.Clear()
	return m.LoadAll(ctx)
}

// ----------------------------------------------------------------------------
// Lookups
// ----------------------------------------------------------------------------

// GetPriceData returns the live price record of a product.
func (m *Manager) GetPriceData(shopID, productID string) (*model.PriceData, bool) {
	return m.prices.Load(model.GlobalKey(shopID, productID))
}

// GetStockData returns the live stock record of a product holder.
func (m *Manager) GetStockData(shopID, productID, holder string) (*model.StockData, bool) {
	return m.stocks.Load(model.NewProductKey(shopID, productID, holder))
}

// GetRotationData returns the live rotation record of a shop rotation.
func (m *Manager) GetRotationData(shopID, rotationID string) (*model.RotationData, bool) {
	return m.rotations.Load(model.NewRotationKey(shopID, rotationID))
}

// PriceDatas returns a snapshot of the live price records.
func (m *Manager) PriceDatas() []*model.PriceData { return m.prices.Values() }

// StockDatas returns a snapshot of the live stock records.
func (m *Manager) StockDatas() []*model.StockData { return m.stocks.Values() }

// RotationDatas returns a snapshot of the live rotation records.
func (m *Manager) RotationDatas() []*model.RotationData { return m.rotations.Values() }

// ----------------------------------------------------------------------------
// Get or create
// ----------------------------------------------------------------------------

// GetOrCreatePriceData returns the price record of a product, taking it from
// the cache or synthesizing a default when the node has none. Concurrent
// callers on one node always get the same record.
func (m *Manager) GetOrCreatePriceData(ctx context.Context, shopID, productID string) *model.PriceData {
	key := model.GlobalKey(shopID, productID)
	if d, ok := m.prices.Load(key); ok {
		return d
	}

	if rec, ok := m.cache.GetPrice(ctx, key); ok {
		m.metrics.CacheLookup(true)
		d, _ := m.prices.LoadOrStore(key, model.NewPriceData(rec))
		return d
	}
	m.metrics.CacheLookup(false)

	if d, ok := m.prices.Load(key); ok {
		return d
	}

	fresh := model.CreatePriceData(shopID, productID)
	d, loaded := m.prices.LoadOrStore(key, fresh)
	if loaded {
		return d
	}

	rec := fresh.Record()
	m.cache.PutPrice(ctx, rec)
	m.background("insert_price", func(ctx context.Context) error {
		err := m.store.InsertPriceData(ctx, rec)
		m.pub().PublishPriceUpsert(rec)
		return err
	})
	return fresh
}

// GetOrCreateStockData returns the stock record of a product holder. A
// record whose restock is due is restocked before it is returned.
func (m *Manager) GetOrCreateStockData(ctx context.Context, shopID, productID, holder string, limits model.StockLimits) *model.StockData {
	key := model.NewProductKey(shopID, productID, holder)
	now := m.nowMillis()

	if d, ok := m.stocks.Load(key); ok {
		if d.IsRestockTime(now) {
			d.Restock(limits, now)
		}
		return d
	}

	if rec, ok := m.cache.GetStock(ctx, key); ok {
		m.metrics.CacheLookup(true)
		d, _ := m.stocks.LoadOrStore(key, model.NewStockData(rec))
		if d.IsRestockTime(now) {
			d.Restock(limits, now)
		}
		return d
	}
	m.metrics.CacheLookup(false)

	if d, ok := m.stocks.Load(key); ok {
		return d
	}

	fresh := model.CreateStockData(shopID, productID, holder, limits, now)
	d, loaded := m.stocks.LoadOrStore(key, fresh)
	if loaded {
		return d
	}

	rec := fresh.Record()
	m.cache.PutStock(ctx, rec)
	m.background("insert_stock", func(ctx context.Context) error {
		err := m.store.InsertStockData(ctx, rec)
		m.pub().PublishStockUpsert(rec)
		return err
	})
	return fresh
}

// GetOrCreateRotationData returns the rotation record of a shop rotation.
func (m *Manager) GetOrCreateRotationData(ctx context.Context, shopID, rotationID string) *model.RotationData {
	key := model.NewRotationKey(shopID, rotationID)
	if d, ok := m.rotations.Load(key); ok {
		return d
	}

	fresh := model.CreateRotationData(shopID, rotationID)
	d, loaded := m.rotations.LoadOrStore(key, fresh)
	if loaded {
		return d
	}

	rec := fresh.Record()
	m.background("insert_rotation", func(ctx context.Context) error {
		err := m.store.InsertRotationData(ctx, rec)
		m.pub().PublishRotationUpsert(rec)
		return err
	})
	return fresh
}

// ----------------------------------------------------------------------------
// Mutation helpers
// ----------------------------------------------------------------------------

// ResetPriceData drops the computed price of a product so the next processor
// tick recomputes it.
func (m *Manager) ResetPriceData(shopID, productID string) bool {
	d, ok := m.GetPriceData(shopID, productID)
	if ok {
		d.Reset()
	}
	return ok
}

// ResetStockDatas makes every stock record of a product due for restock.
func (m *Manager) ResetStockDatas(shopID, productID string) int {
	now := m.nowMillis()
	n := 0
	m.stocks.Range(func(k model.ProductKey, d *model.StockData) bool {
		if k.IsProduct(shopID, productID) {
			d.SetExpired(now)
			n++
		}
		return true
	})
	return n
}

// ----------------------------------------------------------------------------
// Flush
// ----------------------------------------------------------------------------

type dirtySet struct {
	prices    []model.PriceRecord
	stocks    []model.StockRecord
	rotations []model.RotationRecord
}

// collectDirty clears the dirty flag of every dirty record and returns
// their values.
func (m *Manager) collectDirty() dirtySet {
	var set dirtySet
	m.prices.Range(func(_ model.ProductKey, d *model.PriceData) bool {
		if d.TakeDirty() {
			set.prices = append(set.prices, d.Record())
		}
		return true
	})
	m.stocks.Range(func(_ model.ProductKey, d *model.StockData) bool {
		if d.TakeDirty() {
			set.stocks = append(set.stocks, d.Record())
		}
		return true
	})
	m.rotations.Range(func(_ model.RotationKey, d *model.RotationData) bool {
		if d.TakeDirty() {
			set.rotations = append(set.rotations, d.Record())
		}
		return true
	})
	return set
}

// Flush hands every dirty record to the pool for persistence and
// broadcast. Dirty flags are cleared before the store is written; a failed
// write is logged and not retried until the record changes again.
func (m *Manager) Flush(ctx context.Context) FlushResult {
	start := m.now()
	set := m.collectDirty()
	m.refreshCache(ctx, set)

	if len(set.prices) > 0 {
		m.background("update_prices", func(ctx context.Context) error {
			return m.persistPrices(ctx, set.prices)
		})
	}
	if len(set.stocks) > 0 {
		m.background("update_stocks", func(ctx context.Context) error {
			return m.persistStocks(ctx, set.stocks)
		})
	}
	if len(set.rotations) > 0 {
		m.background("update_rotations", func(ctx context.Context) error {
			return m.persistRotations(ctx, set.rotations)
		})
	}

	res := FlushResult{Prices: len(set.prices), Stocks: len(set.stocks), Rotations: len(set.rotations)}
	m.observeFlush(res, start)
	return res
}

// FlushNow persists every dirty record on the calling goroutine. It is used
// on shutdown and resync where the caller must wait for the store.
func (m *Manager) FlushNow(ctx context.Context) (FlushResult, error) {
	start := m.now()
	set := m.collectDirty()
	m.refreshCache(ctx, set)

	var errs []error
	if err := m.persistPrices(ctx, set.prices); err != nil {
		m.metrics.PersistError("update_prices")
		errs = append(errs, err)
	}
	if err := m.persistStocks(ctx, set.stocks); err != nil {
		m.metrics.PersistError("update_stocks")
		errs = append(errs, err)
	}
	if err := m.persistRotations(ctx, set.rotations); err != nil {
		m.metrics.PersistError("update_rotations")
		errs = append(errs, err)
	}

	res := FlushResult{Prices: len(set.prices), Stocks: len(set.stocks), Rotations: len(set.rotations)}
	m.observeFlush(res, start)
	if len(errs) > 0 {
		return res, fmt.Errorf("flush failed: %w", errors.Join(errs...))
	}
	return res, nil
}

func (m *Manager) refreshCache(ctx context.Context, set dirtySet) {
	for _, rec := range set.prices {
		m.cache.PutPrice(ctx, rec)
	}
	for _, rec := range set.stocks {
		m.cache.PutStock(ctx, rec)
	}
	m.metrics.SetCacheSize(m.cache.Len())
}

func (m *Manager) observeFlush(res FlushResult, start time.Time) {
	m.metrics.AddFlushed("price", res.Prices)
	m.metrics.AddFlushed("stock", res.Stocks)
	m.metrics.AddFlushed("rotation", res.Rotations)
	m.metrics.ObserveFlush(m.now().Sub(start).Seconds())
	if res.Total() > 0 {
		m.logger.Debug().
			Int("prices", res.Prices).
			Int("stocks", res.Stocks).
			Int("rotations", res.Rotations).
			Msg("flushed dirty records")
	}
}

// persistPrices writes the records that are still live and publishes each
// of them, even when the write failed: the values are already live on this
// node. Publishing runs on the calling goroutine so a large flush is never
// cut short by a full pool.
func (m *Manager) persistPrices(ctx context.Context, recs []model.PriceRecord) error {
	recs = live(m.prices, recs)
	if len(recs) == 0 {
		return nil
	}
	err := m.store.UpdatePriceDatas(ctx, recs)
	m.pub().PublishPriceUpserts(ctx, recs)
	if err != nil {
		return fmt.Errorf("failed to save %d price records: %w", len(recs), err)
	}
	return nil
}

func (m *Manager) persistStocks(ctx context.Context, recs []model.StockRecord) error {
	recs = live(m.stocks, recs)
	if len(recs) == 0 {
		return nil
	}
	err := m.store.UpdateStockDatas(ctx, recs)
	m.pub().PublishStockUpserts(ctx, recs)
	if err != nil {
		return fmt.Errorf("failed to save %d stock records: %w", len(recs), err)
	}
	return nil
}

func (m *Manager) persistRotations(ctx context.Context, recs []model.RotationRecord) error {
	recs = live(m.rotations, recs)
	if len(recs) == 0 {
		return nil
	}
	err := m.store.UpdateRotationDatas(ctx, recs)
	m.pub().PublishRotationUpserts(ctx, recs)
	if err != nil {
		return fmt.Errorf("failed to save %d rotation records: %w", len(recs), err)
	}
	return nil
}

// live drops records whose key was deleted after the flush collected them.
func live[K Key, V any, R interface{ Key() K }](sm *ShardedMap[K, V], recs []R) []R {
	out := recs[:0:0]
	for _, r := range recs {
		if _, ok := sm.Load(r.Key()); ok {
			out = append(out, r)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

// Stats counts the live and dirty records.
func (m *Manager) Stats() Stats {
	s := Stats{
		Loaded:       m.IsLoaded(),
		Prices:       m.prices.Len(),
		Stocks:       m.stocks.Len(),
		Rotations:    m.rotations.Len(),
		CacheEntries: m.cache.Len(),
	}
	m.prices.Range(func(_ model.ProductKey, d *model.PriceData) bool {
		if d.IsDirty() {
			s.DirtyPrices++
		}
		return true
	})
	m.stocks.Range(func(_ model.ProductKey, d *model.StockData) bool {
		if d.IsDirty() {
			s.DirtyStocks++
		}
		return true
	})
	m.rotations.Range(func(_ model.RotationKey, d *model.RotationData) bool {
		if d.IsDirty() {
			s.DirtyRotations++
		}
		return true
	})
	return s
}
