package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"shopsync/internal/cache"
	"shopsync/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	mgr   *Manager
	store *fakeStore
	pub   *fakePublisher
	cache *cache.MemoryCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	pub := &fakePublisher{}
	c := cache.NewMemoryCache(cache.MemoryConfig{Now: func() time.Time { return testNow }})
	mgr := NewManager(Options{
		Store:     store,
		Cache:     c,
		Publisher: pub,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	})
	return &testEnv{mgr: mgr, store: store, pub: pub, cache: c}
}

func TestShardedMap(t *testing.T) {
	m := NewShardedMap[model.ProductKey, int]()
	k := model.GlobalKey("Farm", "Wheat")

	v, loaded := m.LoadOrStore(k, 1)
	require.False(t, loaded)
	require.Equal(t, 1, v)

	v, loaded = m.LoadOrStore(model.GlobalKey("farm", "wheat"), 2)
	require.True(t, loaded)
	require.Equal(t, 1, v)

	for i := 0; i < 100; i++ {
		m.Store(model.GlobalKey("shop", fmt.Sprintf("p%d", i)), i)
	}
	require.Equal(t, 101, m.Len())

	removed := m.DeleteFunc(func(k model.ProductKey, _ int) bool { return k.IsShop("shop") })
	require.Equal(t, 100, removed)
	require.Equal(t, []int{1}, m.Values())

	m.Clear()
	require.Equal(t, 0, m.Len())
}

func TestLoadAll(t *testing.T) {
	env := newTestEnv(t)
	env.store.prices[model.GlobalKey("farm", "wheat")] = model.PriceRecord{ShopID: "farm", ProductID: "wheat", LatestBuyPrice: 10}
	env.store.stocks[model.GlobalKey("farm", "wheat")] = model.StockRecord{ShopID: "farm", ProductID: "wheat", Holder: "farm", BuyStock: 5}
	env.store.rotations[model.NewRotationKey("farm", "daily")] = model.RotationRecord{ShopID: "farm", RotationID: "daily"}

	hookRuns := 0
	env.mgr.OnLoaded(func() { hookRuns++ })

	require.False(t, env.mgr.IsLoaded())
	require.NoError(t, env.mgr.LoadAll(context.Background()))
	require.True(t, env.mgr.IsLoaded())
	require.Equal(t, 1, hookRuns)

	d, ok := env.mgr.GetPriceData("FARM", "wheat")
	require.True(t, ok)
	require.Equal(t, 10.0, d.Record().LatestBuyPrice)
	require.False(t, d.IsDirty(), "loaded records start clean")

	_, ok = env.mgr.GetStockData("farm", "wheat", "farm")
	require.True(t, ok)
	_, ok = env.mgr.GetRotationData("farm", "daily")
	require.True(t, ok)

	env.mgr.Clear()
	require.False(t, env.mgr.IsLoaded())
	require.Equal(t, 0, env.mgr.Stats().Prices)
}

func TestGetOrCreatePriceData(t *testing.T) {
	ctx := context.Background()

	t.Run("SynthesizesOnce", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
		rec := d.Record()
		require.Equal(t, model.NoPrice, rec.LatestBuyPrice)
		require.Equal(t, model.NoPrice, rec.LatestSellPrice)
		require.True(t, d.IsDirty())

		require.Same(t, d, env.mgr.GetOrCreatePriceData(ctx, "FARM", "WHEAT"))
		require.Equal(t, 1, env.store.count("insert_price"))
		require.Equal(t, []string{"price_upsert"}, env.pub.Messages())

		_, cached := env.cache.GetPrice(ctx, model.GlobalKey("farm", "wheat"))
		require.True(t, cached)
	})

	t.Run("ConcurrentCallersConverge", func(t *testing.T) {
		env := newTestEnv(t)
		const callers = 64
		results := make([]*model.PriceData, callers)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				results[i] = env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
			}(i)
		}
		close(start)
		wg.Wait()

		for _, d := range results {
			require.Same(t, results[0], d)
		}
		require.Equal(t, 1, env.store.count("insert_price"))
		require.Equal(t, 1, env.mgr.Stats().Prices)
	})

	t.Run("UsesCachedRemoteRecord", func(t *testing.T) {
		env := newTestEnv(t)
		env.cache.PutPrice(ctx, model.PriceRecord{ShopID: "farm", ProductID: "wheat", LatestBuyPrice: 42, LatestSellPrice: 21})

		d := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
		require.Equal(t, 42.0, d.Record().LatestBuyPrice)
		require.False(t, d.IsDirty())
		require.Equal(t, 0, env.store.count("insert_price"))
		require.Empty(t, env.pub.Messages())
	})
}

func TestGetOrCreateStockData(t *testing.T) {
	ctx := context.Background()
	limits := model.StockLimits{BuyInitial: 64, SellInitial: 32, RestockCooldown: time.Hour}

	t.Run("SynthesizesFromLimits", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "steve", limits)
		rec := d.Record()
		require.Equal(t, 64, rec.BuyStock)
		require.Equal(t, 32, rec.SellStock)
		require.Equal(t, testNow.Add(time.Hour).UnixMilli(), rec.RestockDate)
		require.Equal(t, 1, env.store.count("insert_stock"))
		require.Equal(t, []string{"stock_upsert"}, env.pub.Messages())
	})

	t.Run("RestocksDueRecord", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "farm", limits)
		d.Consume(model.Buy, 60)
		d.SetExpired(testNow.UnixMilli())

		again := env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "farm", limits)
		require.Same(t, d, again)
		require.Equal(t, 64, again.Record().BuyStock)
	})
}

func TestGetOrCreateRotationData(t *testing.T) {
	env := newTestEnv(t)
	d := env.mgr.GetOrCreateRotationData(context.Background(), "market", "daily")
	require.True(t, d.IsRotationTime(testNow.UnixMilli()))
	require.Same(t, d, env.mgr.GetOrCreateRotationData(context.Background(), "Market", "Daily"))
	require.Equal(t, 1, env.store.count("insert_rotation"))
}

func TestDirtyLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	remote := model.PriceRecord{ShopID: "farm", ProductID: "wheat", LatestBuyPrice: 5}
	env.store.prices[remote.Key()] = remote
	require.NoError(t, env.mgr.ApplyExternalPrice(ctx, remote))

	d, _ := env.mgr.GetPriceData("farm", "wheat")
	require.False(t, d.IsDirty())

	d.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = 7 })
	require.True(t, d.IsDirty())

	res := env.mgr.Flush(ctx)
	require.Equal(t, 1, res.Prices)
	require.False(t, d.IsDirty())
	require.Equal(t, 7.0, env.store.prices[model.GlobalKey("farm", "wheat")].LatestBuyPrice)
	require.Equal(t, []string{"price_upsert"}, env.pub.Messages())

	res = env.mgr.Flush(ctx)
	require.Equal(t, 0, res.Total())
	require.Equal(t, 1, env.store.count("update_prices"))
}

func TestFlushFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	env.store.failWrite = errStoreDown

	res, err := env.mgr.FlushNow(ctx)
	require.ErrorIs(t, err, errStoreDown)
	require.Equal(t, 1, res.Prices)
	require.False(t, d.IsDirty(), "dirty flag stays cleared after a failed write")

	res, err = env.mgr.FlushNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Total())
}

func TestApplyExternal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	rec := model.PriceRecord{ShopID: "farm", ProductID: "wheat", LatestBuyPrice: 9, LatestSellPrice: 4, ExpireDate: 100}
	require.NoError(t, env.mgr.ApplyExternalPrice(ctx, rec))
	require.NoError(t, env.mgr.ApplyExternalPrice(ctx, rec))

	d, ok := env.mgr.GetPriceData("farm", "wheat")
	require.True(t, ok)
	require.Equal(t, rec, d.Record())
	require.False(t, d.IsDirty())
	require.Equal(t, 1, env.mgr.Stats().Prices)

	cached, ok := env.cache.GetPrice(ctx, rec.Key())
	require.True(t, ok)
	require.Equal(t, rec, cached)

	require.NoError(t, env.mgr.ApplyExternalStock(ctx, model.StockRecord{ShopID: "farm", ProductID: "wheat", Holder: "alex", BuyStock: 1}))
	require.NoError(t, env.mgr.ApplyExternalStock(ctx, model.StockRecord{ShopID: "farm", ProductID: "carrot", Holder: "farm"}))
	require.NoError(t, env.mgr.ApplyExternalRotation(ctx, model.RotationRecord{ShopID: "farm", RotationID: "daily"}))

	require.Empty(t, env.store.Calls(), "remote records are never persisted")
	require.Empty(t, env.pub.Messages(), "remote records are never re-broadcast")

	require.Error(t, env.mgr.ApplyExternalPrice(ctx, model.PriceRecord{ProductID: "wheat"}))

	env.mgr.ApplyExternalStockDeleteByProduct(ctx, "FARM", "wheat")
	_, ok = env.mgr.GetStockData("farm", "wheat", "alex")
	require.False(t, ok)
	_, ok = env.mgr.GetStockData("farm", "carrot", "farm")
	require.True(t, ok)

	env.mgr.ApplyExternalPriceDeleteByShop(ctx, "farm")
	env.mgr.ApplyExternalRotationDeleteByRotation(ctx, "farm", "daily")
	stats := env.mgr.Stats()
	require.Equal(t, 0, stats.Prices)
	require.Equal(t, 1, stats.Stocks)
	require.Equal(t, 0, stats.Rotations)

	_, ok = env.cache.GetPrice(ctx, rec.Key())
	require.False(t, ok, "remote deletes evict the cache")
}

func TestDeleteShopDataOrdering(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	limits := model.StockLimits{BuyInitial: 10}

	stale := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	stale.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = 99 })
	env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "farm", limits)
	env.mgr.GetOrCreateRotationData(ctx, "farm", "daily")
	env.mgr.GetOrCreatePriceData(ctx, "mine", "coal")
	_, _ = env.mgr.FlushNow(ctx)
	env.pub.messages = nil

	var inWindow *model.PriceData
	env.store.onDelete = func() {
		if inWindow == nil {
			// Store rows are gone, memory is not cleaned up yet.
			inWindow = env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
		}
	}

	env.mgr.DeleteShopData("farm")

	require.Same(t, stale, inWindow)
	require.Equal(t, []string{"price_delete_shop", "stock_delete_shop", "rotation_delete_shop"}, env.pub.Messages())

	calls := env.store.Calls()
	require.Contains(t, calls, "delete_prices_shop")
	require.Contains(t, calls, "delete_stocks_shop")
	require.Contains(t, calls, "delete_rotations_shop")

	_, ok := env.mgr.GetPriceData("farm", "wheat")
	require.False(t, ok, "stale record is not resurrected")
	_, ok = env.mgr.GetPriceData("mine", "coal")
	require.True(t, ok)

	fresh := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	require.NotSame(t, stale, fresh)
	require.Equal(t, model.NoPrice, fresh.Record().LatestBuyPrice)
}

// queuedPool holds tasks until the test runs them.
type queuedPool struct {
	tasks []func()
}

func (p *queuedPool) Go(fn func()) error {
	p.tasks = append(p.tasks, fn)
	return nil
}

func TestFlushRacingDelete(t *testing.T) {
	ctx := context.Background()
	key := model.GlobalKey("farm", "wheat")
	seed := model.PriceRecord{ShopID: "farm", ProductID: "wheat", LatestBuyPrice: 5, LatestSellPrice: 2}

	t.Run("CollectedBeforeDelete", func(t *testing.T) {
		store := newFakeStore()
		store.prices[key] = seed
		pub := &fakePublisher{}
		pool := &queuedPool{}
		mgr := NewManager(Options{Store: store, Publisher: pub, Pool: pool, Logger: zerolog.Nop()})
		require.NoError(t, mgr.LoadAll(ctx))

		d, ok := mgr.GetPriceData("farm", "wheat")
		require.True(t, ok)
		d.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = -1 })
		require.Equal(t, 1, mgr.Flush(ctx).Prices)
		mgr.DeleteShopData("farm")

		// The delete finishes before the flush reaches the store.
		require.Len(t, pool.tasks, 2)
		pool.tasks[1]()
		pool.tasks[0]()

		_, inStore := store.prices[key]
		require.False(t, inStore, "deleted row is not written back")
		require.NotContains(t, pub.Messages(), "price_upsert")

		require.NoError(t, mgr.Resync(ctx))
		_, ok = mgr.GetPriceData("farm", "wheat")
		require.False(t, ok)
	})

	t.Run("FlushDuringEviction", func(t *testing.T) {
		store := newFakeStore()
		store.prices[key] = seed
		hc := &hookCache{MemoryCache: cache.NewMemoryCache(cache.MemoryConfig{})}
		mgr := NewManager(Options{Store: store, Cache: hc, Publisher: &fakePublisher{}, Logger: zerolog.Nop()})
		require.NoError(t, mgr.LoadAll(ctx))

		stale, ok := mgr.GetPriceData("farm", "wheat")
		require.True(t, ok)
		hc.onEvict = func() {
			stale.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = -1 })
			mgr.Flush(ctx)
		}
		mgr.DeleteShopData("farm")

		_, ok = mgr.GetPriceData("farm", "wheat")
		require.False(t, ok)
		_, inStore := store.prices[key]
		require.False(t, inStore)
		_, cached := hc.GetPrice(ctx, key)
		require.False(t, cached)
	})
}

func TestDeleteScoped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	env.mgr.GetOrCreatePriceData(ctx, "farm", "carrot")
	env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "steve", model.StockLimits{})
	env.mgr.GetOrCreateRotationData(ctx, "farm", "daily")
	env.pub.messages = nil

	env.mgr.DeletePriceData("farm", "wheat")
	env.mgr.DeleteStockData("farm", "wheat")
	env.mgr.DeleteRotationData("farm", "daily")

	stats := env.mgr.Stats()
	require.Equal(t, 1, stats.Prices)
	require.Equal(t, 0, stats.Stocks)
	require.Equal(t, 0, stats.Rotations)
	require.Equal(t, []string{"price_delete_product", "stock_delete_product", "rotation_delete_rotation"}, env.pub.Messages())
}

func TestResetHelpers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	d.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = 3; r.ExpireDate = 500 })
	_, _ = env.mgr.FlushNow(ctx)

	require.True(t, env.mgr.ResetPriceData("farm", "wheat"))
	require.True(t, d.IsDirty())
	require.Equal(t, model.NoPrice, d.Record().LatestBuyPrice)
	require.False(t, env.mgr.ResetPriceData("farm", "missing"))

	s1 := env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "a", model.StockLimits{RestockCooldown: time.Hour})
	s2 := env.mgr.GetOrCreateStockData(ctx, "farm", "wheat", "b", model.StockLimits{RestockCooldown: time.Hour})
	require.Equal(t, 2, env.mgr.ResetStockDatas("farm", "wheat"))
	require.True(t, s1.IsRestockTime(testNow.UnixMilli()))
	require.True(t, s2.IsRestockTime(testNow.UnixMilli()))
}

func TestResync(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Resync(ctx), "resync before load is a no-op")
	require.Empty(t, env.store.Calls())

	require.NoError(t, env.mgr.LoadAll(ctx))
	d := env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	d.Update(func(r *model.PriceRecord) { r.LatestBuyPrice = 12 })

	require.NoError(t, env.mgr.Resync(ctx))
	reloaded, ok := env.mgr.GetPriceData("farm", "wheat")
	require.True(t, ok)
	require.NotSame(t, d, reloaded)
	require.Equal(t, 12.0, reloaded.Record().LatestBuyPrice)
	require.True(t, env.mgr.IsLoaded())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mgr.GetOrCreatePriceData(ctx, "farm", "wheat")
	require.NoError(t, env.mgr.ApplyExternalPrice(ctx, model.PriceRecord{ShopID: "farm", ProductID: "carrot"}))

	stats := env.mgr.Stats()
	require.Equal(t, 2, stats.Prices)
	require.Equal(t, 1, stats.DirtyPrices)
	require.Equal(t, 2, stats.CacheEntries)
}
