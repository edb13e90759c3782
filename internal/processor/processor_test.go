package processor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/pricer"
	"shopsync/internal/processor"
	"shopsync/internal/repository"
	"shopsync/internal/shop"
	"shopsync/internal/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const catalog = `{
  "shops": [{
    "id": "farm",
    "products": [
      {"id": "wheat", "pricer": {"type": "FLOAT", "buyMin": 90, "buyMax": 110, "sellMin": 80, "sellMax": 120, "step": 10, "interval": "30m"},
       "stock": {"buy": 64, "sell": 32, "restock": "1h"}},
      {"id": "carrot", "pricer": {"type": "DYNAMIC", "buyPrice": 10, "sellPrice": 5, "buyStep": 0.5, "sellStep": 0.25, "buyMin": 1, "buyMax": 100, "sellMin": 1, "sellMax": 50}},
      {"id": "stone", "pricer": {"type": "FLAT", "buyPrice": 2, "sellPrice": 1}, "stock": {"buy": 10, "restock": "1h"}}
    ]
  }]
}`

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

// holdFlush keeps dirty records dirty so tests can inspect them.
type holdFlush struct {
	*state.Manager
	flushes int
}

func (h *holdFlush) Flush(context.Context) state.FlushResult {
	h.flushes++
	return state.FlushResult{}
}

// failingStates panics when a price record of the given product is created
// or fetched for writing.
type failingStates struct {
	*state.Manager
	product string
}

func (f failingStates) GetOrCreatePriceData(ctx context.Context, shopID, productID string) *model.PriceData {
	if strings.EqualFold(productID, f.product) {
		panic("price store unavailable")
	}
	return f.Manager.GetOrCreatePriceData(ctx, shopID, productID)
}

type env struct {
	ctx      context.Context
	store    *repository.SQLStore
	states   *state.Manager
	registry *shop.Registry
	hold     *holdFlush
	proc     *processor.Processor
}

func newEnv(t *testing.T, seed []model.PriceRecord, stocks []model.StockRecord) *env {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(":memory:", repository.DefaultTables(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	for _, rec := range seed {
		require.NoError(t, store.InsertPriceData(ctx, rec))
	}
	for _, rec := range stocks {
		require.NoError(t, store.InsertStockData(ctx, rec))
	}

	states := state.NewManager(state.Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, states.LoadAll(ctx))

	c, err := shop.ParseCatalog([]byte(catalog))
	require.NoError(t, err)
	registry := shop.NewRegistry(states, zerolog.Nop())
	require.NoError(t, registry.Load(c))

	hold := &holdFlush{Manager: states}
	proc := processor.New(registry, hold, zerolog.Nop(), nil).WithClock(func() time.Time { return now })

	return &env{ctx: ctx, store: store, states: states, registry: registry, hold: hold, proc: proc}
}

func TestFloatingPriceExpiry(t *testing.T) {
	e := newEnv(t, []model.PriceRecord{{
		ShopID:          "farm",
		ProductID:       "wheat",
		LatestBuyPrice:  100,
		LatestSellPrice: 95,
		ExpireDate:      now.UnixMilli() - 1,
	}}, nil)

	product, ok := e.registry.Product("farm", "wheat")
	require.True(t, ok)
	floating, ok := product.Pricer.(*pricer.Float)
	require.True(t, ok)
	floating.WithSeed(42)

	batch := e.proc.Process(e.ctx)
	require.Len(t, batch.Reprices(), 2)
	require.Len(t, batch.Shops(), 1)

	res := e.proc.Apply(e.ctx, batch)
	require.Equal(t, 2, res.Repriced)
	require.Zero(t, res.Failed)
	require.Equal(t, 1, e.hold.flushes)

	wheat, ok := e.states.GetPriceData("farm", "wheat")
	require.True(t, ok)
	rec := wheat.Record()
	require.NotEqual(t, 100.0, rec.LatestBuyPrice, "expired price is rolled")
	require.InDelta(t, 100, rec.LatestBuyPrice, 10)
	require.LessOrEqual(t, rec.LatestSellPrice, rec.LatestBuyPrice)
	require.Equal(t, now.UnixMilli(), rec.LatestUpdateDate)
	require.Equal(t, now.Add(30*time.Minute).UnixMilli(), rec.ExpireDate)
	require.True(t, wheat.IsDirty())
}

func TestDynamicPriceDemand(t *testing.T) {
	e := newEnv(t, []model.PriceRecord{{
		ShopID:          "farm",
		ProductID:       "carrot",
		LatestBuyPrice:  10,
		LatestSellPrice: 5,
		ExpireDate:      model.NeverExpires,
		Purchases:       50,
		Sales:           10,
	}}, nil)

	e.proc.Apply(e.ctx, e.proc.Process(e.ctx))

	carrot, ok := e.states.GetPriceData("farm", "carrot")
	require.True(t, ok)
	rec := carrot.Record()
	require.Equal(t, 30.0, rec.LatestBuyPrice)
	require.Greater(t, rec.LatestBuyPrice, 10.0)
	require.Equal(t, 15.0, rec.LatestSellPrice)
	require.Equal(t, model.NeverExpires, rec.ExpireDate)

	// Dynamic prices stay eligible on every tick.
	p, _ := e.registry.Product("farm", "carrot")
	require.True(t, p.NeedsPriceUpdate(now.UnixMilli()))
}

func TestSellNeverExceedsBuy(t *testing.T) {
	e := newEnv(t, nil, nil)
	for range 50 {
		e.proc.Apply(e.ctx, e.proc.Process(e.ctx))
		for _, d := range e.states.PriceDatas() {
			rec := d.Record()
			if rec.LatestBuyPrice >= 0 {
				require.LessOrEqual(t, rec.LatestSellPrice, rec.LatestBuyPrice)
			}
		}
		// Expire the floating price again for the next round.
		wheat, _ := e.states.GetPriceData("farm", "wheat")
		wheat.Update(func(r *model.PriceRecord) { r.ExpireDate = now.UnixMilli() })
	}
}

func TestRestockBoundaryInclusive(t *testing.T) {
	e := newEnv(t, nil, []model.StockRecord{
		{ShopID: "farm", ProductID: "wheat", Holder: "farm", BuyStock: 1, SellStock: 2, RestockDate: now.UnixMilli()},
		{ShopID: "farm", ProductID: "stone", Holder: "farm", BuyStock: 3, RestockDate: now.UnixMilli() + 1},
	})

	batch := e.proc.Process(e.ctx)
	restocks := batch.Restocks()
	require.Len(t, restocks, 1)
	require.Equal(t, "wheat", restocks[0].ID)

	res := e.proc.Apply(e.ctx, batch)
	require.Equal(t, 1, res.Restocked)

	wheat, _ := e.states.GetStockData("farm", "wheat", "farm")
	require.Equal(t, 64, wheat.Record().BuyStock)
	require.Equal(t, 32, wheat.Record().SellStock)
	require.Equal(t, now.Add(time.Hour).UnixMilli(), wheat.Record().RestockDate)

	stone, _ := e.states.GetStockData("farm", "stone", "farm")
	require.Equal(t, 3, stone.Record().BuyStock)
}

func TestDataSavingScan(t *testing.T) {
	e := newEnv(t, []model.PriceRecord{{ShopID: "farm", ProductID: "stone", LatestBuyPrice: 2, LatestSellPrice: 1}}, nil)

	batch := e.proc.Process(e.ctx)
	require.Empty(t, batch.PriceDatas())

	stone, _ := e.states.GetPriceData("farm", "stone")
	stone.MarkDirty()

	batch = e.proc.Process(e.ctx)
	saved := batch.PriceDatas()
	require.Len(t, saved, 1)
	require.Same(t, stone, saved[0])
}

func TestApplyIsolatesFailures(t *testing.T) {
	e := newEnv(t, nil, nil)

	c, err := shop.ParseCatalog([]byte(catalog))
	require.NoError(t, err)
	failing := shop.NewRegistry(failingStates{Manager: e.states, product: "carrot"}, zerolog.Nop())
	require.NoError(t, failing.Load(c))

	proc := processor.New(failing, e.hold, zerolog.Nop(), nil).WithClock(func() time.Time { return now })
	res := proc.Apply(e.ctx, proc.Process(e.ctx))
	require.Equal(t, 1, res.Repriced)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Refreshed)

	_, ok := e.states.GetPriceData("farm", "wheat")
	require.True(t, ok)
	_, ok = e.states.GetPriceData("farm", "carrot")
	require.False(t, ok)
}

type brokenShops struct{}

func (brokenShops) Shops() []*shop.Shop { panic("catalog unavailable") }

func (brokenShops) Product(string, string) (*shop.Product, bool) { return nil, false }

func TestScanFailureDoesNotStopOthers(t *testing.T) {
	e := newEnv(t, []model.PriceRecord{{ShopID: "farm", ProductID: "stone"}}, nil)
	stone, _ := e.states.GetPriceData("farm", "stone")
	stone.MarkDirty()

	proc := processor.New(brokenShops{}, e.hold, zerolog.Nop(), nil)
	batch := proc.Process(e.ctx)
	require.Empty(t, batch.Shops())
	require.Empty(t, batch.Reprices())
	require.Len(t, batch.PriceDatas(), 1)
	require.True(t, batch.HasUpdates())
}

func TestBatchWriteOnce(t *testing.T) {
	e := newEnv(t, nil, nil)
	farm, _ := e.registry.Shop("farm")
	wheat, _ := farm.Product("wheat")

	b := processor.NewBatch()
	require.False(t, b.HasUpdates())
	require.True(t, b.AddShop(farm))
	require.False(t, b.AddShop(farm))
	require.True(t, b.AddReprice(wheat, pricer.Quote{Buy: 1}))
	require.False(t, b.AddReprice(wheat, pricer.Quote{Buy: 2}))
	require.True(t, b.AddRestock(wheat))

	snapshot := b.Reprices()
	snapshot[0].Quote.Buy = 99
	require.Equal(t, 1.0, b.Reprices()[0].Quote.Buy)
	require.Equal(t, processor.Counts{Shops: 1, Reprices: 1, Restocks: 1}, b.Counts())
}

type direct struct{}

func (direct) Go(fn func()) error     { fn(); return nil }
func (direct) Submit(fn func()) error { fn(); return nil }

func TestRunner(t *testing.T) {
	e := newEnv(t, nil, nil)
	proc := processor.New(e.registry, e.states, zerolog.Nop(), nil).WithClock(func() time.Time { return now })
	r := processor.NewRunner(proc, direct{}, direct{}, time.Hour, zerolog.Nop())

	require.NoError(t, r.Trigger(e.ctx))
	require.False(t, r.Running())

	wheat, ok := e.states.GetPriceData("farm", "wheat")
	require.True(t, ok)
	require.False(t, wheat.IsDirty())

	rows, err := e.store.LoadPriceDatas(e.ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r.Start()
	r.Stop()
}
