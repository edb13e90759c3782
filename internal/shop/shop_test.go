package shop_test

import (
	"context"
	"testing"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/repository"
	"shopsync/internal/shop"
	"shopsync/internal/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "shops": [
    {
      "id": "Farm",
      "products": [
        {"id": "wheat", "pricer": {"type": "FLOAT", "buyMin": 90, "buyMax": 110, "sellMin": 40, "sellMax": 60, "step": 10, "interval": "30m"},
         "stock": {"buy": 64, "sell": 32, "restock": "1h"}},
        {"id": "carrot", "pricer": {"type": "DYNAMIC", "buyPrice": 10, "sellPrice": 5, "buyStep": 0.5, "sellStep": 0.25, "buyMin": 1, "buyMax": 100, "sellMin": 1, "sellMax": 50}},
        {"id": "stone", "pricer": {"type": "FLAT", "buyPrice": 2, "sellPrice": 1}, "stock": {"buy": 10, "personal": true}}
      ],
      "rotations": [{"id": "daily", "slots": 2, "interval": "24h", "products": ["wheat", "carrot", "stone"]}]
    },
    {"id": "mine", "products": [{"id": "iron", "pricer": {"type": "flat", "buyPrice": 8}}]}
  ]
}`

var base = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type env struct {
	ctx      context.Context
	states   *state.Manager
	registry *shop.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:", repository.DefaultTables(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	states := state.NewManager(state.Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return base },
	})
	require.NoError(t, states.LoadAll(context.Background()))

	catalog, err := shop.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	registry := shop.NewRegistry(states, zerolog.Nop())
	require.NoError(t, registry.Load(catalog))

	return &env{ctx: context.Background(), states: states, registry: registry}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"InvalidJSON", `{"shops": [`},
		{"MissingShopID", `{"shops": [{"id": " "}]}`},
		{"DuplicateShop", `{"shops": [{"id": "a"}, {"id": "A"}]}`},
		{"MissingProductID", `{"shops": [{"id": "a", "products": [{"id": ""}]}]}`},
		{"DuplicateProduct", `{"shops": [{"id": "a", "products": [{"id": "x"}, {"id": "X"}]}]}`},
		{"RotationWithoutSlots", `{"shops": [{"id": "a", "rotations": [{"id": "r"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := shop.ParseCatalog([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestRegistryLoad(t *testing.T) {
	e := newEnv(t)

	shops := e.registry.Shops()
	require.Len(t, shops, 2)
	require.Equal(t, "Farm", shops[0].ID)

	p, ok := e.registry.Product("FARM", "Wheat")
	require.True(t, ok)
	require.Equal(t, model.GlobalKey("farm", "wheat"), p.Key())
	require.Equal(t, 64, p.Limits.BuyInitial)
	require.Equal(t, time.Hour, p.Limits.RestockCooldown)

	iron, ok := e.registry.Product("mine", "iron")
	require.True(t, ok)
	require.Equal(t, -1, iron.Limits.BuyInitial)

	t.Run("BrokenCatalogKeepsShops", func(t *testing.T) {
		bad := &shop.Catalog{Shops: []shop.ShopConfig{{ID: "x", Products: []shop.ProductConfig{{ID: "y", Stock: shop.StockConfig{Restock: "soon"}}}}}}
		require.Error(t, e.registry.Load(bad))
		require.Len(t, e.registry.Shops(), 2)
	})
}

func TestUpdateAllPrices(t *testing.T) {
	e := newEnv(t)

	require.Equal(t, 2, e.registry.UpdateAllPrices(e.ctx, base))

	wheat, ok := e.states.GetPriceData("farm", "wheat")
	require.True(t, ok)
	rec := wheat.Record()
	require.GreaterOrEqual(t, rec.LatestBuyPrice, 90.0)
	require.LessOrEqual(t, rec.LatestBuyPrice, 110.0)
	require.LessOrEqual(t, rec.LatestSellPrice, rec.LatestBuyPrice)
	require.Equal(t, base.Add(30*time.Minute).UnixMilli(), rec.ExpireDate)
	require.Equal(t, base.UnixMilli(), rec.LatestUpdateDate)
	require.True(t, wheat.IsDirty())

	carrot, ok := e.states.GetPriceData("farm", "carrot")
	require.True(t, ok)
	require.Equal(t, 10.0, carrot.Record().LatestBuyPrice)
	require.Equal(t, model.NeverExpires, carrot.Record().ExpireDate)

	_, ok = e.states.GetPriceData("farm", "stone")
	require.False(t, ok)

	farm, _ := e.registry.Shop("farm")
	p, _ := farm.Product("wheat")
	require.False(t, p.NeedsPriceUpdate(base.UnixMilli()))
	require.True(t, p.NeedsPriceUpdate(base.Add(30*time.Minute).UnixMilli()))
}

func TestTrade(t *testing.T) {
	e := newEnv(t)
	farm, _ := e.registry.Shop("farm")

	t.Run("PersonalStock", func(t *testing.T) {
		stone, _ := farm.Product("stone")
		total, err := stone.Trade(e.ctx, "player-1", model.Buy, 4)
		require.NoError(t, err)
		require.Equal(t, 8.0, total)

		d, ok := e.states.GetStockData("farm", "stone", "player-1")
		require.True(t, ok)
		require.Equal(t, 6, d.Record().BuyStock)

		_, err = stone.Trade(e.ctx, "player-1", model.Buy, 7)
		require.ErrorIs(t, err, shop.ErrOutOfStock)

		_, err = stone.Trade(e.ctx, "player-2", model.Buy, 7)
		require.NoError(t, err)
	})

	t.Run("DemandRaisesDynamicPrice", func(t *testing.T) {
		carrot, _ := farm.Product("carrot")
		require.Equal(t, 10.0, carrot.Price(model.Buy))

		_, err := carrot.Trade(e.ctx, "player-1", model.Buy, 40)
		require.NoError(t, err)
		require.True(t, carrot.UpdatePrice(e.ctx, base))
		require.Equal(t, 30.0, carrot.Price(model.Buy))
		require.Equal(t, 15.0, carrot.Price(model.Sell))
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		wheat, _ := farm.Product("wheat")
		_, err := wheat.Trade(e.ctx, "", model.Sell, 0)
		require.Error(t, err)
	})
}

func TestRestock(t *testing.T) {
	e := newEnv(t)
	wheat, _ := e.registry.Product("farm", "wheat")

	_, err := wheat.Trade(e.ctx, "player-1", model.Sell, 30)
	require.NoError(t, err)
	d := wheat.StockData(e.ctx, "")
	require.Equal(t, 2, d.Record().SellStock)

	due := base.Add(time.Hour).UnixMilli()
	require.Zero(t, wheat.Restock(e.ctx, due-1))
	require.Equal(t, 1, wheat.Restock(e.ctx, due))
	require.Equal(t, 32, d.Record().SellStock)
	require.Equal(t, due+time.Hour.Milliseconds(), d.Record().RestockDate)
}

func TestRotation(t *testing.T) {
	e := newEnv(t)
	farm, _ := e.registry.Shop("farm")
	require.True(t, farm.NeedsUpdate(base.UnixMilli()))

	require.Equal(t, 1, farm.Refresh(e.ctx, base))
	require.Equal(t, base.UnixMilli(), farm.RefreshedAt())

	d, ok := e.states.GetRotationData("farm", "daily")
	require.True(t, ok)
	require.Equal(t, map[int][]string{0: {"wheat"}, 1: {"carrot"}}, d.Record().Products)

	r := farm.Rotations()[0]
	require.False(t, r.Due(base.Add(23*time.Hour).UnixMilli()))
	require.Zero(t, farm.Refresh(e.ctx, base.Add(23*time.Hour)))

	next := base.Add(24 * time.Hour)
	require.Equal(t, 1, farm.Refresh(e.ctx, next))
	require.Equal(t, map[int][]string{0: {"stone"}, 1: {"wheat"}}, d.Record().Products)
}

func TestRegistryRemove(t *testing.T) {
	e := newEnv(t)
	e.registry.UpdateAllPrices(e.ctx, base)

	require.True(t, e.registry.Remove("FARM"))
	require.False(t, e.registry.Remove("farm"))
	_, ok := e.registry.Shop("farm")
	require.False(t, ok)
	_, ok = e.states.GetPriceData("farm", "wheat")
	require.False(t, ok)
}
