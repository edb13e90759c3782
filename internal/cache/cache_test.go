package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shopsync/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(max int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryCache(MemoryConfig{TTL: 30 * time.Second, MaxEntries: max, Now: clock.Now}), clock
}

func price(shop, product string) model.PriceRecord {
	return model.PriceRecord{ShopID: shop, ProductID: product, LatestBuyPrice: 10, LatestSellPrice: 5, ExpireDate: -1}
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(1000)
	c.PutPrice(ctx, price("farm", "wheat"))

	clock.Advance(29 * time.Second)
	got, ok := c.GetPrice(ctx, model.GlobalKey("farm", "wheat"))
	require.True(t, ok)
	require.Equal(t, 10.0, got.LatestBuyPrice)

	clock.Advance(2 * time.Second)
	_, ok = c.GetPrice(ctx, model.GlobalKey("farm", "wheat"))
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "stale entry is evicted on read")
}

func TestMemoryCacheKinds(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(1000)
	c.PutPrice(ctx, price("farm", "wheat"))

	_, ok := c.GetStock(ctx, model.GlobalKey("farm", "wheat"))
	require.False(t, ok)

	c.PutStock(ctx, model.StockRecord{ShopID: "Farm", ProductID: "Wheat", Holder: "Farm", BuyStock: 4})
	stock, ok := c.GetStock(ctx, model.GlobalKey("FARM", "wheat"))
	require.True(t, ok)
	require.Equal(t, 4, stock.BuyStock)
	require.Equal(t, 2, c.Len())
}

func TestMemoryCacheBound(t *testing.T) {
	ctx := context.Background()

	t.Run("SweepsStaleEntries", func(t *testing.T) {
		c, clock := newTestCache(1000)
		for i := 0; i < 600; i++ {
			c.PutPrice(ctx, price("old", fmt.Sprintf("p%d", i)))
		}
		clock.Advance(31 * time.Second)
		for i := 0; i < 400; i++ {
			c.PutPrice(ctx, price("new", fmt.Sprintf("p%d", i)))
		}
		require.Equal(t, 1000, c.Len())

		c.PutPrice(ctx, price("new", "p1000"))
		require.Equal(t, 401, c.Len())
		_, ok := c.GetPrice(ctx, model.GlobalKey("new", "p0"))
		require.True(t, ok)
	})

	t.Run("RefreshDoesNotSweep", func(t *testing.T) {
		c, clock := newTestCache(2)
		c.PutPrice(ctx, price("a", "1"))
		clock.Advance(31 * time.Second)
		c.PutPrice(ctx, price("a", "2"))
		c.PutPrice(ctx, price("a", "2"))
		require.Equal(t, 2, c.Len())
	})

	t.Run("KeepsFreshEntriesWhenFull", func(t *testing.T) {
		c, clock := newTestCache(2)
		c.PutPrice(ctx, price("a", "1"))
		clock.Advance(time.Second)
		c.PutPrice(ctx, price("a", "2"))
		clock.Advance(time.Second)
		c.PutPrice(ctx, price("a", "3"))

		require.Equal(t, 3, c.Len())
		for _, id := range []string{"1", "2", "3"} {
			_, ok := c.GetPrice(ctx, model.GlobalKey("a", id))
			require.True(t, ok, id)
		}
	})
}

func TestMemoryCacheEviction(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(1000)
	c.PutPrice(ctx, price("farm", "wheat"))
	c.PutPrice(ctx, price("farm", "carrot"))
	c.PutStock(ctx, model.StockRecord{ShopID: "farm", ProductID: "wheat", Holder: "steve"})
	c.PutPrice(ctx, price("mine", "coal"))

	c.EvictProduct(ctx, "FARM", "wheat")
	require.Equal(t, 2, c.Len())
	_, ok := c.GetStock(ctx, model.NewProductKey("farm", "wheat", "steve"))
	require.False(t, ok)

	c.EvictShop(ctx, "farm")
	require.Equal(t, 1, c.Len())

	c.Clear(ctx)
	require.Equal(t, 0, c.Len())
}

func TestLayered(t *testing.T) {
	ctx := context.Background()
	local, _ := newTestCache(1000)
	shared, _ := newTestCache(1000)
	l := NewLayered(local, shared)

	shared.PutPrice(ctx, price("farm", "wheat"))
	_, ok := l.GetPrice(ctx, model.GlobalKey("farm", "wheat"))
	require.True(t, ok)
	require.Equal(t, 1, local.Len(), "shared hit is copied locally")

	l.PutStock(ctx, model.StockRecord{ShopID: "farm", ProductID: "wheat", Holder: "farm"})
	require.Equal(t, 2, shared.Len())

	l.EvictShop(ctx, "farm")
	require.Equal(t, 0, local.Len())
	require.Equal(t, 0, shared.Len())
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
