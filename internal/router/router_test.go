package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopsync/internal/handler"
	"shopsync/internal/market"
	"shopsync/internal/model"
	"shopsync/internal/observability"
	"shopsync/internal/replication"
	"shopsync/internal/repository"
	"shopsync/internal/router"
	"shopsync/internal/shop"
	"shopsync/internal/state"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	adminKey = "secret"
	catalog  = `{"shops": [{"id": "farm", "products": [
		{"id": "stone", "pricer": {"type": "FLAT", "buyPrice": 2, "sellPrice": 1}}
	]}]}`
)

type fixture struct {
	mux    *chi.Mux
	health *observability.Health
	states *state.Manager
	online *replication.OnlineSet
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(":memory:", repository.DefaultTables(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	states := state.NewManager(state.Options{Store: store, Logger: zerolog.Nop()})
	c, err := shop.ParseCatalog([]byte(catalog))
	require.NoError(t, err)
	shops := shop.NewRegistry(states, zerolog.Nop())
	require.NoError(t, shops.Load(c))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.Published("PRICE_DATA_UPSERT")

	health := observability.NewHealth()
	online := replication.NewOnlineSet()
	listings := market.NewListingBook(nil, zerolog.Nop())
	listings.Add(model.ActiveListing{OwnerName: "alice", Currency: "coins", Price: 5})

	mux := router.New(router.Config{
		Handler:     handler.New(health, states, nil, online, "shopsync", "test"),
		ShopHandler: handler.NewShopHandler(shops, listings),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			States:    states,
			Store:     store,
			StoreType: "sqlite",
			Health:    health,
			Listings:  listings,
		}),
		AdminKey: key,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})

	require.NoError(t, states.LoadAll(ctx))
	shops.UpdateAllPrices(ctx, time.Now())

	return &fixture{mux: mux, health: health, states: states, online: online}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, key string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, adminKey)

	rec, env := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = f.do(t, http.MethodGet, "/api/v1/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.health.SetReady(true)
	rec, env = f.do(t, http.MethodGet, "/api/v1/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var ready handler.ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &ready))
	require.True(t, ready.Ready)
	require.Len(t, ready.Checks, 2)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, adminKey)

	rec, env := f.do(t, http.MethodGet, "/api/v1/admin/stats", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/admin/stats", "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/v1/admin/stats", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		State  state.Stats    `json:"state"`
		Sync   map[string]any `json:"sync"`
		Market map[string]int `json:"market"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	require.True(t, stats.State.Loaded)
	require.Equal(t, "disabled", stats.Sync["status"])
	require.Equal(t, 1, stats.Market["active_listings"])

	t.Run("NoKeyConfigured", func(t *testing.T) {
		f := newFixture(t, "")
		rec, _ := f.do(t, http.MethodGet, "/api/v1/admin/stats", "anything")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminFlushAndResync(t *testing.T) {
	f := newFixture(t, adminKey)
	f.health.SetReady(true)

	stone := f.states.GetOrCreatePriceData(context.Background(), "farm", "stone")
	stone.Update(func(r *model.PriceRecord) {
		r.LatestBuyPrice = 7
		r.LatestSellPrice = 3
	})

	rec, env := f.do(t, http.MethodPost, "/api/v1/admin/flush", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var flushed struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &flushed))
	require.Equal(t, 1, flushed.Total)
	require.False(t, stone.IsDirty())

	rec, _ = f.do(t, http.MethodPost, "/api/v1/admin/resync", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.health.IsReady())

	reloaded, ok := f.states.GetPriceData("farm", "stone")
	require.True(t, ok)
	require.Equal(t, 7.0, reloaded.Record().LatestBuyPrice)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/admin/process", adminKey)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShopRoutes(t *testing.T) {
	f := newFixture(t, adminKey)

	rec, env := f.do(t, http.MethodGet, "/api/v1/shops/FARM", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var farm handler.ShopView
	require.NoError(t, json.Unmarshal(env.Data, &farm))
	require.Equal(t, []handler.ProductView{{ID: "stone", BuyPrice: 2, SellPrice: 1}}, farm.Products)

	rec, env = f.do(t, http.MethodGet, "/api/v1/shops/mine", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = f.do(t, http.MethodGet, "/api/v1/market/listings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listings []model.ActiveListing
	require.NoError(t, json.Unmarshal(env.Data, &listings))
	require.Len(t, listings, 1)
	require.Equal(t, "alice", listings[0].OwnerName)
}

func TestPlayers(t *testing.T) {
	f := newFixture(t, adminKey)

	rec, _ := f.do(t, http.MethodPut, "/api/v1/admin/players/Steve", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Steve"}, f.online.Names())

	rec, env := f.do(t, http.MethodGet, "/api/v1/players", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var players handler.PlayersResponse
	require.NoError(t, json.Unmarshal(env.Data, &players))
	require.Equal(t, []string{"Steve"}, players.All)
	require.Empty(t, players.CrossNode)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/admin/players/steve", adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/api/v1/admin/players/steve", adminKey)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndNotFound(t *testing.T) {
	f := newFixture(t, adminKey)

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "shopsync_sync_messages_published_total")

	rec, env := f.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, env.Success)
}
