package handler

import (
	"net/http"

	"shopsync/internal/model"
	"shopsync/internal/shop"
	"shopsync/pkg/apierror"
	"shopsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Catalog is the read side of the shop registry.
type Catalog interface {
	Shops() []*shop.Shop
	Shop(id string) (*shop.Shop, bool)
}

// Listings is the read side of the market.
type Listings interface {
	Listings() []model.ActiveListing
}

// ShopHandler serves the read-only shop and market routes.
type ShopHandler struct {
	catalog  Catalog
	listings Listings
}

// NewShopHandler creates a shop handler. listings may be nil.
func NewShopHandler(catalog Catalog, listings Listings) *ShopHandler {
	return &ShopHandler{catalog: catalog, listings: listings}
}

// ProductView is a product with its current prices.
type ProductView struct {
	ID        string  `json:"id"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Personal  bool    `json:"personal_stock,omitempty"`
}

// ShopView is a shop with its products.
type ShopView struct {
	ID          string        `json:"id"`
	RefreshedAt int64         `json:"refreshed_at"`
	Products    []ProductView `json:"products"`
}

func viewOf(s *shop.Shop) ShopView {
	v := ShopView{
		ID:          s.ID,
		RefreshedAt: s.RefreshedAt(),
		Products:    make([]ProductView, 0, len(s.Products())),
	}
	for _, p := range s.Products() {
		v.Products = append(v.Products, ProductView{
			ID:        p.ID,
			BuyPrice:  p.Price(model.Buy),
			SellPrice: p.Price(model.Sell),
			Personal:  p.Personal,
		})
	}
	return v
}

// ListShops handles GET /api/v1/shops
func (h *ShopHandler) ListShops(w http.ResponseWriter, r *http.Request) {
	shops := h.catalog.Shops()
	views := make([]ShopView, 0, len(shops))
	for _, s := range shops {
		views = append(views, viewOf(s))
	}
	response.OK(w, views)
}

// GetShop handles GET /api/v1/shops/{shop_id}
func (h *ShopHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "shop_id")
	s, ok := h.catalog.Shop(id)
	if !ok {
		response.Error(w, apierror.NotFound("shop "+id+" not found"))
		return
	}
	response.OK(w, viewOf(s))
}

// ListListings handles GET /api/v1/market/listings
func (h *ShopHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	if h.listings == nil {
		response.OK(w, []model.ActiveListing{})
		return
	}
	response.OK(w, h.listings.Listings())
}
