package state

import (
	"context"

	"shopsync/internal/model"
)

// Publisher broadcasts local mutations to other nodes. The single-record
// methods may send in the background. The batch methods send on the
// calling goroutine and return once every record was handed to the bus.
type Publisher interface {
	PublishPriceUpsert(rec model.PriceRecord)
	PublishPriceDeleteByShop(shopID string)
	PublishPriceDeleteByProduct(shopID, productID string)

	PublishStockUpsert(rec model.StockRecord)
	PublishStockDeleteByShop(shopID string)
	PublishStockDeleteByProduct(shopID, productID string)

	PublishRotationUpsert(rec model.RotationRecord)
	PublishRotationDeleteByShop(shopID string)
	PublishRotationDeleteByRotation(shopID, rotationID string)

	PublishPriceUpserts(ctx context.Context, recs []model.PriceRecord)
	PublishStockUpserts(ctx context.Context, recs []model.StockRecord)
	PublishRotationUpserts(ctx context.Context, recs []model.RotationRecord)
}

// NopPublisher drops every message. It is used when sync is disabled.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) PublishPriceUpsert(model.PriceRecord) {}
func (NopPublisher) PublishPriceDeleteByShop(string) {}
func (NopPublisher) PublishPriceDeleteByProduct(string, string) {}
func (NopPublisher) PublishStockUpsert(model.StockRecord) {}
func (NopPublisher) PublishStockDeleteByShop(string) {}
func (NopPublisher) PublishStockDeleteByProduct(string, string) {}
func (NopPublisher) PublishRotationUpsert(model.RotationRecord) {}
func (NopPublisher) PublishRotationDeleteByShop(string) {}
func (NopPublisher) PublishRotationDeleteByRotation(string, string) {}
func (NopPublisher) PublishPriceUpserts(context.Context, []model.PriceRecord) {}
func (NopPublisher) PublishStockUpserts(context.Context, []model.StockRecord) {}
func (NopPublisher) PublishRotationUpserts(context.Context, []model.RotationRecord) {}

// TaskRunner runs fire-and-forget background work.
type TaskRunner interface {
	Go(fn func()) error
}

// TaskSubmitter queues work on the state-owning executor.
type TaskSubmitter interface {
	Submit(fn func()) error
}

// inline runs tasks on the calling goroutine.
type inline struct{}

func (inline) Go(fn func()) error     { fn(); return nil }
func (inline) Submit(fn func()) error { fn(); return nil }
