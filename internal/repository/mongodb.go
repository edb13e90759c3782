package repository

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"shopsync/internal/model"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements ShopDataStore using MongoDB, one collection per
// record kind.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	prices    *mongo.Collection
	stocks    *mongo.Collection
	rotations *mongo.Collection
	logger    zerolog.Logger
}

var _ ShopDataStore = (*MongoStore)(nil)

// rotationDocument stores slot indices as string keys.
type rotationDocument struct {
	ShopID           string              `bson:"shop_id"`
	RotationID       string              `bson:"rotation_id"`
	NextRotationDate int64               `bson:"next_rotation_date"`
	Products         map[string][]string `bson:"products"`
}

func toRotationDocument(r model.RotationRecord) rotationDocument {
	doc := rotationDocument{
		ShopID:           r.ShopID,
		RotationID:       r.RotationID,
		NextRotationDate: r.NextRotationDate,
		Products:         make(map[string][]string, len(r.Products)),
	}
	for slot, ids := range r.Products {
		doc.Products[strconv.Itoa(slot)] = ids
	}
	return doc
}

func (d rotationDocument) record() (model.RotationRecord, error) {
	r := model.RotationRecord{
		ShopID:           d.ShopID,
		RotationID:       d.RotationID,
		NextRotationDate: d.NextRotationDate,
		Products:         make(map[int][]string, len(d.Products)),
	}
	for key, ids := range d.Products {
		slot, err := strconv.Atoi(key)
		if err != nil {
			return r, fmt.Errorf("invalid slot %q: %w", key, err)
		}
		r.Products[slot] = ids
	}
	return r, nil
}

// NewMongoStore connects to MongoDB and ensures the identity indexes.
func NewMongoStore(uri, database string, tables Tables, logger zerolog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	tables = tables.withDefaults()
	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		db:        db,
		prices:    db.Collection(tables.Prices),
		stocks:    db.Collection(tables.Stocks),
		rotations: db.Collection(tables.Rotations),
		logger:    logger,
	}

	indexes := map[*mongo.Collection]bson.D{
		s.prices:    {{Key: "shop_id", Value: 1}, {Key: "product_id", Value: 1}},
		s.stocks:    {{Key: "shop_id", Value: 1}, {Key: "product_id", Value: 1}, {Key: "holder", Value: 1}},
		s.rotations: {{Key: "shop_id", Value: 1}, {Key: "rotation_id", Value: 1}},
	}
	for coll, keys := range indexes {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			logger.Warn().Err(err).Str("collection", coll.Name()).Msg("failed to create index")
		}
	}

	logger.Info().Str("database", database).Msg("mongodb store initialized")
	return s, nil
}

// idMatch matches an id case-insensitively.
func idMatch(id string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(id) + "$", Options: "i"}
}

func priceFilter(r model.PriceRecord) bson.M {
	return bson.M{"shop_id": r.ShopID, "product_id": r.ProductID}
}

func stockFilter(r model.StockRecord) bson.M {
	return bson.M{"shop_id": r.ShopID, "product_id": r.ProductID, "holder": r.Holder}
}

func rotationFilter(r model.RotationRecord) bson.M {
	return bson.M{"shop_id": r.ShopID, "rotation_id": r.RotationID}
}

func (s *MongoStore) LoadPriceDatas(ctx context.Context) ([]model.PriceRecord, error) {
	cur, err := s.prices.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to load price data: %w", err)
	}
	var out []model.PriceRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode price data: %w", err)
	}
	return out, nil
}

func (s *MongoStore) LoadStockDatas(ctx context.Context) ([]model.StockRecord, error) {
	cur, err := s.stocks.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to load stock data: %w", err)
	}
	var out []model.StockRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode stock data: %w", err)
	}
	return out, nil
}

func (s *MongoStore) LoadRotationDatas(ctx context.Context) ([]model.RotationRecord, error) {
	cur, err := s.rotations.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation data: %w", err)
	}
	var docs []rotationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rotation data: %w", err)
	}

	out := make([]model.RotationRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.record()
		if err != nil {
			s.logger.Warn().Err(err).Str("shop", doc.ShopID).Str("rotation", doc.RotationID).
				Msg("skipping rotation with invalid products")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// InsertPriceData writes a new price record, replacing a document with the
// same key.
func (s *MongoStore) InsertPriceData(ctx context.Context, rec model.PriceRecord) error {
	return s.bulkWrite(ctx, s.prices, []mongo.WriteModel{priceReplace(rec).SetUpsert(true)})
}

func (s *MongoStore) InsertStockData(ctx context.Context, rec model.StockRecord) error {
	return s.bulkWrite(ctx, s.stocks, []mongo.WriteModel{stockReplace(rec).SetUpsert(true)})
}

func (s *MongoStore) InsertRotationData(ctx context.Context, rec model.RotationRecord) error {
	return s.bulkWrite(ctx, s.rotations, []mongo.WriteModel{rotationReplace(rec).SetUpsert(true)})
}

func priceReplace(r model.PriceRecord) *mongo.ReplaceOneModel {
	return mongo.NewReplaceOneModel().SetFilter(priceFilter(r)).SetReplacement(r)
}

func stockReplace(r model.StockRecord) *mongo.ReplaceOneModel {
	return mongo.NewReplaceOneModel().SetFilter(stockFilter(r)).SetReplacement(r)
}

func rotationReplace(r model.RotationRecord) *mongo.ReplaceOneModel {
	return mongo.NewReplaceOneModel().SetFilter(rotationFilter(r)).SetReplacement(toRotationDocument(r))
}

func (s *MongoStore) bulkWrite(ctx context.Context, coll *mongo.Collection, models []mongo.WriteModel) error {
	if len(models) == 0 {
		return nil
	}
	opts := options.BulkWrite().SetOrdered(false)
	if _, err := coll.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("failed to batch write %s: %w", coll.Name(), err)
	}
	return nil
}

// UpdatePriceDatas replaces existing price documents. Missing documents are
// not created.
func (s *MongoStore) UpdatePriceDatas(ctx context.Context, recs []model.PriceRecord) error {
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, r := range recs {
		models = append(models, priceReplace(r))
	}
	return s.bulkWrite(ctx, s.prices, models)
}

func (s *MongoStore) UpdateStockDatas(ctx context.Context, recs []model.StockRecord) error {
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, r := range recs {
		models = append(models, stockReplace(r))
	}
	return s.bulkWrite(ctx, s.stocks, models)
}

func (s *MongoStore) UpdateRotationDatas(ctx context.Context, recs []model.RotationRecord) error {
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, r := range recs {
		models = append(models, rotationReplace(r))
	}
	return s.bulkWrite(ctx, s.rotations, models)
}

func (s *MongoStore) deleteMany(ctx context.Context, coll *mongo.Collection, filter bson.M) error {
	result, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", coll.Name(), err)
	}
	if result.DeletedCount > 0 {
		s.logger.Debug().Int64("deleted", result.DeletedCount).Str("collection", coll.Name()).Msg("deleted documents")
	}
	return nil
}

func (s *MongoStore) DeletePriceDataByShop(ctx context.Context, shopID string) error {
	return s.deleteMany(ctx, s.prices, bson.M{"shop_id": idMatch(shopID)})
}

func (s *MongoStore) DeletePriceDataByProduct(ctx context.Context, shopID, productID string) error {
	return s.deleteMany(ctx, s.prices, bson.M{"shop_id": idMatch(shopID), "product_id": idMatch(productID)})
}

func (s *MongoStore) DeleteStockDataByShop(ctx context.Context, shopID string) error {
	return s.deleteMany(ctx, s.stocks, bson.M{"shop_id": idMatch(shopID)})
}

func (s *MongoStore) DeleteStockDataByProduct(ctx context.Context, shopID, productID string) error {
	return s.deleteMany(ctx, s.stocks, bson.M{"shop_id": idMatch(shopID), "product_id": idMatch(productID)})
}

func (s *MongoStore) DeleteRotationDataByShop(ctx context.Context, shopID string) error {
	return s.deleteMany(ctx, s.rotations, bson.M{"shop_id": idMatch(shopID)})
}

func (s *MongoStore) DeleteRotationDataByRotation(ctx context.Context, shopID, rotationID string) error {
	return s.deleteMany(ctx, s.rotations, bson.M{"shop_id": idMatch(shopID), "rotation_id": idMatch(rotationID)})
}

// GetStats returns document counts per collection.
func (s *MongoStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"driver": "mongodb"}
	for label, coll := range map[string]*mongo.Collection{
		"price_rows":    s.prices,
		"stock_rows":    s.stocks,
		"rotation_rows": s.rotations,
	} {
		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", coll.Name(), err)
		}
		stats[label] = count
	}
	return stats, nil
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
