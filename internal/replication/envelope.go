// Package replication carries state mutations between nodes over a shared
// pub/sub channel.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageKind tags the payload of an envelope.
type MessageKind string

const (
	KindPriceUpsert          MessageKind = "PRICE_DATA_UPSERT"
	KindPriceDeleteByShop    MessageKind = "PRICE_DATA_DELETE_BY_SHOP"
	KindPriceDeleteByProduct MessageKind = "PRICE_DATA_DELETE_BY_PRODUCT"

	KindStockUpsert          MessageKind = "STOCK_DATA_UPSERT"
	KindStockDeleteByShop    MessageKind = "STOCK_DATA_DELETE_BY_SHOP"
	KindStockDeleteByProduct MessageKind = "STOCK_DATA_DELETE_BY_PRODUCT"

	KindRotationUpsert           MessageKind = "ROTATION_DATA_UPSERT"
	KindRotationDeleteByShop     MessageKind = "ROTATION_DATA_DELETE_BY_SHOP"
	KindRotationDeleteByRotation MessageKind = "ROTATION_DATA_DELETE_BY_ROTATION"

	KindChestBankUpsert MessageKind = "CHEST_BANK_UPSERT"

	KindAuctionListingAdd      MessageKind = "AUCTION_LISTING_ADD"
	KindAuctionListingDelete   MessageKind = "AUCTION_LISTING_DELETE"
	KindAuctionCompletedAdd    MessageKind = "AUCTION_COMPLETED_ADD"
	KindAuctionCompletedUpdate MessageKind = "AUCTION_COMPLETED_UPDATE"
	KindAuctionCompletedDelete MessageKind = "AUCTION_COMPLETED_DELETE"

	KindPlayerNamesUpdate MessageKind = "PLAYER_NAMES_UPDATE"
)

var (
	// ErrUnknownKind is returned for envelopes of a kind this node does not
	// handle.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrMissingField is returned when a payload lacks a required field.
	ErrMissingField = errors.New("missing required field")
)

// requiredFields lists the payload fields each kind must carry.
var requiredFields = map[MessageKind][]string{
	KindPriceUpsert:          {"shopId", "productId", "latestBuyPrice", "latestSellPrice", "latestUpdateDate", "expireDate", "purchases", "sales"},
	KindPriceDeleteByShop:    {"shopId"},
	KindPriceDeleteByProduct: {"shopId", "productId"},

	KindStockUpsert:          {"shopId", "productId", "holder", "buyStock", "sellStock", "restockDate"},
	KindStockDeleteByShop:    {"shopId"},
	KindStockDeleteByProduct: {"shopId", "productId"},

	KindRotationUpsert:           {"shopId", "rotationId", "nextRotationDate", "products"},
	KindRotationDeleteByShop:     {"shopId"},
	KindRotationDeleteByRotation: {"shopId", "rotationId"},

	KindChestBankUpsert: {"holder", "balanceMap"},

	KindAuctionListingAdd:      {"id", "owner", "ownerName", "typingType", "typingData", "currency", "price", "creationDate", "expireDate", "deletionDate"},
	KindAuctionListingDelete:   {"id"},
	KindAuctionCompletedAdd:    {"id", "owner", "ownerName", "buyerName", "typingType", "typingData", "currency", "price", "creationDate", "buyDate", "deletionDate", "claimed"},
	KindAuctionCompletedUpdate: {"id", "claimed"},
	KindAuctionCompletedDelete: {"id"},

	KindPlayerNamesUpdate: {"playerNames"},
}

// Envelope is the wire form of every message.
type Envelope struct {
	Type   MessageKind     `json:"type"`
	NodeID string          `json:"nodeId"`
	Data   json.RawMessage `json:"data"`
}

// ShopScope addresses every record of a shop.
type ShopScope struct {
	ShopID string `json:"shopId"`
}

// ProductScope addresses the records of one shop product.
type ProductScope struct {
	ShopID    string `json:"shopId"`
	ProductID string `json:"productId"`
}

// RotationScope addresses one rotation of a shop.
type RotationScope struct {
	ShopID     string `json:"shopId"`
	RotationID string `json:"rotationId"`
}

// ListingRef addresses an auction listing.
type ListingRef struct {
	ID uuid.UUID `json:"id"`
}

// CompletedUpdate changes the claimed flag of a completed listing.
type CompletedUpdate struct {
	ID      uuid.UUID `json:"id"`
	Claimed bool      `json:"claimed"`
}

// PlayerNames is the presence payload of a node.
type PlayerNames struct {
	PlayerNames []string `json:"playerNames"`
	Timestamp   int64    `json:"timestamp"`
}

// EncodeEnvelope wraps payload into an envelope of the given kind.
func EncodeEnvelope(kind MessageKind, nodeID string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	out, err := json.Marshal(Envelope{Type: kind, NodeID: nodeID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", kind, err)
	}
	return out, nil
}

// DecodeEnvelope parses an envelope and checks that it has a type and a
// data object.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: type", ErrMissingField)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env, fmt.Errorf("%w: data", ErrMissingField)
	}
	return env, nil
}

// DecodePayload checks the required fields of the envelope kind and decodes
// the data into dst.
func DecodePayload(env Envelope, dst any) error {
	fields, ok := requiredFields[env.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, env.Type)
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &present); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	for _, f := range fields {
		v, ok := present[f]
		if !ok || string(v) == "null" {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, env.Type, f)
		}
	}

	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

// decodeRecord decodes a payload that carries a model record and validates
// its identity.
func decodeRecord[T interface{ Validate() error }](env Envelope) (T, error) {
	var rec T
	if err := DecodePayload(env, &rec); err != nil {
		return rec, err
	}
	if err := rec.Validate(); err != nil {
		return rec, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return rec, nil
}

