package model

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// RotationRecord is the persisted and replicated form of a rotation schedule.
// Products maps a slot index to the ordered product ids shown in it.
type RotationRecord struct {
	ShopID           string           `json:"shopId" bson:"shop_id"`
	RotationID       string           `json:"rotationId" bson:"rotation_id"`
	NextRotationDate int64            `json:"nextRotationDate" bson:"next_rotation_date"`
	Products         map[int][]string `json:"products" bson:"products"`
}

func (r RotationRecord) Key() RotationKey {
	return NewRotationKey(r.ShopID, r.RotationID)
}

// Validate checks the identity fields.
func (r RotationRecord) Validate() error {
	if r.ShopID == "" {
		return ErrMissingShopID
	}
	if r.RotationID == "" {
		return ErrMissingRotationID
	}
	return nil
}

// Clone deep-copies the products mapping.
func (r RotationRecord) Clone() RotationRecord {
	out := r
	out.Products = make(map[int][]string, len(r.Products))
	for slot, ids := range r.Products {
		out.Products[slot] = slices.Clone(ids)
	}
	return out
}

// RotationData is the live, in-memory rotation schedule of a shop.
type RotationData struct {
	mu    sync.RWMutex
	rec   RotationRecord
	dirty atomic.Bool
}

// NewRotationData wraps a loaded record. The record starts clean.
func NewRotationData(rec RotationRecord) *RotationData {
	if rec.Products == nil {
		rec.Products = make(map[int][]string)
	}
	return &RotationData{rec: rec}
}

// CreateRotationData synthesizes an empty rotation that is due immediately.
func CreateRotationData(shopID, rotationID string) *RotationData {
	d := NewRotationData(RotationRecord{ShopID: shopID, RotationID: rotationID})
	d.dirty.Store(true)
	return d
}

func (d *RotationData) Key() RotationKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec.Key()
}

// Record returns a deep copy of the current values.
func (d *RotationData) Record() RotationRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec.Clone()
}

// Replace overwrites the values with a record received from another node.
// The record ends up clean: the originating node persists it.
func (d *RotationData) Replace(rec RotationRecord) {
	d.mu.Lock()
	d.rec = rec.Clone()
	d.mu.Unlock()
	d.dirty.Store(false)
}

// IsRotationTime reports whether the rotation is due at now (Unix ms).
func (d *RotationData) IsRotationTime(now int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return now >= d.rec.NextRotationDate
}

// Rotate replaces the slot assignment and schedules the next rotation.
func (d *RotationData) Rotate(products map[int][]string, next int64) {
	d.mu.Lock()
	d.rec.Products = make(map[int][]string, len(products))
	for slot, ids := range products {
		d.rec.Products[slot] = slices.Clone(ids)
	}
	d.rec.NextRotationDate = next
	d.mu.Unlock()
	d.dirty.Store(true)
}

// Slots returns the occupied slot indices in ascending order.
func (d *RotationData) Slots() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.rec.Products))
}

func (d *RotationData) IsDirty() bool { return d.dirty.Load() }

func (d *RotationData) MarkDirty() { d.dirty.Store(true) }

// TakeDirty clears the dirty flag and reports whether it was set.
func (d *RotationData) TakeDirty() bool { return d.dirty.CompareAndSwap(true, false) }
