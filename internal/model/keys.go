package model

import "strings"

// ProductKey identifies a price or stock record. Holder equals ShopID for
// shop-global records and a player id for personal stock records.
//
// Fields are stored lower-cased so that two keys compare equal with == when
// their ids match case-insensitively.
type ProductKey struct {
	ShopID    string
	ProductID string
	Holder    string
}

// NewProductKey builds a normalized product key.
func NewProductKey(shopID, productID, holder string) ProductKey {
	return ProductKey{
		ShopID:    strings.ToLower(shopID),
		ProductID: strings.ToLower(productID),
		Holder:    strings.ToLower(holder),
	}
}

// GlobalKey returns the key of the shop-global record of a product.
func GlobalKey(shopID, productID string) ProductKey {
	return NewProductKey(shopID, productID, shopID)
}

// IsShop reports whether the key belongs to the given shop.
func (k ProductKey) IsShop(shopID string) bool {
	return k.ShopID == strings.ToLower(shopID)
}

// IsProduct reports whether the key belongs to the given shop product.
func (k ProductKey) IsProduct(shopID, productID string) bool {
	return k.IsShop(shopID) && k.ProductID == strings.ToLower(productID)
}

// IsGlobal reports whether the key addresses a shop-global record.
func (k ProductKey) IsGlobal() bool {
	return k.Holder == k.ShopID
}

func (k ProductKey) String() string {
	return k.ShopID + ":" + k.ProductID + ":" + k.Holder
}

// RotationKey identifies a rotation record.
type RotationKey struct {
	ShopID     string
	RotationID string
}

// NewRotationKey builds a normalized rotation key.
func NewRotationKey(shopID, rotationID string) RotationKey {
	return RotationKey{
		ShopID:     strings.ToLower(shopID),
		RotationID: strings.ToLower(rotationID),
	}
}

// IsShop reports whether the key belongs to the given shop.
func (k RotationKey) IsShop(shopID string) bool {
	return k.ShopID == strings.ToLower(shopID)
}

func (k RotationKey) String() string {
	return k.ShopID + ":" + k.RotationID
}
