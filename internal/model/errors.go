package model

import "errors"

var (
	// ErrMissingShopID is returned when a record has no shop id.
	ErrMissingShopID = errors.New("missing shop id")
	// ErrMissingProductID is returned when a price or stock record has no product id.
	ErrMissingProductID = errors.New("missing product id")
	// ErrMissingHolder is returned when a stock record has no holder.
	ErrMissingHolder = errors.New("missing holder")
	// ErrMissingRotationID is returned when a rotation record has no rotation id.
	ErrMissingRotationID = errors.New("missing rotation id")
)
