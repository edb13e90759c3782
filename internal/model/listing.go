package model

import "github.com/google/uuid"

// ActiveListing is an auction listing that can still be bought.
type ActiveListing struct {
	ID           uuid.UUID `json:"id"`
	Owner        uuid.UUID `json:"owner"`
	OwnerName    string    `json:"ownerName"`
	TypingType   string    `json:"typingType"`
	TypingData   string    `json:"typingData"`
	Currency     string    `json:"currency"`
	Price        float64   `json:"price"`
	CreationDate int64     `json:"creationDate"`
	ExpireDate   int64     `json:"expireDate"`
	DeletionDate int64     `json:"deletionDate"`
}

// CompletedListing is an auction listing that has been bought and waits for
// its owner to claim the money.
type CompletedListing struct {
	ID           uuid.UUID `json:"id"`
	Owner        uuid.UUID `json:"owner"`
	OwnerName    string    `json:"ownerName"`
	BuyerName    string    `json:"buyerName"`
	TypingType   string    `json:"typingType"`
	TypingData   string    `json:"typingData"`
	Currency     string    `json:"currency"`
	Price        float64   `json:"price"`
	CreationDate int64     `json:"creationDate"`
	BuyDate      int64     `json:"buyDate"`
	DeletionDate int64     `json:"deletionDate"`
	Claimed      bool      `json:"claimed"`
}

// Bank holds the per-currency balances of a chest shop owner.
type Bank struct {
	Holder   uuid.UUID          `json:"holder"`
	Balances map[string]float64 `json:"balanceMap"`
}
