// Package market keeps the auction listings and chest bank balances that
// nodes share over the sync channel.
package market

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"shopsync/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrAlreadyClaimed  = errors.New("listing already claimed")
)

// ListingPublisher broadcasts local listing changes.
type ListingPublisher interface {
	PublishListingAdd(l model.ActiveListing)
	PublishListingDelete(id uuid.UUID)
	PublishCompletedAdd(l model.CompletedListing)
	PublishCompletedUpdate(id uuid.UUID, claimed bool)
	PublishCompletedDelete(id uuid.UUID)
}

// ListingBook holds the active and completed auction listings of the
// network. Local changes are published, remote ones are only applied.
type ListingBook struct {
	mu        sync.RWMutex
	active    map[uuid.UUID]model.ActiveListing
	completed map[uuid.UUID]model.CompletedListing
	pubMu     sync.RWMutex
	publisher ListingPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewListingBook creates an empty book. publisher may be nil.
func NewListingBook(publisher ListingPublisher, logger zerolog.Logger) *ListingBook {
	return &ListingBook{
		active:    make(map[uuid.UUID]model.ActiveListing),
		completed: make(map[uuid.UUID]model.CompletedListing),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetPublisher replaces the publisher. It is set once the transport exists.
func (b *ListingBook) SetPublisher(p ListingPublisher) {
	b.pubMu.Lock()
	b.publisher = p
	b.pubMu.Unlock()
}

func (b *ListingBook) pub() ListingPublisher {
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()
	return b.publisher
}

// Add lists an item. A missing id and creation date are filled in.
func (b *ListingBook) Add(l model.ActiveListing) model.ActiveListing {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreationDate == 0 {
		l.CreationDate = b.now().UnixMilli()
	}

	b.mu.Lock()
	b.active[l.ID] = l
	b.mu.Unlock()

	if p := b.pub(); p != nil {
		p.PublishListingAdd(l)
	}
	return l
}

// Remove takes a listing off the market.
func (b *ListingBook) Remove(id uuid.UUID) bool {
	b.mu.Lock()
	_, ok := b.active[id]
	delete(b.active, id)
	b.mu.Unlock()

	if p := b.pub(); ok && p != nil {
		p.PublishListingDelete(id)
	}
	return ok
}

// Buy moves an active listing to the completed listings of its owner.
func (b *ListingBook) Buy(id uuid.UUID, buyerName string, retention time.Duration) (model.CompletedListing, error) {
	now := b.now().UnixMilli()

	b.mu.Lock()
	l, ok := b.active[id]
	if !ok {
		b.mu.Unlock()
		return model.CompletedListing{}, ErrListingNotFound
	}
	delete(b.active, id)
	c := model.CompletedListing{
		ID:           l.ID,
		Owner:        l.Owner,
		OwnerName:    l.OwnerName,
		BuyerName:    buyerName,
		TypingType:   l.TypingType,
		TypingData:   l.TypingData,
		Currency:     l.Currency,
		Price:        l.Price,
		CreationDate: l.CreationDate,
		BuyDate:      now,
		DeletionDate: now + retention.Milliseconds(),
	}
	b.completed[id] = c
	b.mu.Unlock()

	if p := b.pub(); p != nil {
		p.PublishListingDelete(id)
		p.PublishCompletedAdd(c)
	}
	return c, nil
}

// Claim marks the money of a completed listing as collected.
func (b *ListingBook) Claim(id uuid.UUID) (model.CompletedListing, error) {
	b.mu.Lock()
	c, ok := b.completed[id]
	if !ok {
		b.mu.Unlock()
		return c, ErrListingNotFound
	}
	if c.Claimed {
		b.mu.Unlock()
		return c, ErrAlreadyClaimed
	}
	c.Claimed = true
	b.completed[id] = c
	b.mu.Unlock()

	if p := b.pub(); p != nil {
		p.PublishCompletedUpdate(id, true)
	}
	return c, nil
}

// Purge drops listings whose deletion date passed and returns how many
// were removed.
func (b *ListingBook) Purge(now int64) int {
	var listings, completed []uuid.UUID

	b.mu.Lock()
	for id, l := range b.active {
		if l.DeletionDate > 0 && now >= l.DeletionDate {
			delete(b.active, id)
			listings = append(listings, id)
		}
	}
	for id, c := range b.completed {
		if c.DeletionDate > 0 && now >= c.DeletionDate {
			delete(b.completed, id)
			completed = append(completed, id)
		}
	}
	b.mu.Unlock()

	if p := b.pub(); p != nil {
		for _, id := range listings {
			p.PublishListingDelete(id)
		}
		for _, id := range completed {
			p.PublishCompletedDelete(id)
		}
	}
	if n := len(listings) + len(completed); n > 0 {
		b.logger.Info().Int("listings", len(listings)).Int("completed", len(completed)).Msg("purged auction listings")
	}
	return len(listings) + len(completed)
}

func (b *ListingBook) Listing(id uuid.UUID) (model.ActiveListing, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.active[id]
	return l, ok
}

func (b *ListingBook) Completed(id uuid.UUID) (model.CompletedListing, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.completed[id]
	return c, ok
}

// Listings returns the active listings, oldest first.
func (b *ListingBook) Listings() []model.ActiveListing {
	b.mu.RLock()
	out := make([]model.ActiveListing, 0, len(b.active))
	for _, l := range b.active {
		out = append(out, l)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y model.ActiveListing) int {
		if c := cmp.Compare(x.CreationDate, y.CreationDate); c != 0 {
			return c
		}
		return slices.Compare(x.ID[:], y.ID[:])
	})
	return out
}

// Unclaimed returns the completed listings of owner that still hold money.
func (b *ListingBook) Unclaimed(owner uuid.UUID) []model.CompletedListing {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.CompletedListing
	for _, c := range b.completed {
		if c.Owner == owner && !c.Claimed {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(x, y model.CompletedListing) int { return cmp.Compare(x.BuyDate, y.BuyDate) })
	return out
}

// Counts returns the number of active and completed listings.
func (b *ListingBook) Counts() (active, completed int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.active), len(b.completed)
}

func (b *ListingBook) ApplyListingAdd(l model.ActiveListing) {
	b.mu.Lock()
	b.active[l.ID] = l
	b.mu.Unlock()
}

func (b *ListingBook) ApplyListingDelete(id uuid.UUID) {
	b.mu.Lock()
	delete(b.active, id)
	b.mu.Unlock()
}

func (b *ListingBook) ApplyCompletedAdd(c model.CompletedListing) {
	b.mu.Lock()
	delete(b.active, c.ID)
	b.completed[c.ID] = c
	b.mu.Unlock()
}

// ApplyCompletedUpdate sets the claimed flag of a known completed listing.
// Updates for unknown listings are ignored.
func (b *ListingBook) ApplyCompletedUpdate(id uuid.UUID, claimed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.completed[id]
	if !ok {
		b.logger.Debug().Str("listing_id", id.String()).Msg("claim update for unknown listing")
		return
	}
	c.Claimed = claimed
	b.completed[id] = c
}

func (b *ListingBook) ApplyCompletedDelete(id uuid.UUID) {
	b.mu.Lock()
	delete(b.completed, id)
	b.mu.Unlock()
}
