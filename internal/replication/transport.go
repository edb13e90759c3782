package replication

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shopsync/internal/model"
	"shopsync/internal/observability"
	"shopsync/internal/scheduler"
	"shopsync/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultChannel          = "excellentshop:sync"
	DefaultPresenceInterval = 30 * time.Second

	publishTimeout = 5 * time.Second
	applyTimeout   = 5 * time.Second
)

// ErrAlreadyStarted is returned by Start on a transport that is not inactive.
var ErrAlreadyStarted = errors.New("transport already started")

// Status is the connection state of a transport.
type Status int32

const (
	Inactive Status = iota
	Connecting
	Active
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Active:
		return "ACTIVE"
	}
	return "INACTIVE"
}

// StateApplier receives remote price, stock and rotation mutations.
type StateApplier interface {
	ApplyExternalPrice(ctx context.Context, rec model.PriceRecord) error
	ApplyExternalPriceDeleteByShop(ctx context.Context, shopID string)
	ApplyExternalPriceDeleteByProduct(ctx context.Context, shopID, productID string)

	ApplyExternalStock(ctx context.Context, rec model.StockRecord) error
	ApplyExternalStockDeleteByShop(ctx context.Context, shopID string)
	ApplyExternalStockDeleteByProduct(ctx context.Context, shopID, productID string)

	ApplyExternalRotation(ctx context.Context, rec model.RotationRecord) error
	ApplyExternalRotationDeleteByShop(ctx context.Context, shopID string)
	ApplyExternalRotationDeleteByRotation(ctx context.Context, shopID, rotationID string)
}

// ListingApplier receives remote auction listing mutations.
type ListingApplier interface {
	ApplyListingAdd(l model.ActiveListing)
	ApplyListingDelete(id uuid.UUID)
	ApplyCompletedAdd(l model.CompletedListing)
	ApplyCompletedUpdate(id uuid.UUID, claimed bool)
	ApplyCompletedDelete(id uuid.UUID)
}

// BankApplier receives remote chest bank balances.
type BankApplier interface {
	ApplyBank(b model.Bank)
}

// Options configures a Transport. Bus and State are required.
type Options struct {
	Bus     Bus
	Channel string
	// NodeID identifies this node on the wire. A random id is used when empty.
	NodeID string

	State    StateApplier
	Listings ListingApplier
	Bank     BankApplier

	// Pool runs publishes. Executor runs remote mutations. Both default to
	// the calling goroutine.
	Pool     state.TaskRunner
	Executor state.TaskSubmitter

	// Online returns the player names currently on this node.
	Online           func() []string
	PresenceInterval time.Duration

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Transport replicates mutations between nodes over a Bus.
type Transport struct {
	bus      Bus
	channel  string
	nodeID   string
	state    StateApplier
	listings ListingApplier
	bank     BankApplier
	pool     state.TaskRunner
	executor state.TaskSubmitter
	online   func() []string
	interval time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	status   atomic.Int32
	mu       sync.Mutex
	sub      Subscription
	presence *scheduler.IntervalJob

	playersMu sync.RWMutex
	crossNode []string
}

var (
	_ state.Publisher = (*Transport)(nil)
	_ StateApplier    = (*state.Manager)(nil)
)

// NewTransport creates an inactive transport.
func NewTransport(opts Options) *Transport {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if strings.TrimSpace(opts.NodeID) == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.Pool == nil {
		opts.Pool = direct{}
	}
	if opts.Executor == nil {
		opts.Executor = direct{}
	}
	if opts.Online == nil {
		opts.Online = func() []string { return nil }
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = DefaultPresenceInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Transport{
		bus:      opts.Bus,
		channel:  opts.Channel,
		nodeID:   opts.NodeID,
		state:    opts.State,
		listings: opts.Listings,
		bank:     opts.Bank,
		pool:     opts.Pool,
		executor: opts.Executor,
		online:   opts.Online,
		interval: opts.PresenceInterval,
		logger:   opts.Logger.With().Str("node_id", opts.NodeID).Logger(),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// NodeID returns the id this node stamps on its messages.
func (t *Transport) NodeID() string { return t.nodeID }

// Status returns the current connection state.
func (t *Transport) Status() Status { return Status(t.status.Load()) }

// IsActive reports whether messages are being sent and received.
func (t *Transport) IsActive() bool { return t.Status() == Active }

// Start subscribes to the channel and starts the presence broadcast. On
// failure the transport stays inactive and the node runs on its own.
func (t *Transport) Start(ctx context.Context) error {
	if !t.status.CompareAndSwap(int32(Inactive), int32(Connecting)) {
		return ErrAlreadyStarted
	}

	sub, err := t.bus.Subscribe(ctx, t.channel, t.handleMessage)
	if err != nil {
		t.status.Store(int32(Inactive))
		t.logger.Error().Err(err).Str("channel", t.channel).Msg("sync transport unavailable, running single-node")
		return fmt.Errorf("failed to start sync transport: %w", err)
	}

	presence := scheduler.NewIntervalJob(scheduler.IntervalConfig{
		Name:     "presence",
		Interval: t.interval,
	}, t.logger, t.broadcastPresence)

	t.mu.Lock()
	t.sub = sub
	t.presence = presence
	t.mu.Unlock()

	t.status.Store(int32(Active))
	presence.Start()
	go t.watch(sub)

	if err := t.broadcastPresence(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("initial presence broadcast failed")
	}

	t.logger.Info().Str("channel", t.channel).Msg("sync transport active")
	return nil
}

// watch marks the transport inactive when the listener ends on its own.
func (t *Transport) watch(sub Subscription) {
	<-sub.Done()
	if t.status.CompareAndSwap(int32(Active), int32(Inactive)) {
		t.logger.Warn().Msg("sync subscription closed, transport inactive")
	}
}

// Stop unsubscribes and stops the presence broadcast. Pending publishes are
// not awaited.
func (t *Transport) Stop() {
	t.status.Store(int32(Inactive))

	t.mu.Lock()
	sub, presence := t.sub, t.presence
	t.sub, t.presence = nil, nil
	t.mu.Unlock()

	if presence != nil {
		presence.Stop()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	t.logger.Info().Msg("sync transport stopped")
}

// publish encodes and sends a message on the pool. It is a no-op unless the
// transport is active.
func (t *Transport) publish(kind MessageKind, payload any) {
	if !t.IsActive() {
		return
	}

	raw, err := EncodeEnvelope(kind, t.nodeID, payload)
	if err != nil {
		t.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode message")
		return
	}

	err = t.pool.Go(func() {
		t.send(context.Background(), kind, raw)
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("publish dropped")
	}
}

// publishNow encodes and sends a message on the calling goroutine.
func (t *Transport) publishNow(ctx context.Context, kind MessageKind, payload any) {
	if !t.IsActive() {
		return
	}

	raw, err := EncodeEnvelope(kind, t.nodeID, payload)
	if err != nil {
		t.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to encode message")
		return
	}
	t.send(ctx, kind, raw)
}

func (t *Transport) send(ctx context.Context, kind MessageKind, raw []byte) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := t.bus.Publish(ctx, t.channel, raw); err != nil {
		t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to publish message")
		return
	}
	t.metrics.Published(string(kind))
}

// publishEach sends every record in order on the calling goroutine.
func publishEach[T any](ctx context.Context, t *Transport, kind MessageKind, recs []T) {
	for i, rec := range recs {
		if ctx.Err() != nil {
			t.logger.Warn().Err(ctx.Err()).Str("kind", string(kind)).Int("pending", len(recs)-i).
				Msg("batch publish interrupted")
			return
		}
		t.publishNow(ctx, kind, rec)
	}
}

// handleMessage runs on the bus listener. It never panics or returns an
// error to the listener.
func (t *Transport) handleMessage(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.Dropped("panic")
			t.logger.Error().Interface("panic", r).Msg("sync message handler panicked")
		}
	}()

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.metrics.Dropped("malformed")
		t.logger.Warn().Err(err).Msg("dropping malformed sync message")
		return
	}
	if env.NodeID == t.nodeID {
		t.metrics.Dropped("echo")
		return
	}

	if env.Type == KindPlayerNamesUpdate {
		var p PlayerNames
		if err := DecodePayload(env, &p); err != nil {
			t.metrics.Dropped("malformed")
			t.logger.Warn().Err(err).Str("from", env.NodeID).Msg("dropping malformed presence message")
			return
		}
		t.setCrossNode(p)
		t.metrics.Received(string(env.Type))
		return
	}

	apply, err := t.decode(env)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownKind) {
			reason = "unknown_kind"
		}
		t.metrics.Dropped(reason)
		t.logger.Warn().Err(err).Str("from", env.NodeID).Msg("dropping sync message")
		return
	}
	if apply == nil {
		t.metrics.Dropped("no_consumer")
		return
	}

	kind := env.Type
	err = t.executor.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		defer cancel()

		if err := apply(ctx); err != nil {
			t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to apply sync message")
		}
	})
	if err != nil {
		t.metrics.Dropped("executor")
		t.logger.Warn().Err(err).Str("kind", string(kind)).Msg("failed to schedule sync message")
		return
	}
	t.metrics.Received(string(kind))
}

type applyFunc func(ctx context.Context) error

// decode turns an envelope into its apply step. A nil step means this node
// has no consumer for the kind.
func (t *Transport) decode(env Envelope) (applyFunc, error) {
	switch env.Type {
	case KindPriceUpsert:
		rec, err := decodeRecord[model.PriceRecord](env)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return t.state.ApplyExternalPrice(ctx, rec) }, nil

	case KindPriceDeleteByShop:
		var s ShopScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalPriceDeleteByShop(ctx, s.ShopID)
			return nil
		}, nil

	case KindPriceDeleteByProduct:
		var s ProductScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalPriceDeleteByProduct(ctx, s.ShopID, s.ProductID)
			return nil
		}, nil

	case KindStockUpsert:
		rec, err := decodeRecord[model.StockRecord](env)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return t.state.ApplyExternalStock(ctx, rec) }, nil

	case KindStockDeleteByShop:
		var s ShopScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalStockDeleteByShop(ctx, s.ShopID)
			return nil
		}, nil

	case KindStockDeleteByProduct:
		var s ProductScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalStockDeleteByProduct(ctx, s.ShopID, s.ProductID)
			return nil
		}, nil

	case KindRotationUpsert:
		rec, err := decodeRecord[model.RotationRecord](env)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return t.state.ApplyExternalRotation(ctx, rec) }, nil

	case KindRotationDeleteByShop:
		var s ShopScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalRotationDeleteByShop(ctx, s.ShopID)
			return nil
		}, nil

	case KindRotationDeleteByRotation:
		var s RotationScope
		if err := DecodePayload(env, &s); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			t.state.ApplyExternalRotationDeleteByRotation(ctx, s.ShopID, s.RotationID)
			return nil
		}, nil

	case KindChestBankUpsert:
		var b model.Bank
		if err := DecodePayload(env, &b); err != nil {
			return nil, err
		}
		if t.bank == nil {
			return nil, nil
		}
		return func(context.Context) error { t.bank.ApplyBank(b); return nil }, nil
	}

	return t.decodeListing(env)
}

func (t *Transport) decodeListing(env Envelope) (applyFunc, error) {
	switch env.Type {
	case KindAuctionListingAdd:
		var l model.ActiveListing
		if err := DecodePayload(env, &l); err != nil {
			return nil, err
		}
		if t.listings == nil {
			return nil, nil
		}
		return func(context.Context) error { t.listings.ApplyListingAdd(l); return nil }, nil

	case KindAuctionListingDelete:
		var ref ListingRef
		if err := DecodePayload(env, &ref); err != nil {
			return nil, err
		}
		if t.listings == nil {
			return nil, nil
		}
		return func(context.Context) error { t.listings.ApplyListingDelete(ref.ID); return nil }, nil

	case KindAuctionCompletedAdd:
		var l model.CompletedListing
		if err := DecodePayload(env, &l); err != nil {
			return nil, err
		}
		if t.listings == nil {
			return nil, nil
		}
		return func(context.Context) error { t.listings.ApplyCompletedAdd(l); return nil }, nil

	case KindAuctionCompletedUpdate:
		var u CompletedUpdate
		if err := DecodePayload(env, &u); err != nil {
			return nil, err
		}
		if t.listings == nil {
			return nil, nil
		}
		return func(context.Context) error { t.listings.ApplyCompletedUpdate(u.ID, u.Claimed); return nil }, nil

	case KindAuctionCompletedDelete:
		var ref ListingRef
		if err := DecodePayload(env, &ref); err != nil {
			return nil, err
		}
		if t.listings == nil {
			return nil, nil
		}
		return func(context.Context) error { t.listings.ApplyCompletedDelete(ref.ID); return nil }, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Type)
}

func (t *Transport) broadcastPresence(context.Context) error {
	names := t.online()
	if len(names) == 0 {
		return nil
	}
	t.publish(KindPlayerNamesUpdate, PlayerNames{PlayerNames: names, Timestamp: t.now().UnixMilli()})
	return nil
}

func (t *Transport) setCrossNode(p PlayerNames) {
	t.playersMu.Lock()
	t.crossNode = slices.Clone(p.PlayerNames)
	t.playersMu.Unlock()
	t.metrics.SetCrossNodePlayers(len(p.PlayerNames))
}

// CrossNodePlayerNames returns the names of the last presence message
// received from another node.
func (t *Transport) CrossNodePlayerNames() []string {
	t.playersMu.RLock()
	defer t.playersMu.RUnlock()
	return slices.Clone(t.crossNode)
}

// AllPlayerNames returns the local and cross-node player names, sorted and
// without duplicates.
func (t *Transport) AllPlayerNames() []string {
	names := slices.Concat(t.online(), t.CrossNodePlayerNames())
	slices.Sort(names)
	return slices.Compact(names)
}

func (t *Transport) PublishPriceUpsert(rec model.PriceRecord) {
	t.publish(KindPriceUpsert, rec)
}

func (t *Transport) PublishPriceDeleteByShop(shopID string) {
	t.publish(KindPriceDeleteByShop, ShopScope{ShopID: shopID})
}

func (t *Transport) PublishPriceDeleteByProduct(shopID, productID string) {
	t.publish(KindPriceDeleteByProduct, ProductScope{ShopID: shopID, ProductID: productID})
}

func (t *Transport) PublishStockUpsert(rec model.StockRecord) {
	t.publish(KindStockUpsert, rec)
}

func (t *Transport) PublishStockDeleteByShop(shopID string) {
	t.publish(KindStockDeleteByShop, ShopScope{ShopID: shopID})
}

func (t *Transport) PublishStockDeleteByProduct(shopID, productID string) {
	t.publish(KindStockDeleteByProduct, ProductScope{ShopID: shopID, ProductID: productID})
}

func (t *Transport) PublishRotationUpsert(rec model.RotationRecord) {
	t.publish(KindRotationUpsert, rec)
}

func (t *Transport) PublishRotationDeleteByShop(shopID string) {
	t.publish(KindRotationDeleteByShop, ShopScope{ShopID: shopID})
}

func (t *Transport) PublishRotationDeleteByRotation(shopID, rotationID string) {
	t.publish(KindRotationDeleteByRotation, RotationScope{ShopID: shopID, RotationID: rotationID})
}

// PublishPriceUpserts sends a flushed batch of price records.
func (t *Transport) PublishPriceUpserts(ctx context.Context, recs []model.PriceRecord) {
	publishEach(ctx, t, KindPriceUpsert, recs)
}

func (t *Transport) PublishStockUpserts(ctx context.Context, recs []model.StockRecord) {
	publishEach(ctx, t, KindStockUpsert, recs)
}

func (t *Transport) PublishRotationUpserts(ctx context.Context, recs []model.RotationRecord) {
	publishEach(ctx, t, KindRotationUpsert, recs)
}

func (t *Transport) PublishBankUpsert(b model.Bank) {
	t.publish(KindChestBankUpsert, b)
}

func (t *Transport) PublishListingAdd(l model.ActiveListing) {
	t.publish(KindAuctionListingAdd, l)
}

func (t *Transport) PublishListingDelete(id uuid.UUID) {
	t.publish(KindAuctionListingDelete, ListingRef{ID: id})
}

func (t *Transport) PublishCompletedAdd(l model.CompletedListing) {
	t.publish(KindAuctionCompletedAdd, l)
}

func (t *Transport) PublishCompletedUpdate(id uuid.UUID, claimed bool) {
	t.publish(KindAuctionCompletedUpdate, CompletedUpdate{ID: id, Claimed: claimed})
}

func (t *Transport) PublishCompletedDelete(id uuid.UUID) {
	t.publish(KindAuctionCompletedDelete, ListingRef{ID: id})
}

// direct runs tasks on the calling goroutine.
type direct struct{}

func (direct) Go(fn func()) error     { fn(); return nil }
func (direct) Submit(fn func()) error { fn(); return nil }
