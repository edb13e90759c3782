package replication

import "context"

// Handler receives raw message payloads. It is called from the bus
// listener goroutine.
type Handler func(payload []byte)

// Bus is a broadcast pub/sub channel shared by all nodes.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts delivering messages of channel to handler. It returns
	// once the subscription is confirmed by the broker.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error

	// Done is closed when the listener stopped.
	Done() <-chan struct{}
}
