package transport

import "context"

// Sample is one delivery on a subscription
type Sample struct {
	// KeyExpr is the concrete key the payload was published under
	KeyExpr string

	// Payload is the raw published bytes
	Payload []byte
}

// Handler is invoked once per sample delivered to a subscription. Handlers
// are called from transport goroutines: they must be safe to invoke from any
// goroutine and must not block. Long-running work belongs in a goroutine the
// handler spawns, or behind a buffered channel the handler feeds.
type Handler func(Sample)

// Session is one connection to the pub/sub bus. All fabric network I/O flows
// through this interface; concrete backends live in the mqtt and redis
// subpackages, with an in-process Bus in this package for tests and
// single-binary embedding.
type Session interface {
	// Put publishes payload under a concrete key without a declared
	// publisher. Fire-and-forget: an error reflects local failure only.
	Put(ctx context.Context, key string, payload []byte) error

	// DeclarePublisher creates a long-lived publisher for one concrete key
	DeclarePublisher(ctx context.Context, key string) (Publisher, error)

	// DeclareSubscriber subscribes to a key expression. The handler fires
	// once per matching sample until Undeclare.
	DeclareSubscriber(ctx context.Context, expr string, handler Handler) (Subscriber, error)

	// Close releases the session and every publisher and subscriber
	// declared through it
	Close(ctx context.Context) error
}

// Publisher is a declared publisher bound to one key
type Publisher interface {
	// Key returns the concrete key this publisher was declared for
	Key() string

	// Put publishes payload under the declared key
	Put(ctx context.Context, payload []byte) error

	// Undeclare releases the publisher
	Undeclare(ctx context.Context) error
}

// Subscriber is a declared subscription
type Subscriber interface {
	// KeyExpr returns the expression this subscription was declared with
	KeyExpr() string

	// Undeclare stops delivery and releases the subscription
	Undeclare(ctx context.Context) error
}
