package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/keyexpr"
)

const (
	busBuffer        = 100 // main publish channel
	subscriberBuffer = 50  // per-subscriber delivery buffer
)

// Bus is an in-process pub/sub broker. Open returns sessions that share the
// bus, so nodes and orchestrators in one process see each other's traffic
// exactly as they would over a networked backend.
type Bus struct {
	subscribers map[*memSubscriber]struct{}
	mu          sync.RWMutex
	sampleCh    chan Sample
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBus creates a bus and starts its distribution loop
func NewBus() *Bus {
	b := &Bus{
		subscribers: make(map[*memSubscriber]struct{}),
		sampleCh:    make(chan Sample, busBuffer),
		stopCh:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Stop shuts down the distribution loop. Sessions opened from the bus fail
// subsequent puts.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Open creates a session on the bus
func (b *Bus) Open() Session {
	return &memSession{bus: b}
}

func (b *Bus) run() {
	for {
		select {
		case s := <-b.sampleCh:
			b.broadcast(s)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(s Sample) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !keyexpr.Match(sub.expr, s.KeyExpr) {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			// Subscriber buffer full, skip
		}
	}
}

func (b *Bus) publish(ctx context.Context, key string, payload []byte) error {
	if !keyexpr.IsConcrete(key) {
		return errdefs.Transport(errors.New("publish key must be concrete: " + key))
	}
	// Copy the payload so the caller can reuse its buffer.
	p := make([]byte, len(payload))
	copy(p, payload)

	select {
	case <-b.stopCh:
		return errdefs.Transport(errors.New("bus stopped"))
	default:
	}

	select {
	case b.sampleCh <- Sample{KeyExpr: key, Payload: p}:
		return nil
	case <-b.stopCh:
		return errdefs.Transport(errors.New("bus stopped"))
	case <-ctx.Done():
		return errdefs.Cancelled(ctx.Err())
	}
}

func (b *Bus) subscribe(expr string, handler Handler) *memSubscriber {
	sub := &memSubscriber{
		bus:     b,
		expr:    expr,
		handler: handler,
		ch:      make(chan Sample, subscriberBuffer),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go sub.deliver()
	return sub
}

func (b *Bus) unsubscribe(sub *memSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

type memSession struct {
	bus    *Bus
	mu     sync.Mutex
	subs   []*memSubscriber
	closed bool
}

func (s *memSession) Put(ctx context.Context, key string, payload []byte) error {
	if s.isClosed() {
		return errdefs.Transport(errors.New("session closed"))
	}
	return s.bus.publish(ctx, key, payload)
}

func (s *memSession) DeclarePublisher(ctx context.Context, key string) (Publisher, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}
	if !keyexpr.IsConcrete(key) {
		return nil, errdefs.Transport(errors.New("publisher key must be concrete: " + key))
	}
	return &memPublisher{session: s, key: key}, nil
}

func (s *memSession) DeclareSubscriber(ctx context.Context, expr string, handler Handler) (Subscriber, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}
	sub := s.bus.subscribe(expr, handler)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *memSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.bus.unsubscribe(sub)
	}
	return nil
}

func (s *memSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type memPublisher struct {
	session *memSession
	key     string
}

func (p *memPublisher) Key() string { return p.key }

func (p *memPublisher) Put(ctx context.Context, payload []byte) error {
	return p.session.Put(ctx, p.key, payload)
}

func (p *memPublisher) Undeclare(ctx context.Context) error { return nil }

type memSubscriber struct {
	bus     *Bus
	expr    string
	handler Handler
	ch      chan Sample
}

func (s *memSubscriber) KeyExpr() string { return s.expr }

func (s *memSubscriber) Undeclare(ctx context.Context) error {
	s.bus.unsubscribe(s)
	return nil
}

// deliver drains the subscriber buffer, invoking the handler in order
func (s *memSubscriber) deliver() {
	for sample := range s.ch {
		s.handler(sample)
	}
}
