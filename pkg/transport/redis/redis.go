package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/keyexpr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/transport"
)

// Config holds Redis session configuration
type Config struct {
	// Addr is the server address, host:port
	Addr string

	// Username and Password are optional credentials
	Username string
	Password string

	// DB selects the logical database
	DB int
}

// Session is a Redis pub/sub backed transport session
type Session struct {
	client *redis.Client
	logger zerolog.Logger

	subscribers map[*subscriber]struct{}
	mu          sync.Mutex
	closed      bool
}

// Open connects to the server and verifies the connection with a ping
func Open(ctx context.Context, cfg Config) (*Session, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errdefs.Transport(fmt.Errorf("ping %s: %w", cfg.Addr, err))
	}

	return &Session{
		client:      client,
		logger:      log.WithComponent("transport.redis"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Put publishes payload on the channel named by key
func (s *Session) Put(ctx context.Context, key string, payload []byte) error {
	if s.isClosed() {
		return errdefs.Transport(errors.New("session closed"))
	}
	if err := s.client.Publish(ctx, key, payload).Err(); err != nil {
		return errdefs.Transport(fmt.Errorf("publish %s: %w", key, err))
	}
	return nil
}

// DeclarePublisher returns a publisher bound to key
func (s *Session) DeclarePublisher(ctx context.Context, key string) (transport.Publisher, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}
	if !keyexpr.IsConcrete(key) {
		return nil, errdefs.Transport(errors.New("publisher key must be concrete: " + key))
	}
	return &publisher{session: s, key: key}, nil
}

// DeclareSubscriber PSUBSCRIBEs to a widened pattern and re-checks each
// delivered channel against expr before invoking the handler
func (s *Session) DeclareSubscriber(ctx context.Context, expr string, handler transport.Handler) (transport.Subscriber, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}

	pubsub := s.client.PSubscribe(ctx, Pattern(expr))
	// Force the subscription onto the wire before returning, so samples
	// published immediately after DeclareSubscriber are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errdefs.Transport(fmt.Errorf("psubscribe %s: %w", expr, err))
	}

	sub := &subscriber{
		session: s,
		expr:    expr,
		pubsub:  pubsub,
		handler: handler,
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go sub.read()
	return sub, nil
}

// Close releases every subscription and the client connection
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.pubsub.Close()
	}
	if err := s.client.Close(); err != nil {
		return errdefs.Transport(err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) drop(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
}

// Pattern translates a fabric key expression into a Redis channel pattern.
// Both wildcards become *, which in Redis matches across / separators;
// exact segment matching happens client-side on delivery. The / around a **
// segment is kept, so the pattern requires at least one segment there: a
// key that ** would match with zero segments (node for node/**, node/config
// for node/**/config) is not delivered by this backend.
func Pattern(expr string) string {
	segs := strings.Split(expr, "/")
	for i, seg := range segs {
		if seg == keyexpr.SingleWild || seg == keyexpr.MultiWild {
			segs[i] = "*"
		}
	}
	return strings.Join(segs, "/")
}

type publisher struct {
	session *Session
	key     string
}

func (p *publisher) Key() string { return p.key }

func (p *publisher) Put(ctx context.Context, payload []byte) error {
	return p.session.Put(ctx, p.key, payload)
}

func (p *publisher) Undeclare(ctx context.Context) error { return nil }

type subscriber struct {
	session *Session
	expr    string
	pubsub  *redis.PubSub
	handler transport.Handler
}

func (s *subscriber) KeyExpr() string { return s.expr }

func (s *subscriber) Undeclare(ctx context.Context) error {
	s.session.drop(s)
	if err := s.pubsub.Close(); err != nil {
		return errdefs.Transport(err)
	}
	return nil
}

// read drains the subscription until it is closed
func (s *subscriber) read() {
	for msg := range s.pubsub.Channel() {
		if !keyexpr.Match(s.expr, msg.Channel) {
			continue
		}
		s.handler(transport.Sample{
			KeyExpr: msg.Channel,
			Payload: []byte(msg.Payload),
		})
	}
}
