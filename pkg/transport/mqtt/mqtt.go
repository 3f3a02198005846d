package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/keyexpr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/transport"
)

// Config holds MQTT session configuration
type Config struct {
	// BrokerURL is the broker address, e.g. mqtt://host:1883 or
	// mqtts://host:8883
	BrokerURL string

	// ClientID identifies this session to the broker
	ClientID string

	// Username and Password are optional broker credentials
	Username string
	Password string

	// KeepAlive is the MQTT keepalive in seconds (default 30)
	KeepAlive uint16

	// ConnectTimeout bounds the wait for the initial connection
	// (default 30s)
	ConnectTimeout time.Duration
}

// Session is an MQTT-backed transport session with automatic reconnection
type Session struct {
	cm     *autopaho.ConnectionManager
	logger zerolog.Logger

	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex
	closed      bool
}

// Open connects to the broker and returns a session. Subscriptions are
// re-established on every reconnect.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	brokerURL, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, errdefs.Transport(fmt.Errorf("parse broker URL: %w", err))
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	s := &Session{
		logger:      log.WithComponent("transport.mqtt"),
		subscribers: make(map[*subscriber]struct{}),
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       keepAlive,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info().Str("broker", cfg.BrokerURL).Msg("Connected to broker")
			// autopaho does not resubscribe after reconnection.
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.resubscribe(subCtx, cm)
		},
		OnConnectError: func(err error) {
			s.logger.Warn().Err(err).Msg("Broker connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, errdefs.Transport(fmt.Errorf("mqtt connect: %w", err))
	}
	s.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		s.route(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return nil, errdefs.Transport(fmt.Errorf("await broker connection: %w", err))
	}

	return s, nil
}

// route fans one inbound publication out to every subscription whose
// expression matches. Filters were widened for the broker; the exact check
// happens here.
func (s *Session) route(topic string, payload []byte) {
	s.mu.RLock()
	matched := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		if keyexpr.Match(sub.expr, topic) {
			matched = append(matched, sub)
		}
	}
	s.mu.RUnlock()

	sample := transport.Sample{KeyExpr: topic, Payload: payload}
	for _, sub := range matched {
		sub.handler(sample)
	}
}

func (s *Session) resubscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	s.mu.RLock()
	filters := make(map[string]struct{})
	for sub := range s.subscribers {
		filters[sub.filter] = struct{}{}
	}
	s.mu.RUnlock()

	if len(filters) == 0 {
		return
	}

	opts := make([]paho.SubscribeOptions, 0, len(filters))
	for filter := range filters {
		opts = append(opts, paho.SubscribeOptions{Topic: filter, QoS: 0})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		s.logger.Error().Err(err).Msg("Resubscribe failed")
	}
}

// Put publishes payload under key
func (s *Session) Put(ctx context.Context, key string, payload []byte) error {
	if s.isClosed() {
		return errdefs.Transport(errors.New("session closed"))
	}
	if _, err := s.cm.Publish(ctx, &paho.Publish{
		Topic:   key,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		return errdefs.Transport(fmt.Errorf("publish %s: %w", key, err))
	}
	return nil
}

// DeclarePublisher returns a publisher bound to key. MQTT has no broker-side
// publisher state; the handle just fixes the topic.
func (s *Session) DeclarePublisher(ctx context.Context, key string) (transport.Publisher, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}
	if !keyexpr.IsConcrete(key) {
		return nil, errdefs.Transport(errors.New("publisher key must be concrete: " + key))
	}
	return &publisher{session: s, key: key}, nil
}

// DeclareSubscriber subscribes to expr, translated to the broker's filter
// syntax (* to +, ** to #)
func (s *Session) DeclareSubscriber(ctx context.Context, expr string, handler transport.Handler) (transport.Subscriber, error) {
	if s.isClosed() {
		return nil, errdefs.Transport(errors.New("session closed"))
	}

	sub := &subscriber{
		session: s,
		expr:    expr,
		filter:  Filter(expr),
		handler: handler,
	}

	if _, err := s.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: sub.filter, QoS: 0}},
	}); err != nil {
		return nil, errdefs.Transport(fmt.Errorf("subscribe %s: %w", expr, err))
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

// Close disconnects from the broker
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	if err := s.cm.Disconnect(ctx); err != nil {
		return errdefs.Transport(err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) unsubscribe(ctx context.Context, sub *subscriber) error {
	s.mu.Lock()
	if _, ok := s.subscribers[sub]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.subscribers, sub)

	// Only drop the broker-side filter when no other subscription shares it.
	shared := false
	for other := range s.subscribers {
		if other.filter == sub.filter {
			shared = true
			break
		}
	}
	s.mu.Unlock()

	if shared {
		return nil
	}
	if _, err := s.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{sub.filter}}); err != nil {
		return errdefs.Transport(fmt.Errorf("unsubscribe %s: %w", sub.expr, err))
	}
	return nil
}

// Filter translates a fabric key expression into an MQTT topic filter:
// * becomes +, and the first ** becomes a trailing #. Segments after a **
// cannot be expressed broker-side; the session re-checks delivered topics
// against the original expression.
func Filter(expr string) string {
	segs := strings.Split(expr, "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case keyexpr.SingleWild:
			out = append(out, "+")
		case keyexpr.MultiWild:
			out = append(out, "#")
			return strings.Join(out, "/")
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
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
	filter  string
	handler transport.Handler
}

func (s *subscriber) KeyExpr() string { return s.expr }

func (s *subscriber) Undeclare(ctx context.Context) error {
	return s.session.unsubscribe(ctx, s)
}
