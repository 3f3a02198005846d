package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/keyexpr"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/plugin"
	"github.com/cuemby/fabric/pkg/transport"
	"github.com/cuemby/fabric/pkg/types"
)

// Callback is invoked once per sample matching a subscription. Callbacks run
// on the node's dispatch goroutine: they must not block. Panics are isolated
// and logged.
type Callback func(transport.Sample)

// Options configures a Node
type Options struct {
	// ID is the node's stable identifier, unique within the fabric
	ID string

	// Type selects the plugin when Interface is nil
	Type string

	// Config is the initial configuration
	Config types.NodeConfig

	// Session is the transport session the node owns for its lifetime
	Session transport.Session

	// Interface overrides plugin construction. Optional.
	Interface plugin.Interface

	// Registry resolves Type when Interface is nil. Defaults to
	// plugin.Default().
	Registry *plugin.Registry

	// HeartbeatPeriod overrides types.DefaultHeartbeatPeriod
	HeartbeatPeriod time.Duration

	// DispatchCapacity overrides types.DefaultDispatchChannelCapacity
	DispatchCapacity int
}

// subscription is one entry in the subscriber registry
type subscription struct {
	expr     string
	callback Callback
	handle   transport.Subscriber
}

// Node is a worker agent on the fabric. It owns one plugin interface,
// publishes periodic liveness on fabric/<id>/status, applies configs pushed
// on node/<id>/config, dispatches events from node/<id>/event/<name>, and
// routes samples from user subscriptions to registered callbacks.
type Node struct {
	id       string
	nodeType string
	iface    plugin.Interface
	session  transport.Session
	logger   zerolog.Logger

	heartbeatPeriod time.Duration

	config   types.NodeConfig
	configMu sync.RWMutex

	publishers  map[string]transport.Publisher
	publisherMu sync.RWMutex

	subscriptions  map[string]*subscription
	subscriptionMu sync.RWMutex

	statusPub   transport.Publisher
	statusPubMu sync.RWMutex

	dispatchCh chan transport.Sample
	configCh   chan transport.Sample
	eventCh    chan transport.Sample
}

const controlBuffer = 16 // config and event channel capacity

// New creates a node. No background work starts until Run; the transport is
// not touched. The plugin is constructed from Options.Type when no explicit
// Interface is given, surfacing errdefs.ErrUnknownPluginType or
// errdefs.ErrInvalidConfig immediately.
func New(opts Options) (*Node, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("node %s: session must not be nil", opts.ID)
	}

	iface := opts.Interface
	if iface == nil {
		registry := opts.Registry
		if registry == nil {
			registry = plugin.Default()
		}
		var err error
		iface, err = registry.Create(opts.Type, opts.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", opts.ID, err)
		}
	}

	heartbeat := opts.HeartbeatPeriod
	if heartbeat <= 0 {
		heartbeat = types.DefaultHeartbeatPeriod
	}
	capacity := opts.DispatchCapacity
	if capacity <= 0 {
		capacity = types.DefaultDispatchChannelCapacity
	}

	return &Node{
		id:              opts.ID,
		nodeType:        iface.GetType(),
		iface:           iface,
		session:         opts.Session,
		logger:          log.WithNodeID(opts.ID),
		heartbeatPeriod: heartbeat,
		config:          opts.Config,
		publishers:      make(map[string]transport.Publisher),
		subscriptions:   make(map[string]*subscription),
		dispatchCh:      make(chan transport.Sample, capacity),
		configCh:        make(chan transport.Sample, controlBuffer),
		eventCh:         make(chan transport.Sample, controlBuffer),
	}, nil
}

// ID returns the node id
func (n *Node) ID() string { return n.id }

// Type returns the plugin type name
func (n *Node) Type() string { return n.nodeType }

// Run drives the node until ctx is cancelled: an initial heartbeat, then a
// serial loop over heartbeat ticks, config updates, events, and subscriber
// dispatch. Transport resources declared here are released before Run
// returns. A declare failure at startup is fatal and surfaces.
func (n *Node) Run(ctx context.Context) error {
	statusKey := fmt.Sprintf("fabric/%s/status", n.id)
	statusPub, err := n.session.DeclarePublisher(ctx, statusKey)
	if err != nil {
		return fmt.Errorf("declare status publisher: %w", err)
	}
	n.statusPubMu.Lock()
	n.statusPub = statusPub
	n.statusPubMu.Unlock()

	configSub, err := n.session.DeclareSubscriber(ctx,
		fmt.Sprintf("node/%s/config", n.id), n.feed(n.configCh, "config"))
	if err != nil {
		return fmt.Errorf("declare config subscriber: %w", err)
	}
	eventSub, err := n.session.DeclareSubscriber(ctx,
		fmt.Sprintf("node/%s/event/*", n.id), n.feed(n.eventCh, "event"))
	if err != nil {
		_ = configSub.Undeclare(ctx)
		return fmt.Errorf("declare event subscriber: %w", err)
	}

	defer n.shutdown(configSub, eventSub)

	n.logger.Info().Str("node_type", n.nodeType).Msg("Node started")

	// First heartbeat goes out before the loop so orchestrators see the node
	// without waiting a full period.
	if err := n.UpdateStatus(ctx, types.NodeStatusOnline); err != nil {
		n.logger.Warn().Err(err).Msg("Initial heartbeat failed")
	}

	ticker := time.NewTicker(n.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info().Msg("Node shutting down")
			return nil

		case <-ticker.C:
			if err := n.UpdateStatus(ctx, types.NodeStatusOnline); err != nil {
				// Heartbeat loss is self-healing; the next tick retries.
				n.logger.Warn().Err(err).Msg("Heartbeat publish failed")
			}

		case sample := <-n.configCh:
			n.handleConfig(sample)

		case sample := <-n.eventCh:
			n.handleEvent(sample)

		case sample := <-n.dispatchCh:
			n.dispatch(sample)
		}
	}
}

// shutdown releases every transport resource the node declared
func (n *Node) shutdown(configSub, eventSub transport.Subscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = configSub.Undeclare(ctx)
	_ = eventSub.Undeclare(ctx)

	n.subscriptionMu.Lock()
	for expr, sub := range n.subscriptions {
		_ = sub.handle.Undeclare(ctx)
		delete(n.subscriptions, expr)
	}
	n.subscriptionMu.Unlock()

	n.publisherMu.Lock()
	for topic, pub := range n.publishers {
		_ = pub.Undeclare(ctx)
		delete(n.publishers, topic)
	}
	n.publisherMu.Unlock()

	n.statusPubMu.Lock()
	if n.statusPub != nil {
		_ = n.statusPub.Undeclare(ctx)
		n.statusPub = nil
	}
	n.statusPubMu.Unlock()
}

// feed returns a transport handler that forwards samples into ch without
// blocking the transport goroutine. When ch is full the sample is dropped
// and logged.
func (n *Node) feed(ch chan transport.Sample, kind string) transport.Handler {
	return func(s transport.Sample) {
		select {
		case ch <- s:
		default:
			metrics.SamplesDropped.Inc()
			n.logger.Warn().
				Str("key", s.KeyExpr).
				Str("kind", kind).
				Msg("Dispatch buffer full, dropping sample")
		}
	}
}

// handleConfig applies one inbound configuration sample. Malformed payloads
// are logged and discarded without interrupting the loop.
func (n *Node) handleConfig(sample transport.Sample) {
	cfg, err := decodeConfig(sample.Payload)
	if err != nil {
		metrics.DecodeFailures.WithLabelValues("config").Inc()
		n.logger.Warn().Err(err).Str("key", sample.KeyExpr).Msg("Discarding malformed config")
		return
	}

	n.logger.Info().Str("key", sample.KeyExpr).Msg("Applying pushed config")
	n.UpdateConfig(cfg)
}

// handleEvent extracts the event name from node/<id>/event/<name> and hands
// it to the plugin. Plugin errors are logged and swallowed.
func (n *Node) handleEvent(sample transport.Sample) {
	event := keyexpr.Segment(sample.KeyExpr, -1)
	if event == "" {
		n.logger.Warn().Str("key", sample.KeyExpr).Msg("Event sample with empty name")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Str("event", event).Msg("Event handler panicked")
		}
	}()

	if err := n.iface.HandleEvent(event, string(sample.Payload)); err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("Event handler failed")
	}
}

// dispatch routes one sample to every registered callback whose expression
// matches its key. Entries are copied out under the lock; callbacks run
// lock-free and serially, with panics isolated.
func (n *Node) dispatch(sample transport.Sample) {
	n.subscriptionMu.RLock()
	matched := make([]*subscription, 0, len(n.subscriptions))
	for _, sub := range n.subscriptions {
		if keyexpr.Match(sub.expr, sample.KeyExpr) {
			matched = append(matched, sub)
		}
	}
	n.subscriptionMu.RUnlock()

	for _, sub := range matched {
		n.invoke(sub, sample)
	}
}

func (n *Node) invoke(sub *subscription, sample transport.Sample) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().
				Interface("panic", r).
				Str("expr", sub.expr).
				Str("key", sample.KeyExpr).
				Msg("Subscriber callback panicked")
		}
	}()

	sub.callback(sample)
	metrics.SamplesDispatched.Inc()
}

// CreatePublisher declares a publisher for topic. Calling again with the
// same topic replaces the previous handle.
func (n *Node) CreatePublisher(ctx context.Context, topic string) error {
	pub, err := n.session.DeclarePublisher(ctx, topic)
	if err != nil {
		return fmt.Errorf("declare publisher %s: %w", topic, err)
	}

	n.publisherMu.Lock()
	old := n.publishers[topic]
	n.publishers[topic] = pub
	n.publisherMu.Unlock()

	if old != nil {
		_ = old.Undeclare(ctx)
	}
	return nil
}

// Publish sends payload on a previously created publisher. Fails fast with
// errdefs.ErrPublisherNotFound when CreatePublisher was never called for
// topic.
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) error {
	n.publisherMu.RLock()
	pub, ok := n.publishers[topic]
	n.publisherMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrPublisherNotFound, topic)
	}
	if err := pub.Put(ctx, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// CreateSubscriber registers callback for every sample matching expr.
// Re-subscribing to the same expression replaces the callback; the previous
// transport subscription is undeclared so exactly one entry exists per
// expression. A sample matching several registered expressions is delivered
// to each of their callbacks.
func (n *Node) CreateSubscriber(ctx context.Context, expr string, callback Callback) error {
	handle, err := n.session.DeclareSubscriber(ctx, expr, n.feed(n.dispatchCh, "sample"))
	if err != nil {
		return fmt.Errorf("declare subscriber %s: %w", expr, err)
	}

	n.subscriptionMu.Lock()
	old := n.subscriptions[expr]
	n.subscriptions[expr] = &subscription{expr: expr, callback: callback, handle: handle}
	n.subscriptionMu.Unlock()

	if old != nil {
		_ = old.handle.Undeclare(ctx)
	}
	return nil
}

// Unsubscribe undeclares the subscription for expr and drops its callback.
// No-op if absent.
func (n *Node) Unsubscribe(ctx context.Context, expr string) error {
	n.subscriptionMu.Lock()
	sub, ok := n.subscriptions[expr]
	delete(n.subscriptions, expr)
	n.subscriptionMu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.handle.Undeclare(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", expr, err)
	}
	return nil
}

// GetConfig returns the current configuration
func (n *Node) GetConfig() types.NodeConfig {
	n.configMu.RLock()
	defer n.configMu.RUnlock()
	return n.config
}

// UpdateConfig forwards cfg to the plugin, then replaces the cached config
func (n *Node) UpdateConfig(cfg types.NodeConfig) {
	n.iface.UpdateConfig(cfg)

	n.configMu.Lock()
	n.config = cfg
	n.configMu.Unlock()
}

// UpdateStatus publishes a heartbeat carrying status and the current
// timestamp on fabric/<id>/status
func (n *Node) UpdateStatus(ctx context.Context, status types.NodeStatus) error {
	nd := types.NewNodeData(n.id, n.nodeType)
	nd.Status = status

	payload, err := nd.ToJSON()
	if err != nil {
		return errdefs.Codec(err)
	}

	n.statusPubMu.RLock()
	pub := n.statusPub
	n.statusPubMu.RUnlock()

	key := fmt.Sprintf("fabric/%s/status", n.id)
	if pub != nil {
		err = pub.Put(ctx, payload)
	} else {
		err = n.session.Put(ctx, key, payload)
	}
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", key, err)
	}

	metrics.HeartbeatsPublished.Inc()
	return nil
}

func decodeConfig(payload []byte) (types.NodeConfig, error) {
	var cfg types.NodeConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return types.NodeConfig{}, errdefs.Codec(err)
	}
	if cfg.NodeID == "" {
		return types.NodeConfig{}, errdefs.Codec(fmt.Errorf("config missing node_id"))
	}
	return cfg, nil
}
