package orchestrator

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
	"github.com/cuemby/fabric/pkg/retry"
	"github.com/cuemby/fabric/pkg/transport"
	"github.com/cuemby/fabric/pkg/types"
)

// NodeCallback is invoked whenever a node's state is updated, including the
// automatic online-to-offline transition. Runs on the orchestrator loop or
// the staleness checker goroutine; must not block.
type NodeCallback func(types.NodeData)

// DataCallback receives parsed telemetry envelopes from node/<pattern>/data
type DataCallback func(types.NodeData)

// SampleCallback receives raw samples from user subscriptions
type SampleCallback func(transport.Sample)

// Options configures an Orchestrator
type Options struct {
	// ID identifies this orchestrator in logs
	ID string

	// Session is the transport session the orchestrator owns
	Session transport.Session

	// StalenessThreshold overrides types.DefaultStalenessThreshold
	StalenessThreshold time.Duration

	// StalenessCheckPeriod overrides types.DefaultStalenessCheckPeriod
	StalenessCheckPeriod time.Duration

	// ConfigRetry overrides retry.DefaultPolicy for config pushes
	ConfigRetry *retry.Policy

	// DispatchCapacity overrides types.DefaultDispatchChannelCapacity
	DispatchCapacity int
}

type subscription struct {
	expr     string
	callback SampleCallback
	handle   transport.Subscriber
}

type dataSubscription struct {
	pattern  string
	expr     string
	callback DataCallback
	handle   transport.Subscriber
}

// Orchestrator is a controller agent. It watches all nodes' liveness on
// fabric/*/status, maintains per-node state with staleness detection, pushes
// configurations with retry, dispatches events, and offers the same
// publisher/subscriber registries a Node has.
type Orchestrator struct {
	id      string
	session transport.Session
	logger  zerolog.Logger

	stalenessThreshold time.Duration
	stalenessPeriod    time.Duration
	configRetry        retry.Policy

	nodes     map[string]types.NodeState
	callbacks map[string]NodeCallback
	stateMu   sync.Mutex

	dataSubs  map[string]*dataSubscription
	dataSubMu sync.RWMutex

	subscriptions  map[string]*subscription
	subscriptionMu sync.RWMutex

	publishers  map[string]transport.Publisher
	publisherMu sync.RWMutex

	statusCh   chan transport.Sample
	dataCh     chan transport.Sample
	dispatchCh chan transport.Sample
}

// New creates an orchestrator. State maps are allocated; no background work
// or transport I/O happens until Run.
func New(opts Options) (*Orchestrator, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("orchestrator id must not be empty")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("orchestrator %s: session must not be nil", opts.ID)
	}

	threshold := opts.StalenessThreshold
	if threshold <= 0 {
		threshold = types.DefaultStalenessThreshold
	}
	period := opts.StalenessCheckPeriod
	if period <= 0 {
		period = types.DefaultStalenessCheckPeriod
	}
	policy := retry.DefaultPolicy()
	if opts.ConfigRetry != nil {
		policy = *opts.ConfigRetry
	}
	capacity := opts.DispatchCapacity
	if capacity <= 0 {
		capacity = types.DefaultDispatchChannelCapacity
	}

	return &Orchestrator{
		id:                 opts.ID,
		session:            opts.Session,
		logger:             log.WithOrchestratorID(opts.ID),
		stalenessThreshold: threshold,
		stalenessPeriod:    period,
		configRetry:        policy,
		nodes:              make(map[string]types.NodeState),
		callbacks:          make(map[string]NodeCallback),
		dataSubs:           make(map[string]*dataSubscription),
		subscriptions:      make(map[string]*subscription),
		publishers:         make(map[string]transport.Publisher),
		statusCh:           make(chan transport.Sample, capacity),
		dataCh:             make(chan transport.Sample, capacity),
		dispatchCh:         make(chan transport.Sample, capacity),
	}, nil
}

// ID returns the orchestrator id
func (o *Orchestrator) ID() string { return o.id }

// Run subscribes to all nodes' liveness and drives the orchestrator until
// ctx is cancelled. The staleness checker runs as a sibling goroutine with
// the same lifetime. Transport resources are released before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	statusSub, err := o.session.DeclareSubscriber(ctx,
		"fabric/*/status", o.feed(o.statusCh, "status"))
	if err != nil {
		return fmt.Errorf("declare status subscriber: %w", err)
	}
	defer o.shutdown(statusSub)

	o.logger.Info().Msg("Orchestrator started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.stalenessLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Orchestrator shutting down")
			return nil

		case sample := <-o.statusCh:
			o.handleStatus(sample)

		case sample := <-o.dataCh:
			o.handleData(sample)

		case sample := <-o.dispatchCh:
			o.dispatch(sample)
		}
	}
}

func (o *Orchestrator) shutdown(statusSub transport.Subscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = statusSub.Undeclare(ctx)

	o.dataSubMu.Lock()
	for pattern, sub := range o.dataSubs {
		_ = sub.handle.Undeclare(ctx)
		delete(o.dataSubs, pattern)
	}
	o.dataSubMu.Unlock()

	o.subscriptionMu.Lock()
	for expr, sub := range o.subscriptions {
		_ = sub.handle.Undeclare(ctx)
		delete(o.subscriptions, expr)
	}
	o.subscriptionMu.Unlock()

	o.publisherMu.Lock()
	for topic, pub := range o.publishers {
		_ = pub.Undeclare(ctx)
		delete(o.publishers, topic)
	}
	o.publisherMu.Unlock()
}

func (o *Orchestrator) feed(ch chan transport.Sample, kind string) transport.Handler {
	return func(s transport.Sample) {
		select {
		case ch <- s:
		default:
			metrics.SamplesDropped.Inc()
			o.logger.Warn().
				Str("key", s.KeyExpr).
				Str("kind", kind).
				Msg("Dispatch buffer full, dropping sample")
		}
	}
}

// handleStatus processes one heartbeat envelope
func (o *Orchestrator) handleStatus(sample transport.Sample) {
	nd, err := types.NodeDataFromJSON(sample.Payload)
	if err != nil {
		metrics.DecodeFailures.WithLabelValues("status").Inc()
		o.logger.Warn().Err(err).Str("key", sample.KeyExpr).Msg("Discarding malformed heartbeat")
		return
	}

	metrics.HeartbeatsReceived.Inc()

	if nd.Status != types.NodeStatusOnline {
		o.logger.Warn().
			Str("node_id", nd.NodeID).
			Str("status", string(nd.Status)).
			Msg("Node reported non-online status")
	}

	o.UpdateNodeState(nd)
}

// handleData decodes telemetry and fans it out to matching data callbacks
func (o *Orchestrator) handleData(sample transport.Sample) {
	nd, err := types.NodeDataFromJSON(sample.Payload)
	if err != nil {
		metrics.DecodeFailures.WithLabelValues("data").Inc()
		o.logger.Warn().Err(err).Str("key", sample.KeyExpr).Msg("Discarding malformed telemetry")
		return
	}

	o.dataSubMu.RLock()
	matched := make([]*dataSubscription, 0, len(o.dataSubs))
	for _, sub := range o.dataSubs {
		if keyexpr.Match(sub.expr, sample.KeyExpr) {
			matched = append(matched, sub)
		}
	}
	o.dataSubMu.RUnlock()

	for _, sub := range matched {
		o.invokeData(sub, nd)
	}
}

func (o *Orchestrator) invokeData(sub *dataSubscription, nd types.NodeData) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("pattern", sub.pattern).
				Msg("Data callback panicked")
		}
	}()

	sub.callback(nd)
	metrics.SamplesDispatched.Inc()
}

// dispatch routes one raw sample to matching user subscriptions
func (o *Orchestrator) dispatch(sample transport.Sample) {
	o.subscriptionMu.RLock()
	matched := make([]*subscription, 0, len(o.subscriptions))
	for _, sub := range o.subscriptions {
		if keyexpr.Match(sub.expr, sample.KeyExpr) {
			matched = append(matched, sub)
		}
	}
	o.subscriptionMu.RUnlock()

	for _, sub := range matched {
		o.invoke(sub, sample)
	}
}

func (o *Orchestrator) invoke(sub *subscription, sample transport.Sample) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("expr", sub.expr).
				Str("key", sample.KeyExpr).
				Msg("Subscriber callback panicked")
		}
	}()

	sub.callback(sample)
	metrics.SamplesDispatched.Inc()
}

// stalenessLoop periodically flips silent nodes to offline
func (o *Orchestrator) stalenessLoop(ctx context.Context) {
	ticker := time.NewTicker(o.stalenessPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepStale()
		}
	}
}

// sweepStale walks the node map once. Online nodes whose last update is
// older than the staleness threshold transition to offline; the transition
// fires the node's callback exactly once. Recovery happens when the next
// heartbeat overwrites the state.
func (o *Orchestrator) sweepStale() {
	now := time.Now()
	counts := make(map[types.NodeStatus]int)

	type firing struct {
		cb NodeCallback
		nd types.NodeData
	}
	var fired []firing

	o.stateMu.Lock()
	for id, state := range o.nodes {
		if state.LastValue.Status == types.NodeStatusOnline && state.Stale(now, o.stalenessThreshold) {
			state.LastValue.Status = types.NodeStatusOffline
			o.nodes[id] = state

			metrics.StalenessTransitions.Inc()
			o.logger.Warn().
				Str("node_id", id).
				Dur("silent_for", now.Sub(state.LastUpdate)).
				Msg("Node went stale, marking offline")

			if cb, ok := o.callbacks[id]; ok {
				fired = append(fired, firing{cb: cb, nd: state.LastValue})
			}
		}
		counts[o.nodes[id].LastValue.Status]++
	}
	o.stateMu.Unlock()

	for _, f := range fired {
		o.fireCallback(f.cb, f.nd)
	}

	for _, status := range []types.NodeStatus{types.NodeStatusOnline, types.NodeStatusOffline, types.NodeStatusUnknown} {
		metrics.NodesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (o *Orchestrator) fireCallback(cb NodeCallback, nd types.NodeData) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("node_id", nd.NodeID).
				Msg("Node callback panicked")
		}
	}()
	cb(nd)
}

// UpdateNodeState upserts the state for nd's node id and fires its
// registered callback. The callback runs with the state lock released.
func (o *Orchestrator) UpdateNodeState(nd types.NodeData) {
	o.stateMu.Lock()
	o.nodes[nd.NodeID] = types.NewNodeState(nd)
	cb, ok := o.callbacks[nd.NodeID]
	o.stateMu.Unlock()

	if ok {
		o.fireCallback(cb, nd)
	}
}

// GetNodes returns a snapshot copy of the node-state map
func (o *Orchestrator) GetNodes() map[string]types.NodeState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	snapshot := make(map[string]types.NodeState, len(o.nodes))
	for id, state := range o.nodes {
		snapshot[id] = state
	}
	return snapshot
}

// RegisterCallback installs a liveness callback for one node id,
// replacing any previous registration
func (o *Orchestrator) RegisterCallback(nodeID string, cb NodeCallback) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.callbacks[nodeID] = cb
}

// PublishNodeConfig serializes cfg and PUTs it to node/<id>/config,
// retrying with exponential backoff on transport failure. Returns an error
// satisfying errdefs.IsPublishRetryExhausted when the backoff budget runs
// out, or errdefs.IsCancelled when ctx fires between attempts.
func (o *Orchestrator) PublishNodeConfig(ctx context.Context, nodeID string, cfg types.NodeConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return errdefs.Codec(err)
	}

	key := fmt.Sprintf("node/%s/config", nodeID)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConfigPushDuration)

	err = o.configRetry.Do(ctx, func() error {
		return o.session.Put(ctx, key, payload)
	})
	if err != nil {
		if errdefs.IsCancelled(err) {
			metrics.ConfigPushesTotal.WithLabelValues("cancelled").Inc()
			return err
		}
		metrics.ConfigPushesTotal.WithLabelValues("exhausted").Inc()
		return fmt.Errorf("%w: %s: %v", errdefs.ErrPublishRetryExhausted, key, err)
	}

	metrics.ConfigPushesTotal.WithLabelValues("success").Inc()
	o.logger.Info().Str("node_id", nodeID).Msg("Config pushed")
	return nil
}

// SendEvent publishes a one-shot event to node/<id>/event/<name>. The
// payload is an opaque UTF-8 string interpreted by the node's plugin.
func (o *Orchestrator) SendEvent(ctx context.Context, nodeID, event, payload string) error {
	key := fmt.Sprintf("node/%s/event/%s", nodeID, event)
	if err := o.session.Put(ctx, key, []byte(payload)); err != nil {
		return fmt.Errorf("send event %s: %w", key, err)
	}
	return nil
}

// SubscribeToNode installs a callback for telemetry on node/<pattern>/data.
// The pattern may be * to cover all nodes. Re-subscribing with the same
// pattern replaces the callback.
func (o *Orchestrator) SubscribeToNode(ctx context.Context, pattern string, cb DataCallback) error {
	expr := fmt.Sprintf("node/%s/data", pattern)
	handle, err := o.session.DeclareSubscriber(ctx, expr, o.feed(o.dataCh, "data"))
	if err != nil {
		return fmt.Errorf("subscribe to node %s: %w", pattern, err)
	}

	o.dataSubMu.Lock()
	old := o.dataSubs[pattern]
	o.dataSubs[pattern] = &dataSubscription{pattern: pattern, expr: expr, callback: cb, handle: handle}
	o.dataSubMu.Unlock()

	if old != nil {
		_ = old.handle.Undeclare(ctx)
	}
	return nil
}

// CreatePublisher declares a publisher for topic, replacing any previous
// handle for the same topic
func (o *Orchestrator) CreatePublisher(ctx context.Context, topic string) error {
	pub, err := o.session.DeclarePublisher(ctx, topic)
	if err != nil {
		return fmt.Errorf("declare publisher %s: %w", topic, err)
	}

	o.publisherMu.Lock()
	old := o.publishers[topic]
	o.publishers[topic] = pub
	o.publisherMu.Unlock()

	if old != nil {
		_ = old.Undeclare(ctx)
	}
	return nil
}

// Publish sends payload on a previously created publisher
func (o *Orchestrator) Publish(ctx context.Context, topic string, payload []byte) error {
	o.publisherMu.RLock()
	pub, ok := o.publishers[topic]
	o.publisherMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrPublisherNotFound, topic)
	}
	if err := pub.Put(ctx, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// CreateSubscriber registers a raw-sample callback for expr, replacing any
// previous subscription on the same expression
func (o *Orchestrator) CreateSubscriber(ctx context.Context, expr string, cb SampleCallback) error {
	handle, err := o.session.DeclareSubscriber(ctx, expr, o.feed(o.dispatchCh, "sample"))
	if err != nil {
		return fmt.Errorf("declare subscriber %s: %w", expr, err)
	}

	o.subscriptionMu.Lock()
	old := o.subscriptions[expr]
	o.subscriptions[expr] = &subscription{expr: expr, callback: cb, handle: handle}
	o.subscriptionMu.Unlock()

	if old != nil {
		_ = old.handle.Undeclare(ctx)
	}
	return nil
}

// Unsubscribe undeclares the subscription for expr. No-op if absent.
func (o *Orchestrator) Unsubscribe(ctx context.Context, expr string) error {
	o.subscriptionMu.Lock()
	sub, ok := o.subscriptions[expr]
	delete(o.subscriptions, expr)
	o.subscriptionMu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.handle.Undeclare(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", expr, err)
	}
	return nil
}
