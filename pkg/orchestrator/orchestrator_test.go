package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/node"
	"github.com/cuemby/fabric/pkg/plugin"
	"github.com/cuemby/fabric/pkg/retry"
	"github.com/cuemby/fabric/pkg/transport"
	"github.com/cuemby/fabric/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: "error", Output: io.Discard, JSON: true})
	m.Run()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func fastRetry() *retry.Policy {
	return &retry.Policy{
		Initial:     5 * time.Millisecond,
		Multiplier:  1.5,
		MaxInterval: 50 * time.Millisecond,
		MaxElapsed:  300 * time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, bus *transport.Bus) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		ID:                   "orch-1",
		Session:              bus.Open(),
		StalenessThreshold:   120 * time.Millisecond,
		StalenessCheckPeriod: 30 * time.Millisecond,
		ConfigRetry:          fastRetry(),
	})
	require.NoError(t, err)
	return o
}

func runOrchestrator(t *testing.T, o *Orchestrator) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return cancel, done
}

func newTestNode(t *testing.T, bus *transport.Bus, id string) *node.Node {
	t.Helper()
	n, err := node.New(node.Options{
		ID:              id,
		Type:            plugin.GenericType,
		Config:          types.NodeConfig{NodeID: id, Config: json.RawMessage(`{}`)},
		Session:         bus.Open(),
		HeartbeatPeriod: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	return n
}

func TestNewValidation(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	_, err := New(Options{Session: bus.Open()})
	assert.Error(t, err)

	_, err = New(Options{ID: "orch-1"})
	assert.Error(t, err)
}

func TestOnlineOfflineCycle(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)
	cancelO, doneO := runOrchestrator(t, o)
	defer func() { cancelO(); <-doneO }()

	n := newTestNode(t, bus, "n1")
	nodeCtx, cancelNode := context.WithCancel(context.Background())
	nodeDone := make(chan error, 1)
	go func() { nodeDone <- n.Run(nodeCtx) }()

	// Node shows up online.
	waitFor(t, 2*time.Second, func() bool {
		state, ok := o.GetNodes()["n1"]
		return ok && state.LastValue.Status == types.NodeStatusOnline
	})

	// Stop heartbeats; the staleness checker flips the node offline.
	cancelNode()
	<-nodeDone
	waitFor(t, 2*time.Second, func() bool {
		return o.GetNodes()["n1"].LastValue.Status == types.NodeStatusOffline
	})

	// Restart; the next heartbeat recovers the node.
	n2 := newTestNode(t, bus, "n1")
	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan error, 1)
	go func() { done2 <- n2.Run(ctx2) }()
	defer func() { cancel2(); <-done2 }()

	waitFor(t, 2*time.Second, func() bool {
		return o.GetNodes()["n1"].LastValue.Status == types.NodeStatusOnline
	})
}

func TestStalenessCallbackFiresOncePerTransition(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)
	cancelO, doneO := runOrchestrator(t, o)
	defer func() { cancelO(); <-doneO }()

	var mu sync.Mutex
	var offline int
	o.RegisterCallback("n1", func(nd types.NodeData) {
		if nd.Status == types.NodeStatusOffline {
			mu.Lock()
			defer mu.Unlock()
			offline++
		}
	})

	// One heartbeat, then silence.
	o.UpdateNodeState(types.NewNodeData("n1", plugin.GenericType))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return offline == 1
	})

	// Several more sweeps pass without further transitions.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, offline)
	mu.Unlock()
}

func TestCallbackReplacement(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)

	var mu sync.Mutex
	countA, countB := 0, 0
	o.RegisterCallback("n1", func(types.NodeData) {
		mu.Lock()
		defer mu.Unlock()
		countA++
	})

	o.UpdateNodeState(types.NewNodeData("n1", plugin.GenericType))
	mu.Lock()
	assert.Equal(t, 1, countA)
	mu.Unlock()

	o.RegisterCallback("n1", func(types.NodeData) {
		mu.Lock()
		defer mu.Unlock()
		countB++
	})

	o.UpdateNodeState(types.NewNodeData("n1", plugin.GenericType))
	mu.Lock()
	assert.Equal(t, 1, countA, "replaced callback must not fire")
	assert.Equal(t, 1, countB)
	mu.Unlock()
}

func TestGetNodesSnapshot(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)
	o.UpdateNodeState(types.NewNodeData("n1", plugin.GenericType))

	snapshot := o.GetNodes()
	require.Contains(t, snapshot, "n1")

	// Mutating the snapshot does not touch the orchestrator's state.
	delete(snapshot, "n1")
	assert.Contains(t, o.GetNodes(), "n1")
}

func TestConfigRoundTrip(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	o := newTestOrchestrator(t, bus)
	n := newTestNode(t, bus, "n1")

	nodeCtx, cancelNode := context.WithCancel(context.Background())
	nodeDone := make(chan error, 1)
	go func() { nodeDone <- n.Run(nodeCtx) }()
	defer func() { cancelNode(); <-nodeDone }()

	// The node's first heartbeat follows its subscriber setup, so once it is
	// observed the config channel is live.
	var mu sync.Mutex
	ready := false
	watch := bus.Open()
	_, err := watch.DeclareSubscriber(ctx, "fabric/n1/status", func(transport.Sample) {
		mu.Lock()
		defer mu.Unlock()
		ready = true
	})
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready
	})

	cfg := types.NodeConfig{NodeID: "n1", Config: json.RawMessage(`{"sampling_rate":10,"threshold":75.0}`)}
	require.NoError(t, o.PublishNodeConfig(ctx, "n1", cfg))

	waitFor(t, 2*time.Second, func() bool { return n.GetConfig().Equal(cfg) })
}

func TestSubscribeToNodeGlob(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	o := newTestOrchestrator(t, bus)
	cancelO, doneO := runOrchestrator(t, o)
	defer func() { cancelO(); <-doneO }()

	var mu sync.Mutex
	seen := make(map[string]int)
	require.NoError(t, o.SubscribeToNode(ctx, "*", func(nd types.NodeData) {
		mu.Lock()
		defer mu.Unlock()
		seen[nd.NodeID]++
	}))

	for _, id := range []string{"n1", "n2"} {
		n := newTestNode(t, bus, id)
		require.NoError(t, n.CreatePublisher(ctx, "node/"+id+"/data"))

		nd := types.NewNodeData(id, plugin.GenericType)
		nd.Metadata = json.RawMessage(`{"value":42}`)
		payload, err := nd.ToJSON()
		require.NoError(t, err)
		require.NoError(t, n.Publish(ctx, "node/"+id+"/data", payload))
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["n1"] >= 1 && seen["n2"] >= 1
	})
}

func TestSubscribeToNodeReplacement(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	o := newTestOrchestrator(t, bus)
	cancelO, doneO := runOrchestrator(t, o)
	defer func() { cancelO(); <-doneO }()

	var mu sync.Mutex
	countA, countB := 0, 0
	require.NoError(t, o.SubscribeToNode(ctx, "n1", func(types.NodeData) {
		mu.Lock()
		defer mu.Unlock()
		countA++
	}))
	require.NoError(t, o.SubscribeToNode(ctx, "n1", func(types.NodeData) {
		mu.Lock()
		defer mu.Unlock()
		countB++
	}))

	pusher := bus.Open()
	payload, err := types.NewNodeData("n1", plugin.GenericType).ToJSON()
	require.NoError(t, err)
	require.NoError(t, pusher.Put(ctx, "node/n1/data", payload))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countB == 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, countA, "superseded data callback must not fire")
	mu.Unlock()
}

// flakySession fails the first N puts, then delegates
type flakySession struct {
	transport.Session
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySession) Put(ctx context.Context, key string, payload []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()

	if fail {
		return errdefs.Transport(errors.New("injected failure"))
	}
	return f.Session.Put(ctx, key, payload)
}

func TestConfigPushRetriesThenSucceeds(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	flaky := &flakySession{Session: bus.Open(), failures: 3}
	o, err := New(Options{ID: "orch-1", Session: flaky, ConfigRetry: fastRetry()})
	require.NoError(t, err)

	cfg := types.NodeConfig{NodeID: "n1", Config: json.RawMessage(`{}`)}
	require.NoError(t, o.PublishNodeConfig(ctx, "n1", cfg))

	flaky.mu.Lock()
	assert.Equal(t, 4, flaky.calls)
	flaky.mu.Unlock()
}

func TestConfigPushExhaustsRetries(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	flaky := &flakySession{Session: bus.Open(), failures: 1 << 30}
	o, err := New(Options{ID: "orch-1", Session: flaky, ConfigRetry: fastRetry()})
	require.NoError(t, err)

	start := time.Now()
	err = o.PublishNodeConfig(ctx, "n1", types.NodeConfig{NodeID: "n1"})
	assert.True(t, errdefs.IsPublishRetryExhausted(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfigPushObservesCancellation(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	flaky := &flakySession{Session: bus.Open(), failures: 1 << 30}
	slow := &retry.Policy{Initial: 10 * time.Second, Multiplier: 2, MaxElapsed: time.Hour}
	o, err := New(Options{ID: "orch-1", Session: flaky, ConfigRetry: slow})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.PublishNodeConfig(ctx, "n1", types.NodeConfig{NodeID: "n1"}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errdefs.IsCancelled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("push did not observe cancellation")
	}
}

func TestSendEvent(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	var mu sync.Mutex
	var got []transport.Sample
	watch := bus.Open()
	_, err := watch.DeclareSubscriber(ctx, "node/n1/event/*", func(s transport.Sample) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})
	require.NoError(t, err)

	o := newTestOrchestrator(t, bus)
	require.NoError(t, o.SendEvent(ctx, "n1", "reset", "hard"))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	assert.Equal(t, "node/n1/event/reset", got[0].KeyExpr)
	assert.Equal(t, "hard", string(got[0].Payload))
	mu.Unlock()
}

func TestPublishWithoutPublisher(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)
	err := o.Publish(context.Background(), "t", []byte("x"))
	assert.True(t, errdefs.IsPublisherNotFound(err))
}

func TestRunCancellationQuiesces(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()

	o := newTestOrchestrator(t, bus)
	cancel, done := runOrchestrator(t, o)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNonOnlineHeartbeatUpdatesState(t *testing.T) {
	bus := transport.NewBus()
	defer bus.Stop()
	ctx := context.Background()

	o := newTestOrchestrator(t, bus)
	cancelO, doneO := runOrchestrator(t, o)
	defer func() { cancelO(); <-doneO }()

	nd := types.NewNodeData("n1", plugin.GenericType)
	nd.Status = types.NodeStatusUnknown
	payload, err := nd.ToJSON()
	require.NoError(t, err)

	pusher := bus.Open()
	require.NoError(t, pusher.Put(ctx, "fabric/n1/status", payload))

	waitFor(t, 2*time.Second, func() bool {
		state, ok := o.GetNodes()["n1"]
		return ok && state.LastValue.Status == types.NodeStatusUnknown
	})
}
