package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeStatus represents the liveness state of a node as seen by an orchestrator
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusUnknown NodeStatus = "unknown"
)

// Tunable defaults for the fabric. Overridable per-agent via node.Options /
// orchestrator.Options, and process-wide via config.TunablesFromEnv.
const (
	// DefaultHeartbeatPeriod is the interval between automatic node heartbeats
	DefaultHeartbeatPeriod = 1 * time.Second

	// DefaultStalenessThreshold is the last-update age beyond which an
	// orchestrator flips a node to offline
	DefaultStalenessThreshold = 10 * time.Second

	// DefaultStalenessCheckPeriod is the interval between staleness sweeps
	DefaultStalenessCheckPeriod = 1 * time.Second

	// DefaultConfigBackoffInitial is the first retry delay for config pushes
	DefaultConfigBackoffInitial = 500 * time.Millisecond

	// DefaultConfigBackoffMultiplier is the exponential backoff factor
	DefaultConfigBackoffMultiplier = 1.5

	// DefaultConfigBackoffMaxElapsed bounds the total time spent retrying one
	// config push
	DefaultConfigBackoffMaxElapsed = 15 * time.Minute

	// DefaultDispatchChannelCapacity is the bounded buffer between the
	// transport callback and an agent's dispatch loop. When full, samples are
	// dropped and logged rather than blocking the transport.
	DefaultDispatchChannelCapacity = 100
)

// NodeConfig is the unit of configuration pushed to a node. The Config blob is
// opaque to the fabric core; only the node's plugin interprets it.
type NodeConfig struct {
	NodeID string          `json:"node_id"`
	Config json.RawMessage `json:"config"`
}

// Equal reports whether two configs have the same node id and byte-equal blobs
func (c NodeConfig) Equal(other NodeConfig) bool {
	return c.NodeID == other.NodeID && string(c.Config) == string(other.Config)
}

// NodeData is the status envelope a node publishes on fabric/<id>/status and
// the payload handed to orchestrator liveness callbacks.
type NodeData struct {
	NodeID    string          `json:"node_id"`
	NodeType  string          `json:"node_type"`
	Timestamp uint64          `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Status    NodeStatus      `json:"status"`
}

// NewNodeData returns an online envelope stamped with the current time
func NewNodeData(nodeID, nodeType string) NodeData {
	return NodeData{
		NodeID:    nodeID,
		NodeType:  nodeType,
		Timestamp: uint64(time.Now().Unix()),
		Status:    NodeStatusOnline,
	}
}

// NodeDataFromJSON decodes an envelope. A missing status defaults to "online".
func NodeDataFromJSON(data []byte) (NodeData, error) {
	var nd NodeData
	if err := json.Unmarshal(data, &nd); err != nil {
		return NodeData{}, err
	}
	if nd.Status == "" {
		nd.Status = NodeStatusOnline
	}
	return nd, nil
}

// ToJSON encodes the envelope
func (d NodeData) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// Get extracts a top-level key from the metadata blob, returned as raw JSON text
func (d NodeData) Get(key string) (string, error) {
	if len(d.Metadata) == 0 {
		return "", fmt.Errorf("metadata is empty")
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(d.Metadata, &meta); err != nil {
		return "", fmt.Errorf("metadata is not an object: %w", err)
	}
	raw, ok := meta[key]
	if !ok {
		return "", fmt.Errorf("metadata key %q not found", key)
	}
	return string(raw), nil
}

// NodeState is an orchestrator's view of one node
type NodeState struct {
	LastValue  NodeData
	LastUpdate time.Time
}

// NewNodeState creates a state entry observed now
func NewNodeState(nd NodeData) NodeState {
	return NodeState{
		LastValue:  nd,
		LastUpdate: time.Now(),
	}
}

// Stale reports whether the entry has not been refreshed within threshold
func (s NodeState) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastUpdate) > threshold
}
