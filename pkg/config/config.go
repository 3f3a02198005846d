package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/types"
)

// NodeSpec is one node entry in a fleet file
type NodeSpec struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

// TransportSpec selects and configures the transport backend
type TransportSpec struct {
	// Backend is "mqtt" or "redis"
	Backend string `yaml:"backend"`

	// URL is the broker URL (mqtt) or server address (redis)
	URL string `yaml:"url"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Fleet is the on-disk bootstrap format: a transport definition plus the
// node configurations an orchestrator pushes on startup
type Fleet struct {
	Transport TransportSpec `yaml:"transport"`
	Nodes     []NodeSpec    `yaml:"nodes"`
}

// LoadFleet reads and parses a fleet file
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.IO(err)
	}

	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, errdefs.Codec(fmt.Errorf("parse fleet file %s: %w", path, err))
	}

	for i, spec := range fleet.Nodes {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: fleet node %d has no id", errdefs.ErrInvalidConfig, i)
		}
	}
	return &fleet, nil
}

// NodeConfig converts a fleet entry into the wire-level NodeConfig
func (s NodeSpec) NodeConfig() (types.NodeConfig, error) {
	blob, err := json.Marshal(s.Config)
	if err != nil {
		return types.NodeConfig{}, errdefs.Codec(err)
	}
	return types.NodeConfig{NodeID: s.ID, Config: blob}, nil
}

// Tunables holds the process-wide timing and capacity knobs
type Tunables struct {
	HeartbeatPeriod      time.Duration
	StalenessThreshold   time.Duration
	StalenessCheckPeriod time.Duration
	ConfigBackoffInitial time.Duration
	ConfigBackoffFactor  float64
	DispatchCapacity     int
}

// DefaultTunables returns the built-in defaults
func DefaultTunables() Tunables {
	return Tunables{
		HeartbeatPeriod:      types.DefaultHeartbeatPeriod,
		StalenessThreshold:   types.DefaultStalenessThreshold,
		StalenessCheckPeriod: types.DefaultStalenessCheckPeriod,
		ConfigBackoffInitial: types.DefaultConfigBackoffInitial,
		ConfigBackoffFactor:  types.DefaultConfigBackoffMultiplier,
		DispatchCapacity:     types.DefaultDispatchChannelCapacity,
	}
}

// TunablesFromEnv applies FABRIC_* environment overrides on top of the
// defaults. Unset or unparsable variables keep their default; unparsable
// values are not errors so a bad environment never prevents startup.
func TunablesFromEnv() Tunables {
	t := DefaultTunables()

	if d, ok := envDuration("FABRIC_HEARTBEAT_PERIOD"); ok {
		t.HeartbeatPeriod = d
	}
	if d, ok := envDuration("FABRIC_STALENESS_THRESHOLD"); ok {
		t.StalenessThreshold = d
	}
	if d, ok := envDuration("FABRIC_STALENESS_CHECK_PERIOD"); ok {
		t.StalenessCheckPeriod = d
	}
	if d, ok := envDuration("FABRIC_CONFIG_BACKOFF_INITIAL"); ok {
		t.ConfigBackoffInitial = d
	}
	if v := os.Getenv("FABRIC_CONFIG_BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			t.ConfigBackoffFactor = f
		}
	}
	if v := os.Getenv("FABRIC_DISPATCH_CHANNEL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			t.DispatchCapacity = n
		}
	}
	return t
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
