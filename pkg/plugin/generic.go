package plugin

import (
	"sync"

	"github.com/cuemby/fabric/pkg/types"
)

// GenericType is the fallback node type used when no concrete plugin applies
const GenericType = "generic"

// Generic is the built-in node interface: it stores the opaque config blob
// verbatim and ignores events
type Generic struct {
	mu  sync.RWMutex
	cfg types.NodeConfig
}

// NewGeneric constructs a Generic node interface
func NewGeneric(cfg types.NodeConfig) (Interface, error) {
	return &Generic{cfg: cfg}, nil
}

func (g *Generic) GetConfig() types.NodeConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Generic) UpdateConfig(cfg types.NodeConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

func (g *Generic) GetType() string { return GenericType }

func (g *Generic) HandleEvent(event, payload string) error { return nil }
