package plugin

import (
	"fmt"
	"sync"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/types"
)

// Interface is the capability contract a concrete node type implements. The
// node core drives it through these operations only; type-specific state and
// behavior stay inside the implementation.
//
// Implementations must be safe for concurrent use: GetConfig is called from
// caller goroutines while UpdateConfig and HandleEvent run on the node loop.
type Interface interface {
	// GetConfig returns the current configuration. Non-blocking pure reader.
	GetConfig() types.NodeConfig

	// UpdateConfig overwrites the configuration. Idempotent.
	UpdateConfig(cfg types.NodeConfig)

	// GetType returns the node type name. Constant after construction.
	GetType() string

	// HandleEvent processes one event dispatched from
	// node/<id>/event/<name>. May block briefly; errors are logged by the
	// node loop and never terminate it.
	HandleEvent(event, payload string) error
}

// Factory constructs an Interface from an opaque configuration. A factory
// that cannot parse its blob returns an error satisfying
// errdefs.IsInvalidConfig.
type Factory func(cfg types.NodeConfig) (Interface, error)

// Registry maps node type names to factories. Safe for concurrent use;
// lookups are read-mostly, registration normally happens at startup.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in types (generic, radio)
// pre-registered
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(GenericType, NewGeneric)
	r.Register(RadioType, NewRadio)
	return r
}

// Register installs a factory under a type name. Last writer wins.
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// Create constructs a node interface for the named type
func (r *Registry) Create(typeName string, cfg types.NodeConfig) (Interface, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", errdefs.ErrUnknownPluginType, typeName)
	}
	return factory(cfg)
}

// Types returns the registered type names
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, created on first use. Agents
// take a *Registry at construction; Default exists for callers that have no
// reason to carry their own.
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// Register installs a factory in the default registry
func Register(typeName string, factory Factory) {
	Default().Register(typeName, factory)
}
