/*
Package plugin defines the node-type capability contract and the registry
that maps type names to factories.

A plugin implements Interface: read and overwrite its configuration, report
its type name, and react to dispatched events. The node core never downcasts
a plugin to a concrete type; anything type-specific happens behind the
plugin's own methods.

Two types ship built in:

  - generic: stores the opaque config blob and ignores events. Used when a
    node is constructed without an explicit interface.
  - radio: interprets the blob as tuning settings and handles retune events.

Registries are plain values injected at construction:

	reg := plugin.NewRegistry()
	reg.Register("quadcopter", NewQuadcopter)
	n, err := node.New(node.Options{ID: "q1", Type: "quadcopter", Registry: reg, ...})

plugin.Default() provides a process-wide registry for callers that have no
reason to carry their own; Register on it from an init function mirrors
driver registration in database/sql.
*/
package plugin
