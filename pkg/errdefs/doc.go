/*
Package errdefs defines the unified failure taxonomy used by every fabric
surface.

Each failure kind is a package-level sentinel error. Producers wrap a sentinel
with fmt.Errorf and %w, adding call-site context; consumers classify with the
Is* helpers (or errors.Is directly) without caring how many layers of wrapping
sit in between:

	if err := n.Publish(topic, payload); errdefs.IsPublisherNotFound(err) {
		// caller forgot CreatePublisher
	}

Propagation policy across the fabric:

  - Codec errors on inbound payloads are logged and swallowed inside agent
    loops; the loop continues.
  - Transport errors on Publish surface to the caller; on heartbeats they are
    logged only, since heartbeat loss is self-healing.
  - Constructor errors (ErrUnknownPluginType, ErrInvalidConfig) surface
    immediately.
  - Run returns the first fatal error, such as a declare failure at setup;
    cancellation is a clean nil return. ErrCancelled marks operations
    interrupted mid-flight, such as a config push.
*/
package errdefs
