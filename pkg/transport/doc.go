/*
Package transport abstracts the pub/sub bus every fabric agent talks through.

The fabric core assumes very little of its bus: a Session that can Put bytes
under a /-delimited key, declare long-lived Publishers, and declare
Subscribers against key expressions where * matches one segment and **
matches any number. Samples carry the concrete key and the raw payload.
Everything else — delivery QoS, retention, broker topology — belongs to the
backend.

# Backends

  - Bus (this package): an in-process broker built on buffered channels.
    Used by tests and by single-binary deployments that run nodes and an
    orchestrator in one process.
  - mqtt: an MQTT v5 backend on eclipse/paho.golang with automatic
    reconnection. * and ** map to the broker's + and # filters.
  - redis: a Redis pub/sub backend on go-redis PSUBSCRIBE patterns.

Backends that cannot enforce the fabric's segment-exact glob semantics
server-side (Redis patterns ignore segment boundaries) re-check delivered
keys against the declared expression with the keyexpr package before
invoking handlers.

# Handler discipline

Handlers run on transport goroutines. They must not block: the in-process
Bus drops samples for a subscriber whose handler is stuck behind a full
buffer, and broker-backed sessions would stall their read loop. Agents feed
handlers into bounded channels and do real work on their own dispatch
goroutines.
*/
package transport
