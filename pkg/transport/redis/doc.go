// Package redis backs the fabric transport with Redis pub/sub.
//
// Keys map directly onto channel names and subscriptions use PSUBSCRIBE.
// Redis glob patterns do not respect / boundaries, so both fabric wildcards
// become * server-side and every delivered channel is re-checked against
// the declared expression before the handler runs. A ** segment still needs
// at least one segment at its position on this backend: keys it would match
// with zero segments are not delivered.
//
// Redis pub/sub is fire-and-forget with no retention, which matches the
// fabric's assumptions exactly: heartbeats repeat each period and config
// pushes retry at the orchestrator layer.
package redis
