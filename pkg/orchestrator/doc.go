// Package orchestrator implements the controller-side agent of the fabric.
//
// An Orchestrator subscribes to every node's liveness on fabric/*/status and
// keeps one NodeState per node id: the last decoded envelope plus the
// wall-clock instant it arrived. A staleness checker sweeps the map each
// period and flips nodes that have been silent past the threshold to
// offline, firing the node's registered callback once per transition.
// Recovery is driven entirely by the next heartbeat overwriting the state,
// so a node that resumes publishing flips back to whatever status its
// envelope declares.
//
// Configuration flows the other way: PublishNodeConfig serializes a
// NodeConfig and PUTs it to node/<id>/config, retrying with exponential
// backoff until the policy's elapsed budget runs out. The retry loop stays
// responsive to cancellation between attempts.
//
// # Locking
//
// The node-state and callback maps share one mutex held only across the
// upsert; callbacks always run with the lock released, so a callback may
// call back into the orchestrator. Publisher, subscription, and
// data-subscription registries each have their own lock with the same
// copy-out-then-invoke dispatch discipline as the node side. No code path
// holds two locks at once.
package orchestrator
