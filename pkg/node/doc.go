/*
Package node implements the worker-side agent of the fabric.

A Node owns one plugin interface and one transport session. Run drives a
single serial loop over four event sources: the heartbeat ticker (publishing
an online NodeData on fabric/<id>/status each period, plus one synchronous
heartbeat before the loop starts), configuration samples pushed on
node/<id>/config, events on node/<id>/event/<name>, and samples from user
subscriptions. Serial processing gives within-agent ordering; nothing the
loop does blocks on user code for longer than one callback invocation.

# Registries

Publishers, subscriptions, and the cached config each sit behind their own
lock; no code path holds two at once. Subscription dispatch snapshots the
matching entries under the read lock and invokes callbacks lock-free. Exactly
one subscription exists per expression: re-subscribing replaces the callback
and undeclares the superseded transport handle. A sample whose key matches
several registered expressions is delivered to each of their callbacks; with
overlapping expressions declared at the transport this can mean more than
one invocation per callback per publication, which callers accept when they
register overlapping globs.

# Backpressure and failure

Transport handlers forward samples into bounded channels (dispatch capacity
100 by default) and drop with a warning when full, so a slow callback never
blocks the transport goroutine. Malformed config payloads and plugin event
errors are logged and swallowed; heartbeat publish failures are logged and
retried implicitly at the next tick. Callback and event-handler panics are
recovered. Declare failures during Run setup are fatal and surface to the
caller; cancellation is a clean return after all declared transport
resources are released.
*/
package node
