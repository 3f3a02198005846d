/*
Package types defines the core data structures shared by every fabric agent.

This package contains the wire-level envelopes exchanged over the pub/sub
transport and the orchestrator-side bookkeeping built on top of them. It is
imported by all other packages and imports none of them.

# Core Types

  - NodeConfig: configuration pushed to a node; the blob is opaque JSON
    interpreted only by the node's plugin
  - NodeData: the heartbeat/status envelope published on fabric/<id>/status
  - NodeState: an orchestrator's last-observed value and wall-clock update
    instant for one node
  - NodeStatus: online, offline, unknown

# Wire Format

Both envelopes serialize as JSON:

	NodeConfig = { "node_id": <string>, "config": <any json value> }
	NodeData   = { "node_id": <string>, "node_type": <string>,
	               "timestamp": <u64 epoch seconds>,
	               "metadata": <any json value | omitted>,
	               "status": "online" | "offline" | "unknown" }

A NodeData decoded without a status field defaults to "online"; producers
predating the status field remain readable.

# Tunables

The Default* constants hold the process-wide timing and capacity defaults
(heartbeat period, staleness threshold, config backoff schedule, dispatch
buffer size). Agents accept overrides through their Options structs and the
config package maps FABRIC_* environment variables onto the same knobs.
*/
package types
