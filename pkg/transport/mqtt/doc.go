// Package mqtt backs the fabric transport with an MQTT v5 broker via
// eclipse/paho.golang's autopaho connection manager.
//
// The session reconnects automatically and re-establishes every declared
// subscription on each reconnect. Key expressions translate to broker
// filters segment by segment: * becomes + and ** becomes a trailing #.
// Because # must terminate an MQTT filter, an expression with segments
// after ** subscribes more broadly than it matches; every delivered topic
// is re-checked against the original expression before handlers run, so
// delivery semantics stay segment-exact regardless of broker behavior.
//
// Publications use QoS 0: the fabric's liveness and config protocols
// tolerate loss by design (heartbeats repeat, config pushes retry at the
// orchestrator layer).
package mqtt
