/*
Package log provides structured logging for fabric agents built on zerolog.

The package keeps one root logger and derives identity-carrying children
from it:

	log.Init(log.Config{Level: "debug", JSON: true})
	logger := log.WithOrchestratorID(id)
	logger.Warn().Str("node_id", nodeID).Msg("node went stale")

Agents capture their child logger once, at construction, and log through it
for their whole lifetime; there are no package-level leveled helpers. The
root works before Init (console on stderr, info level) so library tests and
short-lived tools need no setup, and Init only affects loggers derived
after it runs.
*/
package log
