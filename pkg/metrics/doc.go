/*
Package metrics provides Prometheus instrumentation for fabric agents.

Collectors are package-level variables named fabric_*, covering the three
hot paths: liveness (heartbeats published/received, staleness transitions,
nodes by status), config pushes (result counts, duration with retries), and
subscriber dispatch (delivered and dropped samples, decode failures).

Call Register once at startup, then expose the endpoint:

	metrics.Register()
	go metrics.Serve(":9090")

Agents update the collectors inline; nothing here starts background work.
The Timer type wraps duration observation for histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConfigPushDuration)
*/
package metrics
