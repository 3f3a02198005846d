package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Liveness metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_nodes_total",
			Help: "Known nodes by status as seen by this orchestrator",
		},
		[]string{"status"},
	)

	HeartbeatsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_heartbeats_published_total",
			Help: "Heartbeats published by this node",
		},
	)

	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_heartbeats_received_total",
			Help: "Heartbeat envelopes received on fabric/*/status",
		},
	)

	StalenessTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_staleness_transitions_total",
			Help: "Nodes flipped to offline by the staleness checker",
		},
	)

	// Config push metrics
	ConfigPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_config_pushes_total",
			Help: "Config pushes by result",
		},
		[]string{"result"},
	)

	ConfigPushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_config_push_duration_seconds",
			Help:    "Config push duration including retries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatch metrics
	SamplesDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_samples_dispatched_total",
			Help: "Samples delivered to subscriber callbacks",
		},
	)

	SamplesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_samples_dropped_total",
			Help: "Samples dropped because the dispatch buffer was full",
		},
	)

	// Codec metrics
	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_decode_failures_total",
			Help: "Inbound payloads discarded as malformed, by payload kind",
		},
		[]string{"kind"},
	)
)

// Register registers all fabric metrics with the default registry. Call once
// at startup.
func Register() {
	prometheus.MustRegister(
		NodesTotal,
		HeartbeatsPublished,
		HeartbeatsReceived,
		StalenessTransitions,
		ConfigPushesTotal,
		ConfigPushDuration,
		SamplesDispatched,
		SamplesDropped,
		DecodeFailures,
	)
}

// Handler returns the /metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Timer measures an operation's duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
