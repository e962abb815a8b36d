// Package metrics holds the prometheus collectors for the relay. Collectors
// are registered with the default registry at init and served on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamBuckets covers relay durations from 100ms to two minutes.
var StreamBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RelaysTotal counts finished relay invocations by outcome
	// (completed, failed, cancelled).
	RelaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_streams_total",
			Help: "Finished relay streams",
		},
		[]string{"outcome"},
	)

	// RelayDuration records how long each relay took from request to close.
	RelayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_stream_duration_seconds",
			Help:    "Relay stream duration",
			Buckets: StreamBuckets,
		},
		[]string{"outcome"},
	)

	// ActiveStreams tracks relays currently holding an open event stream.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_streams_active",
			Help: "Active relay streams",
		},
	)

	// DeltasTotal counts content records forwarded downstream.
	DeltasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deltas_total",
			Help: "Content deltas relayed",
		},
	)

	// DecodeNoiseTotal counts upstream records dropped as undecodable.
	DecodeNoiseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_decode_noise_total",
			Help: "Upstream records skipped as noise",
		},
	)

	// UpstreamRequestsTotal counts upstream requests by provider and status
	// class ("2xx", "5xx", or "error" for transport failures).
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"provider", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RelaysTotal,
		RelayDuration,
		ActiveStreams,
		DeltasTotal,
		DecodeNoiseTotal,
		UpstreamRequestsTotal,
	)
}

// StatusClass maps an HTTP status to its class label. Zero means the
// request never got a response.
func StatusClass(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
