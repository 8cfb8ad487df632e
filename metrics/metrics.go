// Package metrics defines the Prometheus collectors the core updates
// as it moves frames, tracks pending requests, and runs keepalive.
// Modeled on runZeroInc-sockstats/runZeroInc-conniver's use of
// prometheus/client_golang for low-level connection telemetry, but
// as plain counters/gauges updated inline by the caller rather than a
// scraped tcpinfo-style Collector — this core has no raw socket
// introspection to offer, only the frames and bytes it already sees.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the core updates. Every field must be
// set (New and NewNoop set them all); callers skip observations when
// their *Collectors is nil.
type Collectors struct {
	FramesIn          prometheus.Counter
	FramesOut         prometheus.Counter
	BytesIn           prometheus.Counter
	BytesOut          prometheus.Counter
	ChecksumFailures  prometheus.Counter
	Downgrades        prometheus.Counter
	KeepaliveFailures prometheus.Counter
	PendingRequests   prometheus.Gauge
	PushSubscribers   prometheus.Gauge
	RequestDuration   prometheus.Histogram
}

// New registers and returns a Collectors bundle against reg. Pass a
// fresh *prometheus.Registry per Client to avoid collisions when a
// process runs more than one gateway connection.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_frames_in_total",
			Help: "Frames received from the gateway.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_frames_out_total",
			Help: "Frames sent to the gateway.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_bytes_in_total",
			Help: "Body bytes received from the gateway.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_bytes_out_total",
			Help: "Body bytes sent to the gateway.",
		}),
		ChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_checksum_failures_total",
			Help: "Frames dropped for SHA-1 checksum mismatch.",
		}),
		Downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_encryption_downgrades_total",
			Help: "Times the connection fell back from encrypted to plaintext.",
		}),
		KeepaliveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuopend_keepalive_failures_total",
			Help: "Keepalive send failures observed.",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "futuopend_pending_requests",
			Help: "Requests currently awaiting a response.",
		}),
		PushSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "futuopend_push_subscribers",
			Help: "Live push subscriber channels.",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "futuopend_request_duration_seconds",
			Help:    "Duration of Request() and Send() calls, measured by the client middleware chain.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.FramesIn, c.FramesOut, c.BytesIn, c.BytesOut,
			c.ChecksumFailures, c.Downgrades, c.KeepaliveFailures,
			c.PendingRequests, c.PushSubscribers, c.RequestDuration)
	}
	return c
}

// NewNoop returns a Collectors bundle that is not registered anywhere;
// useful for tests and callers who don't want a Prometheus dependency
// at runtime.
func NewNoop() *Collectors {
	return New(nil)
}
