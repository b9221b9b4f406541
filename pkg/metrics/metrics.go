package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Commits         *prometheus.CounterVec
	Fetches         *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FeedSubscribers prometheus.Gauge
)

var Registered = false

func RegisterMetrics(namespace string) {
	if Registered {
		return
	}
	Registered = true

	Commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "commits_total",
			Namespace: namespace,
			Subsystem: "records",
			Help:      "Commits received, by document type and result.",
		},
		[]string{"type", "result"},
	)

	Fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "fetches_total",
			Namespace: namespace,
			Subsystem: "records",
			Help:      "Resource lookups, by result.",
		},
		[]string{"result"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "request_duration_seconds",
			Namespace: namespace,
			Subsystem: "http",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)

	FeedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:      "subscribers",
			Namespace: namespace,
			Subsystem: "feed",
			Help:      "Connected commit feed subscribers.",
		},
	)

	prometheus.MustRegister(Commits)
	prometheus.MustRegister(Fetches)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(FeedSubscribers)
}
