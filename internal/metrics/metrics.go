// Package metrics exposes Prometheus collectors for masking, restoration,
// storage and the HTTP surface. Collectors live on a private registry so the
// process default registry stays untouched.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pii_sentinel"

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	durationBuckets = []float64{
		.0005, .001, .0025, // in-memory and cached lookups
		.005, .01, .025, // local database round trips
		.05, .1, .25, // network stores
		.5, 1, 2.5, 5, // upstream processors
	}

	MaskedTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masked_total",
			Help:      "Total number of values replaced by a masked token",
		},
		[]string{"category"},
	)

	RestoredTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restored_total",
			Help:      "Total number of masked tokens substituted back with originals",
		},
	)

	UnresolvedTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_total",
			Help:      "Total number of masked tokens left in restored text without a mapping",
		},
	)

	DuplicatesTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Total number of mappings skipped because the token already existed in the session",
		},
	)

	StoreErrorsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of mapping store failures",
		},
		[]string{"op"},
	)

	OperationDuration = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of sanitize, restore and process operations",
			Buckets:   durationBuckets,
		},
		[]string{"op"},
	)

	HTTPRequestsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"route", "status"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Registry returns the registry holding every collector of this package.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// ObserveSince records the elapsed time of op.
func ObserveSince(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
