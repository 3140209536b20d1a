package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lease engine
type Metrics struct {
	// Probe metrics
	ProbeRequestsTotal *prometheus.CounterVec
	ProbeDuration      prometheus.Histogram

	// Verification metrics
	VerifyRequestsTotal *prometheus.CounterVec
	VerifyDuration      prometheus.Histogram

	// Lease metrics
	LeaseHitsTotal         prometheus.Counter
	LeaseGrantsTotal       *prometheus.CounterVec
	LeaseReplacementsTotal prometheus.Counter
	LeaseExhaustionsTotal  prometheus.Counter
	LeaseInvalidations     prometheus.Counter
	GetLeaseDuration       prometheus.Histogram
	TenantsTracked         prometheus.Gauge

	// Store metrics
	StoreWriteFailuresTotal prometheus.Counter

	// Revalidation metrics
	RevalidationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production and a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer, instanceID string) *Metrics {
	labels := prometheus.Labels{"instance_id": instanceID}
	factory := promauto.With(reg)

	return &Metrics{
		ProbeRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "probe",
			Name:        "requests_total",
			Help:        "Total number of connectivity probe requests by target and result",
			ConstLabels: labels,
		}, []string{"target", "result"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "stickyd",
			Subsystem:   "probe",
			Name:        "duration_seconds",
			Help:        "Histogram of individual probe request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		VerifyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "verify",
			Name:        "requests_total",
			Help:        "Total number of geolocation verification requests by service and result",
			ConstLabels: labels,
		}, []string{"service", "result"}),
		VerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "stickyd",
			Subsystem:   "verify",
			Name:        "duration_seconds",
			Help:        "Histogram of verification request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		LeaseHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "hits_total",
			Help:        "Total number of calls served by an existing healthy lease",
			ConstLabels: labels,
		}),
		LeaseGrantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "grants_total",
			Help:        "Total number of new leases granted by strategy tier",
			ConstLabels: labels,
		}, []string{"strategy"}),
		LeaseReplacementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "replacements_total",
			Help:        "Total number of leases replaced after a failed liveness re-check",
			ConstLabels: labels,
		}),
		LeaseExhaustionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "exhaustions_total",
			Help:        "Total number of calls that exhausted every candidate tier",
			ConstLabels: labels,
		}),
		LeaseInvalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "invalidations_total",
			Help:        "Total number of administrative lease invalidations",
			ConstLabels: labels,
		}),
		GetLeaseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "get_duration_seconds",
			Help:        "Histogram of full GetLease call durations",
			ConstLabels: labels,
			Buckets:     []float64{.05, .1, .5, 1, 5, 10, 30, 60, 90},
		}),
		TenantsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "stickyd",
			Subsystem:   "lease",
			Name:        "tenants_tracked",
			Help:        "Number of tenants holding a stored lease",
			ConstLabels: labels,
		}),
		StoreWriteFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "store",
			Name:        "write_failures_total",
			Help:        "Total number of persistence write failures",
			ConstLabels: labels,
		}),
		RevalidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stickyd",
			Subsystem:   "revalidate",
			Name:        "runs_total",
			Help:        "Total number of background lease revalidations by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}
