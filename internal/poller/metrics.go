package poller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for processed entities
const (
	OutcomeProcessed = "processed"
	OutcomeReleased  = "released"
	OutcomePanic     = "panic"
)

// Metrics holds Prometheus metrics for the polling engine.
type Metrics struct {
	BatchSize       *prometheus.HistogramVec
	Entities        *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	FetchFailures   *prometheus.CounterVec
	LeaseFailures   *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
}

// NewMetrics registers the polling metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BatchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcp_holder_poller_batch_size",
			Help:    "Number of entities leased per tick",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}, []string{"processor"}),
		Entities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcp_holder_poller_entities_total",
			Help: "Entities handed to a processor, by outcome",
		}, []string{"processor", "outcome"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcp_holder_poller_handler_duration_seconds",
			Help:    "Time spent in a processor handler per entity",
			Buckets: prometheus.DefBuckets,
		}, []string{"processor"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcp_holder_poller_fetch_failures_total",
			Help: "Failed attempts to lease a batch",
		}, []string{"processor"}),
		LeaseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcp_holder_poller_lease_release_failures_total",
			Help: "Failed attempts to release the lease of an unprocessed entity",
		}, []string{"processor"}),
		TickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcp_holder_poller_tick_duration_seconds",
			Help:    "Time taken for a full tick including all handlers",
			Buckets: prometheus.DefBuckets,
		}, []string{"processor"}),
	}
}

func (m *Metrics) observeBatch(processor string, n int) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(processor).Observe(float64(n))
}

func (m *Metrics) observeEntity(processor, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Entities.WithLabelValues(processor, outcome).Inc()
	m.HandlerDuration.WithLabelValues(processor).Observe(took.Seconds())
}

func (m *Metrics) incFetchFailure(processor string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(processor).Inc()
}

func (m *Metrics) incLeaseFailure(processor string) {
	if m == nil {
		return
	}
	m.LeaseFailures.WithLabelValues(processor).Inc()
}

func (m *Metrics) observeTick(processor string, took time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.WithLabelValues(processor).Observe(took.Seconds())
}
