package identity

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the identity core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registrations      *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	CacheRequests      *prometheus.CounterVec
	CacheEvictions     prometheus.Counter
	ResolveDuration    prometheus.Histogram
	TokenVerifications *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_registrations_total",
			Help: "Registration saga outcomes",
		}, []string{"outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_saga_compensations_total",
			Help: "Saga compensation attempts by saga and outcome",
		}, []string{"saga", "outcome"}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_permission_cache_requests_total",
			Help: "Permission cache lookups by result",
		}, []string{"result"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_permission_cache_evictions_total",
			Help: "Global permission cache evictions",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_permission_resolve_duration_seconds",
			Help:    "Latency of store backed permission resolution",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		TokenVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_token_verifications_total",
			Help: "Verification token checks by purpose and result",
		}, []string{"purpose", "result"}),
	}
}

func (m *Metrics) registration(ok bool) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) compensation(saga string, ok bool) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(saga, outcome(ok)).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheEvicted() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

func (m *Metrics) resolved(start time.Time) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) tokenVerified(purpose TokenPurpose, result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(string(purpose), result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
