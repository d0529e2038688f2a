package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	grantsTotal        *prometheus.CounterVec
	redemptionsTotal   *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	cacheSyncFailures  prometheus.Counter
	templatesCached    prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustfi_grants_issued_total",
		Help: "Claim grants signed by the issuer endpoint",
	}, []string{"status"})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustfi_redemptions_total",
		Help: "Claim redemption flows by terminal outcome",
	}, []string{"outcome"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustfi_retry_attempts_total",
		Help: "Chain call retries scheduled by the backoff executor",
	}, []string{"result"})

	syncFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trustfi_cache_sync_failures_total",
		Help: "Cache sync operations that failed and were deferred",
	})

	templates := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trustfi_templates_cached",
		Help: "Templates currently mirrored in the cache",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(grants, redemptions, retries, syncFailures, templates)

	return &metricsRegistry{
		registry:           r,
		grantsTotal:        grants,
		redemptionsTotal:   redemptions,
		retryAttemptsTotal: retries,
		cacheSyncFailures:  syncFailures,
		templatesCached:    templates,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incGrant(status string) {
	m.grantsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incRedemption(outcome string) {
	m.redemptionsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incRetry(result string) {
	m.retryAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incSyncFailure() {
	m.cacheSyncFailures.Inc()
}

func (m *metricsRegistry) setTemplatesCached(n int) {
	m.templatesCached.Set(float64(n))
}
