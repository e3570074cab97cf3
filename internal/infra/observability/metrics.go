package observability

import (
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the portal.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	fetchCycleDuration *prometheus.HistogramVec
	fetchCyclesTotal   *prometheus.CounterVec
	staleCommits       prometheus.Counter
	externalErrors     *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	feedEvents         *prometheus.CounterVec
	checkouts          *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		fetchCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_fetch_cycle_duration_seconds",
				Help:    "Duration of aggregated profile fetch cycles.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		fetchCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_fetch_cycles_total",
				Help: "Total fetch cycles started, by outcome.",
			},
			[]string{"outcome"},
		),
		staleCommits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_stale_commits_dropped_total",
				Help: "Results discarded because a newer fetch cycle superseded them.",
			},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_external_errors_total",
				Help: "Total errors from the remote data gateway.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		feedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_feed_events_total",
				Help: "Change-feed events applied, by table and type.",
			},
			[]string{"table", "type"},
		),
		checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_checkouts_total",
				Help: "Checkout submissions, by status.",
			},
			[]string{"status"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_requests_total",
				Help: "Total requests processed.",
			},
			[]string{"status"},
		),
	}
}

// RecordFetchCycle records the duration and outcome of one fetch cycle.
// Outcome is one of: committed, superseded, failed, timeout.
func (m *Metrics) RecordFetchCycle(outcome string, d time.Duration) {
	m.fetchCycleDuration.WithLabelValues(outcome).Observe(d.Seconds())
	m.fetchCyclesTotal.WithLabelValues(outcome).Inc()
}

// IncrStaleCommitDropped counts a late result discarded by the identity check.
func (m *Metrics) IncrStaleCommitDropped() {
	m.staleCommits.Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrFeedEvent counts one change-feed delta applied to a collection.
func (m *Metrics) IncrFeedEvent(table, eventType string) {
	m.feedEvents.WithLabelValues(table, eventType).Inc()
}

// IncrCheckout counts a checkout submission by status (started, failed, succeeded).
func (m *Metrics) IncrCheckout(status string) {
	m.checkouts.WithLabelValues(status).Inc()
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// GetPortalSnapshot returns a snapshot of portal metrics suitable for the
// GET /v1/metrics/portal endpoint.
func (m *Metrics) GetPortalSnapshot() *domain.PortalMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	cycles := getCounterValue(m.fetchCyclesTotal, "committed") +
		getCounterValue(m.fetchCyclesTotal, "superseded") +
		getCounterValue(m.fetchCyclesTotal, "failed") +
		getCounterValue(m.fetchCyclesTotal, "timeout")
	stale := getPlainCounterValue(m.staleCommits)
	extErrs := sumCounterVec(m.externalErrors)
	cacheHits := getCounterValue(m.cacheHits, "profile") + getCounterValue(m.cacheHits, "role")
	cacheMisses := getCounterValue(m.cacheMisses, "profile") + getCounterValue(m.cacheMisses, "role")
	started := getCounterValue(m.checkouts, "started")
	failed := getCounterValue(m.checkouts, "failed")

	hitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		hitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.PortalMetrics{
		FetchCycles:         int64(cycles),
		StaleCommitsDropped: int64(stale),
		ExternalErrors:      int64(extErrs),
		CacheHitRate:        hitRate,
		CheckoutsStarted:    int64(started),
		CheckoutsFailed:     int64(failed),
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec totals a CounterVec across every label value it has seen,
// so new labels never silently fall out of the snapshot.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}

func getPlainCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
