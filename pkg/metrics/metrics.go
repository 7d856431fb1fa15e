package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend metrics
	BackendsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanguard_backends_total",
			Help: "Total number of configured backends by role and state",
		},
		[]string{"role", "state"},
	)

	BackendQuarantined = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanguard_backend_quarantined",
			Help: "Whether a backend is currently quarantined (1) or not (0)",
		},
		[]string{"node_id"},
	)

	StatusTableGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_status_table_generation",
			Help: "Current generation counter of the backend status table",
		},
	)

	// Pool metrics
	PoolActiveSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanguard_pool_active_slots",
			Help: "Number of open backend slots cached per worker",
		},
		[]string{"worker"},
	)

	PoolLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_pool_lookups_total",
			Help: "Total number of pool cache lookups by outcome (hit/miss)",
		},
		[]string{"outcome"},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_sessions_active",
			Help: "Total number of currently active frontend sessions",
		},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vanguard_session_duration_seconds",
			Help:    "Session lifetime in seconds, from authentication to close",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Health check metrics
	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vanguard_health_check_duration_seconds",
			Help:    "Time taken to probe a backend in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_id", "result"},
	)

	HealthChecksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vanguard_health_checks_total",
			Help: "Cumulative health probe count by node and result, sampled from the health stats registry",
		},
		[]string{"node_id", "result"},
	)

	// Failover metrics
	FailoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vanguard_failover_duration_seconds",
			Help:    "Time taken to run the full failover pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FailoverEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_failover_events_total",
			Help: "Total number of failover pipeline runs by request kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Watchdog / raft cluster metrics
	WatchdogIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_watchdog_is_leader",
			Help: "Whether this node currently holds raft leadership (1 = leader, 0 = follower)",
		},
	)

	WatchdogHasQuorum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_watchdog_has_quorum",
			Help: "Whether the watchdog cluster currently has quorum",
		},
	)

	WatchdogPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_watchdog_peers_total",
			Help: "Total number of watchdog peers in the cluster configuration",
		},
	)

	WatchdogLastIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_watchdog_raft_last_index",
			Help: "Current raft log index on this node",
		},
	)

	WatchdogAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vanguard_watchdog_raft_applied_index",
			Help: "Last applied raft log index on this node",
		},
	)

	// Admin API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vanguard_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Query routing metrics
	StatementsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vanguard_statements_routed_total",
			Help: "Total number of statements routed by routing class",
		},
		[]string{"routing"},
	)
)

func init() {
	prometheus.MustRegister(BackendsTotal)
	prometheus.MustRegister(BackendQuarantined)
	prometheus.MustRegister(StatusTableGeneration)
	prometheus.MustRegister(PoolActiveSlots)
	prometheus.MustRegister(PoolLookupsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(FailoverDuration)
	prometheus.MustRegister(FailoverEventsTotal)
	prometheus.MustRegister(WatchdogIsLeader)
	prometheus.MustRegister(WatchdogHasQuorum)
	prometheus.MustRegister(WatchdogPeersTotal)
	prometheus.MustRegister(WatchdogLastIndex)
	prometheus.MustRegister(WatchdogAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(StatementsRoutedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
