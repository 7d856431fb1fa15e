/*
Package metrics provides Prometheus metrics collection and exposition for Vanguard.

The metrics package defines and registers all Vanguard metrics using the Prometheus
client library, providing observability into backend health, pool utilization,
failover activity, and watchdog cluster state. Metrics are exposed via an HTTP
endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (backend state)      │          │
	│  │  Counter: Monotonic increases (API requests)│          │
	│  │  Histogram: Distributions (health/failover) │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Backend: status table state, quarantine    │          │
	│  │  Pool: cache slots, lookups                 │          │
	│  │  Session: active count, duration            │          │
	│  │  Health: probe duration, counts             │          │
	│  │  Failover: pipeline duration, outcomes      │          │
	│  │  Watchdog: leadership, quorum, raft index   │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry, all metrics registered at package init.

Collectors:
  - metrics.Collector samples pkg/statustable and pkg/health every 15s.
  - watchdog.MetricsCollector samples pkg/watchdog's raft state every 15s.
  - API request metrics are incremented directly by pkg/api's middleware,
    not sampled.

Timer Helper:
  - Convenience wrapper for timing operations: start a timer, observe
    duration to a histogram (with or without labels).

# Metrics Catalog

Backend Metrics:

vanguard_backends_total{role, state}:
  - Type: Gauge
  - Description: Total configured backends by role and state
  - Example: vanguard_backends_total{role="replica",state="up"} 2

vanguard_backend_quarantined{node_id}:
  - Type: Gauge
  - Description: Whether a backend is currently quarantined (1) or not (0)

vanguard_status_table_generation:
  - Type: Gauge
  - Description: Current generation counter of the backend status table

Pool Metrics:

vanguard_pool_active_slots{worker}:
  - Type: Gauge
  - Description: Open backend slots cached per worker

vanguard_pool_lookups_total{outcome}:
  - Type: Counter
  - Description: Pool cache lookups by outcome (hit/miss)

Session Metrics:

vanguard_sessions_active:
  - Type: Gauge
  - Description: Currently active frontend sessions

vanguard_session_duration_seconds:
  - Type: Histogram
  - Description: Session lifetime, from authentication to close

Health Check Metrics:

vanguard_health_check_duration_seconds{node_id, result}:
  - Type: Histogram
  - Description: Time taken to probe a backend

vanguard_health_checks_total{node_id, result}:
  - Type: Gauge
  - Description: Cumulative probe count by node and result, sampled from the
    health stats registry (a Gauge, not a Counter — the collector re-sets
    this from an already-cumulative source on every tick rather than owning
    the increments itself)

Failover Metrics:

vanguard_failover_duration_seconds:
  - Type: Histogram
  - Description: Time taken to run the full failover pipeline

vanguard_failover_events_total{kind, outcome}:
  - Type: Counter
  - Description: Failover pipeline runs by request kind and outcome

Watchdog Metrics:

vanguard_watchdog_is_leader:
  - Type: Gauge
  - Description: Whether this node holds raft leadership (1=leader, 0=follower)

vanguard_watchdog_has_quorum:
  - Type: Gauge
  - Description: Whether the watchdog cluster currently has quorum

vanguard_watchdog_peers_total:
  - Type: Gauge
  - Description: Total watchdog peers in the cluster configuration

vanguard_watchdog_raft_last_index / vanguard_watchdog_raft_applied_index:
  - Type: Gauge
  - Description: Current / last-applied raft log index on this node

API Metrics:

vanguard_api_requests_total{method, status}:
  - Type: Counter
  - Description: Total admin API requests by method and status

vanguard_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: Admin API request duration

Query Routing Metrics:

vanguard_statements_routed_total{routing}:
  - Type: Counter
  - Description: Statements routed by routing class (primary_only,
    any_replica, all_backends, specific_backend)

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/vanguard/pkg/metrics"

	metrics.BackendsTotal.WithLabelValues("replica", "up").Set(2)
	metrics.SessionsActive.Inc()
	metrics.SessionsActive.Dec()

Updating Counter Metrics:

	metrics.APIRequestsTotal.WithLabelValues("POST", "200").Add(1)
	metrics.StatementsRoutedTotal.WithLabelValues("any_replica").Inc()

Recording Histogram Observations:

	metrics.HealthCheckDuration.WithLabelValues("1", "success").Observe(0.012)

	timer := metrics.NewTimer()
	runFailoverPipeline()
	timer.ObserveDuration(metrics.FailoverDuration)

Exposing the Endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe("127.0.0.1:9090", nil)

# Integration Points

This package integrates with:

  - pkg/statustable: Backend state counts (sampled by Collector)
  - pkg/health: Probe outcome counts (sampled by Collector); nothing
    observes vanguard_health_check_duration_seconds
  - pkg/failover: none; vanguard_failover_duration_seconds and
    vanguard_failover_events_total are registered but not updated
  - pkg/watchdog: Raft leadership/quorum/log index (watchdog.MetricsCollector)
  - pkg/api: Request count and duration (incremented by middleware)
  - pkg/router: none; vanguard_statements_routed_total is registered but
    pkg/router does not increment it
  - Prometheus: Scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, ensuring metrics are available before main() runs.

Label Discipline:
  - node_id/method/state/kind are bounded-cardinality labels.
  - Never label with session IDs, request IDs, or raw queries.

Timer Pattern:
  - Create a Timer at an operation's start, observe duration at its end.

# Performance Characteristics

  - Gauge set/inc: ~50ns per operation; Counter inc: ~50ns; Histogram
    observe: ~200ns; negligible relative to a PostgreSQL round trip.
  - Scrape cost: a handful of backends and one watchdog cluster keep the
    whole registry under a few hundred series — scraping is sub-millisecond.

# Troubleshooting

Missing Metrics:
  - Check the metric variable is registered in init() and exported.

Stale Gauges:
  - vanguard_backends_total/vanguard_health_checks_total only update on the
    Collector's 15s tick — expect up to that much staleness after a state
    change.

# Monitoring

Prometheus Queries (PromQL):

Backend Health:
  - Down backends: vanguard_backends_total{state="down"}
  - Quarantined: vanguard_backend_quarantined == 1

Failover Activity:
  - Failover rate: rate(vanguard_failover_events_total[5m])
  - p95 failover duration: histogram_quantile(0.95, vanguard_failover_duration_seconds_bucket)

Watchdog Health:
  - Has leader: max(vanguard_watchdog_is_leader) > 0
  - Log lag: vanguard_watchdog_raft_last_index - vanguard_watchdog_raft_applied_index

API Performance:
  - Request rate: rate(vanguard_api_requests_total[1m])
  - p95 latency: histogram_quantile(0.95, vanguard_api_request_duration_seconds_bucket)

# Alerting Rules

No Watchdog Leader:
  - Alert: max(vanguard_watchdog_is_leader) == 0
  - Description: the watchdog cluster has no elected leader
  - Action: check peer connectivity and quorum status

Backend Down:
  - Alert: vanguard_backends_total{state="down"} > 0
  - Action: check health-check logs for the affected node, consider manual recovery

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
