/*
Package health implements the backend health controller from spec §4.6: a
dedicated per-instance worker that probes every configured backend on its
own schedule and drives the observed-health state machine that feeds the
failover executor.

# Architecture

	┌─────────────────────────────────────────────────────────┐
	│                      Controller                          │
	│   one nodeSchedule per configured backend                │
	└─────┬─────────────────────────────────────────────────────┘
	      │
	 ┌────┴────┐
	 ▼         ▼
	Checker   Checker  ...one goroutine per backend's ticker
	 │         │
	 ▼         ▼
	Result    Result  → StatsRegistry.record(nodeID, result)
	                  → state machine transition
	                  → failover.Executor.Submit(...) on suspected/recovered

# Checkers

Checker is a small interface (Check(ctx) Result, Type() CheckType) so a
backend's probe strategy is swappable. TCPChecker gives a bare liveness
probe; PostgresChecker performs the real probe spec §4.6 names: open a
backend slot via pkg/backend, authenticate as health_check_user/
health_check_database, wait for ReadyForQuery, close.

# Observed-health state machine

Per backend: healthy -> retrying(k) -> suspected, for k from 0 to
max_retries. A success from any state returns to healthy; if the
previous state was suspected, a failback request is posted. Reaching
max_retries consecutive failures sets the backend's quarantine flag in
the status table when the watchdog cluster lacks quorum or this node is
not the raft leader, and otherwise posts a failover request. Quorum and
leadership are read through the QuorumChecker interface the watchdog
cluster coordinator implements.

# Statistics

StatsRegistry keeps the {total, success, fail} counters and {min, max,
sum} duration envelope per backend; the record's skip and retry counters
are never incremented and stay zero. It follows the teacher's
pkg/metrics/health.go pattern of a small mutex-guarded map behind a typed
API — pkg/api formats these for external readers at GET /health/stats.
*/
package health
