/*
Package types defines the core data structures shared across Vanguard.

This package contains the domain model that every other package reads or
mutates: backend nodes and their dynamic status, session and pool
bookkeeping, health statistics, the failover request queue, and cluster
membership.

# Core Types

Backend topology:
  - BackendNode: static, configured description of one PostgreSQL backend
  - BackendStatus: dynamic health state, the status table's row type
  - BackendRole: primary or replica
  - BackendState: unused, waiting, up, down, suspected

Session and routing:
  - SessionState: per-frontend transaction and statement bookkeeping
  - StatementClass: router's classification of one statement
  - StatementRouting: primary_only, any_replica, all_backends, specific_backend

Health and failover:
  - HealthStatsRecord: rolling per-backend health counters
  - PendingRequest: one entry in the failover executor's request queue
  - PendingRequestKind: failover, failback, degenerate, recovery, promote

Cluster:
  - ClusterNode: one watchdog peer and its membership role

# Thread Safety

Types in this package carry no synchronization themselves. BackendStatus
values are only ever mutated behind statustable.Table's mutex (single-writer
discipline); callers elsewhere receive copies via Table.Snapshot and must
not assume a pointer stays current.

# See Also

  - pkg/statustable for the status table that owns BackendStatus
  - pkg/router for StatementClass production and consumption
  - pkg/failover for PendingRequest handling
  - pkg/watchdog for ClusterNode membership
*/
package types
