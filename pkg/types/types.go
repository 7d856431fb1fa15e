// Package types holds the data model shared across Vanguard's packages:
// backend nodes and their status, pool and session bookkeeping, health
// statistics, and cluster membership.
package types

import (
	"time"
)

// BackendRole classifies what a backend node is permitted to serve.
type BackendRole string

const (
	RolePrimary BackendRole = "primary"
	RoleReplica BackendRole = "replica"
)

// BackendNode is the static, configured description of one PostgreSQL backend.
type BackendNode struct {
	ID              int
	Host            string
	Port            int
	Weight          float64
	Role            BackendRole
	DataDirectory   string
	ApplicationName string
}

// BackendState is the dynamic health state of a backend, as tracked by the
// status table.
type BackendState string

const (
	StateUnused     BackendState = "unused"
	StateWaiting    BackendState = "waiting"
	StateUp         BackendState = "up"
	StateDown       BackendState = "down"
	StateSuspected  BackendState = "suspected" // retrying, not yet declared down
)

// BackendStatus is one row of the status table: the dynamic half of a
// backend node. Mutated only through statustable.Table's methods (by the
// failover executor, the watchdog FSM, and the health controller's
// quarantine flag), read by everyone else via Table.Snapshot. Role tracks
// which node currently serves as primary and is itself part of the
// mutable status row, since a promote moves it from one node to
// another at runtime (spec §4.1) — BackendNode.Role only records the
// configured starting point.
type BackendStatus struct {
	NodeID      int
	State       BackendState
	Role        BackendRole
	Quarantined bool
	Generation  uint64
	RetryCount  int
	LastChange  time.Time
	LastReason  string
}

// Up reports whether the backend may currently be routed to.
func (s BackendStatus) Up() bool {
	return s.State == StateUp && !s.Quarantined
}

// HealthCheckType distinguishes the probe kind used by the health
// controller for a given backend.
type HealthCheckType string

const (
	HealthCheckTCP      HealthCheckType = "tcp"
	HealthCheckPostgres HealthCheckType = "postgres"
)

// HealthStatsRecord is the rolling counters and latency envelope the health
// controller keeps per backend.
type HealthStatsRecord struct {
	NodeID       int
	TotalCount   uint64
	SuccessCount uint64
	FailCount    uint64
	SkipCount    uint64
	RetryCount   uint64
	MinDuration  time.Duration
	MaxDuration  time.Duration
	SumDuration  time.Duration
	LastCheck    time.Time
	LastResult   bool
	LastMessage  string
}

// StatementRouting classifies how a statement's request should be
// dispatched by the router.
type StatementRouting string

const (
	RoutePrimaryOnly   StatementRouting = "primary_only"
	RouteAnyReplica    StatementRouting = "any_replica"
	RouteAllBackends   StatementRouting = "all_backends"
	RouteSpecificNode  StatementRouting = "specific_backend"
)

// StatementClass is the router's classification of a single statement.
type StatementClass struct {
	Routing    StatementRouting
	MustMerge  bool
	TargetNode int // meaningful only when Routing == RouteSpecificNode
}

// SessionState is the frontend-facing transaction/statement bookkeeping a
// session dispatcher owns exclusively.
type SessionState struct {
	ID              string
	User            string
	Database        string
	StartedAt       time.Time
	TxDepth         int
	InSavepoint     bool
	TxHasWrite      bool // a write statement has been observed in the current transaction
	StickyNodeID    int  // backend pinned for the remainder of a transaction, 0 = none
	LoadBalanceNode int  // backend selected for statement-level load balancing, 0 = none
}

// InTransaction reports whether the session is currently inside a
// multi-statement transaction block.
func (s SessionState) InTransaction() bool {
	return s.TxDepth > 0
}

// PendingRequestKind distinguishes the origin of a request sitting in the
// failover executor's queue.
type PendingRequestKind string

const (
	RequestFailover   PendingRequestKind = "failover"
	RequestFailback   PendingRequestKind = "failback"
	RequestDegenerate PendingRequestKind = "degenerate" // administrative forced-down
	RequestRecovery   PendingRequestKind = "recovery"
	RequestPromote    PendingRequestKind = "promote" // standby -> primary, old primary down first
)

// PendingRequest is one entry in the failover executor's request queue.
type PendingRequest struct {
	ID         string
	Kind       PendingRequestKind
	NodeID     int
	Reason     string
	Submitted  time.Time
	ResultCh   chan error `json:"-"`
}

// ClusterNodeRole distinguishes a watchdog peer's membership role.
type ClusterNodeRole string

const (
	ClusterRoleLeader   ClusterNodeRole = "leader"
	ClusterRoleFollower ClusterNodeRole = "follower"
	ClusterRoleCandidate ClusterNodeRole = "candidate"
	ClusterRoleJoining  ClusterNodeRole = "joining"
	ClusterRoleLost     ClusterNodeRole = "lost"
)

// ClusterNode describes one member of the watchdog peer set.
type ClusterNode struct {
	ID            string
	Host          string
	WatchdogPort  int
	PgpoolPort    int
	Priority      int
	Role          ClusterNodeRole
	LastHeartbeat time.Time
}
