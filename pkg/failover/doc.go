/*
Package failover implements spec §4.7: the single-threaded consumer of
the pending-request queue that turns a failover/failback/degenerate/
recovery request into a status-table transition.

Each request runs through Pipeline, an explicit five(ish)-step sequence —
acquire the cluster interlock, re-validate against current status, apply
the transition, run the configured script on promotion, sync workers —
with the interlock's release attached as a Defer for the failure path and
called by the executor after a successful run, so it runs exactly once
either way. The pipeline shape is grounded in the
Step/Defer pattern used by pgbouncer-adjacent failover tooling in the
example corpus; this package's version is a ~60-line generic helper
rather than an imported dependency because the shape is small and
specific to this one executor.

Coordinator, Replicator and WorkerNotifier are narrow interfaces so this
package never imports pkg/watchdog or pkg/session directly — both of
those depend on pkg/failover's request types instead, avoiding a cycle.
When a Replicator is configured, apply_transition proposes the
transition through it (replicated via the watchdog cluster's raft log)
instead of writing straight to the local Table, so every watchdog peer's
view of backend status converges together.
*/
package failover
