/*
Package router implements spec §4.5: statement classification, weighted
replica selection, and the all-backends reply merger.

Classify is intentionally not a SQL parser — it inspects only the leading
keyword of a statement's text, per the spec's Non-goal on SQL parsing —
and applies the four ordered rules: an in-transaction write pins
primary_only for the rest of the transaction; global-state mutation goes
to all_backends with must_merge; a syntactic read routes to any_replica
when outside a transaction or when statement-level load balancing is on;
everything else defaults to primary_only.

SelectReplica/ResolveLoadBalanceNode implement weighted-random selection
among lag-healthy replicas, sticky per session unless statement-level
balancing is enabled.

Merge implements the reply-merger semantics for must_merge statements:
forward one agreed reply, or the first error if any target failed.
Row-returning multicast is unsupported by design — callers must downgrade
such statements to primary_only before they ever reach Merge.
*/
package router
