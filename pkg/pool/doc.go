/*
Package pool implements the pool slot and per-worker cache from spec §4.3:
a bounded LRU, keyed by (user, database, protocol-major), of slots that
each aggregate one backend.Slot per currently-valid backend node.

A Cache is deliberately not safe for concurrent use — spec §5 requires
connection pools to be strictly per session-worker, never shared, so the
type carries no internal lock and pkg/session is expected to confine one
Cache to the goroutine that owns it.

Lookup implements the hit/miss/invalidate protocol: a hit is revalidated
against the current statustable generation and each cached backend
socket's liveness before being returned; any mismatch evicts the slot and
falls through to a fresh create, matching the "invalidated at the next
lookup, never mutated in place" invariant.
*/
package pool
