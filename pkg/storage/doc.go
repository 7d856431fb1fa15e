/*
Package storage provides BoltDB-backed persistence for the status table's
transition log and the cluster's certificate authority material.

# Architecture

Vanguard uses BoltDB (bbolt) for embedded, transactional storage with no
external database dependency:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│  BoltStore                                                │
	│  - File: <dataDir>/vanguard.db                            │
	│  - Buckets:                                               │
	│      status_transitions  (nodeID+seq -> StatusTransitionRecord) │
	│      status_snapshot     ("current" -> []types.BackendStatus)  │
	│      ca                  ("root" -> CA material)          │
	└────────────────────────────────────────────────────────────┘

The transition log is append-only and keyed so a given backend's entries
sort together in insertion order (see ListStatusTransitions). The snapshot
bucket holds one compacted row so a restart can repopulate statustable.Table
without replaying the whole log; statustable.Table writes it on every
transition and also restores from it at startup.

# Failure model

A write failure here never rolls back the in-memory status table: see
ErrPersistDegraded and statustable.Table.Transition. Durability is
best-effort; correctness of the in-memory view is not conditioned on it.

# See Also

  - pkg/statustable for the in-memory table this package backs
  - pkg/security for how CA material is read/written through SaveCA/GetCA
*/
package storage
