package storage

import (
	"errors"
	"time"

	"github.com/cuemby/vanguard/pkg/types"
)

// ErrPersistDegraded is returned when a status-table mutation succeeded in
// memory but could not be durably recorded. Callers must not roll back the
// in-memory state on this error — per the status table's failure model, a
// persistence failure degrades durability, not correctness.
var ErrPersistDegraded = errors.New("storage: status transition applied in memory but not persisted")

// StatusTransitionRecord is one append-only entry in the status transition
// log: a single backend moving from one state to another.
type StatusTransitionRecord struct {
	Timestamp time.Time
	NodeID    int
	OldState  types.BackendState
	NewState  types.BackendState
	Reason    string
}

// Store defines the durable state Vanguard keeps across restarts: the
// status table's transition log and compacted snapshot, and the cluster's
// certificate authority material.
type Store interface {
	// AppendStatusTransition records one status change. The log is
	// append-only; it is never compacted in place, only superseded by a
	// fresher snapshot on load.
	AppendStatusTransition(rec StatusTransitionRecord) error

	// SaveStatusSnapshot overwrites the compacted "current state" view so a
	// restart doesn't need to replay the whole transition log.
	SaveStatusSnapshot(snapshot []types.BackendStatus) error

	// LoadStatusSnapshot returns the last saved snapshot, or an empty slice
	// if none has been saved yet.
	LoadStatusSnapshot() ([]types.BackendStatus, error)

	// ListStatusTransitions returns up to limit most recent transitions for
	// a backend, newest first. limit <= 0 means no limit.
	ListStatusTransitions(nodeID int, limit int) ([]StatusTransitionRecord, error)

	// Certificate authority, used by pkg/security's CertAuthority to
	// persist the cluster's root CA across restarts.
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
