// Package statustable implements the shared backend status table: the
// single piece of mutable state every subsystem reads. State and role
// changes come from the failover executor, directly or through the
// watchdog FSM; the health controller sets the quarantine flag.
package statustable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/vanguard/pkg/storage"
	"github.com/cuemby/vanguard/pkg/types"
)

// Table is a fixed-capacity, generation-counted table of backend status
// rows. Readers call Snapshot and work from their own copy; every write
// (TransitionRole, SeedRoles, SetQuarantined, IncrementRetry) holds mu.
type Table struct {
	mu         sync.RWMutex
	rows       map[int]types.BackendStatus
	generation atomic.Uint64
	store      storage.Store
}

// New builds an empty table, one row per node in nodeIDs, all starting in
// StateUnused. If store is non-nil, New tries to restore the last saved
// snapshot first, falling back to the fresh table on any error.
func New(nodeIDs []int, store storage.Store) *Table {
	t := &Table{
		rows:  make(map[int]types.BackendStatus, len(nodeIDs)),
		store: store,
	}
	now := time.Now()
	for _, id := range nodeIDs {
		t.rows[id] = types.BackendStatus{
			NodeID:     id,
			State:      types.StateUnused,
			Generation: 0,
			LastChange: now,
		}
	}

	if store != nil {
		if snapshot, err := store.LoadStatusSnapshot(); err == nil {
			for _, row := range snapshot {
				if _, known := t.rows[row.NodeID]; known {
					t.rows[row.NodeID] = row
				}
			}
		}
	}
	return t
}

// Generation returns the current generation counter. Callers can use this
// for cheap "has anything changed" checks without taking the snapshot.
func (t *Table) Generation() uint64 {
	return t.generation.Load()
}

// Snapshot returns a copy of every row, safe to read without holding any
// lock. Never hold onto the map returned across a blocking I/O call — that
// defeats the point of copying it out.
func (t *Table) Snapshot() map[int]types.BackendStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[int]types.BackendStatus, len(t.rows))
	for id, row := range t.rows {
		out[id] = row
	}
	return out
}

// Get returns a single row by node id.
func (t *Table) Get(nodeID int) (types.BackendStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[nodeID]
	return row, ok
}

// Transition applies a new state to a single backend, leaving its role
// untouched. See TransitionRole.
func (t *Table) Transition(nodeID int, newState types.BackendState, reason string) error {
	return t.TransitionRole(nodeID, newState, "", reason)
}

// TransitionRole applies a new state and, when newRole is non-empty, a
// new role to a single backend: mutate memory, persist, bump the
// generation, release. State and role changes go only through here: the
// failover executor calls it via Transition and Promote, and the
// watchdog FSM calls it when applying a replicated command or restoring
// a snapshot. This type serializes callers only through mu.
//
// A persistence failure is returned wrapped in storage.ErrPersistDegraded
// and does not unwind the in-memory mutation: the status table's failure
// model treats durability and correctness as independent.
func (t *Table) TransitionRole(nodeID int, newState types.BackendState, newRole types.BackendRole, reason string) error {
	t.mu.Lock()
	row, ok := t.rows[nodeID]
	if !ok {
		row = types.BackendStatus{NodeID: nodeID}
	}
	oldState := row.State
	row.State = newState
	if newRole != "" {
		row.Role = newRole
	}
	row.LastChange = time.Now()
	row.LastReason = reason
	if newState != types.StateSuspected {
		row.RetryCount = 0
	}
	t.rows[nodeID] = row
	t.generation.Add(1)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if err := t.store.AppendStatusTransition(storage.StatusTransitionRecord{
		Timestamp: row.LastChange,
		NodeID:    nodeID,
		OldState:  oldState,
		NewState:  newState,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrPersistDegraded, err)
	}
	if err := t.store.SaveStatusSnapshot(toSlice(snapshot)); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrPersistDegraded, err)
	}
	return nil
}

// SeedRoles populates each row's role from the configured backends'
// static BackendNode.Role. It only sets a role that is still unset, so
// a role already restored from a persisted snapshot (e.g. after a
// promote survived a restart) is never overwritten with the original
// config-time role.
func (t *Table) SeedRoles(nodes []types.BackendNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nodes {
		row, ok := t.rows[n.ID]
		if !ok || row.Role != "" {
			continue
		}
		row.Role = n.Role
		t.rows[n.ID] = row
	}
}

// PrimaryNodeID returns the node ID of whichever backend's status row
// currently carries RolePrimary, which may differ from the statically
// configured primary once a promote has run.
func (t *Table) PrimaryNodeID() (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, row := range t.rows {
		if row.Role == types.RolePrimary {
			return id, true
		}
	}
	return 0, false
}

// Promote makes newPrimaryID the primary, demoting and taking down
// whichever other node currently holds RolePrimary first (spec §4.1:
// role standby -> primary on promote, old primary transitions to down
// first).
func (t *Table) Promote(newPrimaryID int, reason string) error {
	oldPrimaryID, hasOld := t.PrimaryNodeID()
	if hasOld && oldPrimaryID != newPrimaryID {
		if err := t.TransitionRole(oldPrimaryID, types.StateDown, types.RoleReplica, reason); err != nil {
			return fmt.Errorf("statustable: demote old primary %d: %w", oldPrimaryID, err)
		}
	}
	if err := t.TransitionRole(newPrimaryID, types.StateUp, types.RolePrimary, reason); err != nil {
		return fmt.Errorf("statustable: promote node %d: %w", newPrimaryID, err)
	}
	return nil
}

// SetQuarantined toggles the quarantine flag on a row without changing its
// state — used when the watchdog cluster lacks quorum and a suspected
// backend must be held back from being declared down (spec §4.6/§4.8).
func (t *Table) SetQuarantined(nodeID int, quarantined bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[nodeID]
	if !ok {
		return
	}
	row.Quarantined = quarantined
	t.rows[nodeID] = row
	t.generation.Add(1)
}

// IncrementRetry bumps the retry counter on a row in place and returns
// the new count. No code in this repository calls it.
func (t *Table) IncrementRetry(nodeID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.rows[nodeID]
	row.RetryCount++
	t.rows[nodeID] = row
	return row.RetryCount
}

func (t *Table) snapshotLocked() map[int]types.BackendStatus {
	out := make(map[int]types.BackendStatus, len(t.rows))
	for id, row := range t.rows {
		out[id] = row
	}
	return out
}

func toSlice(m map[int]types.BackendStatus) []types.BackendStatus {
	out := make([]types.BackendStatus, 0, len(m))
	for _, row := range m {
		out = append(out, row)
	}
	return out
}
