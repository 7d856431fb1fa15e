package watchdog

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is the single Raft log entry type this cluster replicates: a
// backend status transition. SPEC_FULL.md §4.8 calls for "broadcast the
// resulting status-table delta, followers apply it and ack" — raft log
// replication plus FSM.Apply gives that for free, because a committed
// entry has already been acked by a quorum of peers.
type Command struct {
	NodeID int                `json:"node_id"`
	State  types.BackendState `json:"state"`
	// Role, when non-empty, reassigns the backend's role as part of
	// this transition — set on a promote's two commands, left empty
	// for a plain state change.
	Role   types.BackendRole `json:"role,omitempty"`
	Reason string            `json:"reason"`
}

// FSM applies committed Commands to the local status table. It is
// installed on every watchdog peer, so once raft.Apply returns without
// error the transition has already landed in every reachable peer's
// table, not just the proposer's.
type FSM struct {
	table *statustable.Table
}

// NewFSM builds an FSM backed by table. table is shared with the local
// supervisor and failover executor so readers never see two copies of
// backend status.
func NewFSM(table *statustable.Table) *FSM {
	return &FSM{table: table}
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("watchdog: decode command: %w", err)
	}
	return f.table.TransitionRole(cmd.NodeID, cmd.State, cmd.Role, cmd.Reason)
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{rows: f.table.Snapshot()}, nil
}

// Restore implements raft.FSM. It replays every row of a snapshot taken
// on some other peer into the local table, including quarantine flags,
// which Command itself never carries.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var rows map[int]types.BackendStatus
	if err := json.NewDecoder(rc).Decode(&rows); err != nil {
		return fmt.Errorf("watchdog: decode snapshot: %w", err)
	}

	for nodeID, row := range rows {
		if err := f.table.TransitionRole(nodeID, row.State, row.Role, "restored from watchdog snapshot"); err != nil {
			return err
		}
		if row.Quarantined {
			f.table.SetQuarantined(nodeID, true)
		}
	}
	return nil
}

// fsmSnapshot is a point-in-time copy of every status row.
type fsmSnapshot struct {
	rows map[int]types.BackendStatus
}

// Persist implements raft.FSMSnapshot.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.rows); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release implements raft.FSMSnapshot.
func (s *fsmSnapshot) Release() {}
