// Package watchdog implements the cluster coordinator from SPEC_FULL.md
// §4.8: peer membership, the leader-election/heartbeat substrate the
// failover executor's cluster-wide interlock depends on, and the
// backend-status-table replication that keeps every peer's view of
// "which node is down" consistent.
//
// It is built directly on github.com/hashicorp/raft plus
// github.com/hashicorp/raft-boltdb, generalizing the teacher's manager
// bootstrap/join/FSM machinery from cluster-object (node/service/task)
// replication to a single status-transition Command applied to
// pkg/statustable.Table.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrInterlockHeld is returned by AcquireInterlock when this node is
// not the raft leader. It is a distinct value from failover.ErrInterlockHeld
// so this package never has to import pkg/failover (which already
// depends on pkg/statustable) and risk a dependency cycle. The failover
// executor returns whichever error AcquireInterlock gave it without
// comparing it against either value.
var ErrInterlockHeld = fmt.Errorf("watchdog: cluster_in_transaction")

// Config configures a Coordinator.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Priority is the configured wd_priority: a higher value biases
	// this node's randomized election timeout to be shorter, making it
	// more likely to call an election first when the leader is lost.
	Priority int
	Table    *statustable.Table
}

// Coordinator is one watchdog peer: a raft node holding the failover
// interlock when it is leader, and replicating status transitions to
// every other peer's table.
type Coordinator struct {
	cfg  Config
	fsm  *FSM
	raft *raft.Raft

	interlockMu sync.Mutex
}

// New builds a Coordinator bound to cfg. Call Bootstrap or Join to
// actually start raft.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, fsm: NewFSM(cfg.Table)}
}

func (c *Coordinator) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(c.cfg.NodeID)

	// Same tuning the teacher's manager.Bootstrap used for sub-10s
	// failover: a 500ms heartbeat timeout and a 250ms leader lease, well
	// under raft's WAN-oriented 1s defaults. The election timeout comes
	// from electionTimeout; raft rejects an election timeout below the
	// heartbeat timeout and a leader lease above it, so a shorter
	// election timeout lowers both to match.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	cfg.ElectionTimeout = electionTimeout(c.cfg.Priority)
	if cfg.HeartbeatTimeout > cfg.ElectionTimeout {
		cfg.HeartbeatTimeout = cfg.ElectionTimeout
	}
	if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
		cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout
	}
	return cfg
}

// electionTimeout approximates priority-based leader election atop
// raft's randomized election timeout (see SPEC_FULL.md §4.8 and Open
// Questions §9): raft itself only knows "wait a random interval, then
// stand for election if no heartbeat arrived", so a higher-priority
// node is given a shorter window, making it more likely — not
// guaranteed — to time out and call an election before its peers.
func electionTimeout(priority int) time.Duration {
	if priority <= 0 {
		priority = 1
	}
	if priority > 20 {
		priority = 20
	}
	const base = 500 * time.Millisecond
	reduction := time.Duration(priority*15) * time.Millisecond
	jitter := time.Duration(rand.Intn(80)) * time.Millisecond
	timeout := base - reduction + jitter
	if timeout < 150*time.Millisecond {
		timeout = 150 * time.Millisecond
	}
	return timeout
}

func (c *Coordinator) setup() (*raft.TCPTransport, error) {
	if err := os.MkdirAll(c.cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("watchdog: create data dir: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", c.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(c.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("watchdog: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("watchdog: create stable store: %w", err)
	}

	r, err := raft.NewRaft(c.raftConfig(), c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("watchdog: create raft: %w", err)
	}
	c.raft = r
	return transport, nil
}

// Bootstrap starts a brand-new single-node cluster with this node as
// its only voter. Call this on exactly one node when standing up a
// fresh deployment.
func (c *Coordinator) Bootstrap() error {
	transport, err := c.setup()
	if err != nil {
		return err
	}
	future := c.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.cfg.NodeID), Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("watchdog: bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts raft on this node without bootstrapping a configuration.
// The node only becomes a functioning member once an existing leader
// calls AddVoter for it. No code in this repository calls AddVoter: the
// admin API has no peer-join route.
func (c *Coordinator) Join() error {
	_, err := c.setup()
	return err
}

// AddVoter adds peerID/peerAddr as a new voting member. Must be called
// on the current leader; raft rejects it otherwise.
func (c *Coordinator) AddVoter(peerID, peerAddr string) error {
	if c.raft == nil {
		return fmt.Errorf("watchdog: raft not initialized")
	}
	future := c.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(peerAddr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("watchdog: add voter %s: %w", peerID, err)
	}
	return nil
}

// RemoveServer removes peerID from the voting set.
func (c *Coordinator) RemoveServer(peerID string) error {
	if c.raft == nil {
		return fmt.Errorf("watchdog: raft not initialized")
	}
	future := c.raft.RemoveServer(raft.ServerID(peerID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("watchdog: remove server %s: %w", peerID, err)
	}
	return nil
}

// Servers returns the current raft configuration's member list.
func (c *Coordinator) Servers() ([]raft.Server, error) {
	if c.raft == nil {
		return nil, fmt.Errorf("watchdog: raft not initialized")
	}
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds raft leadership —
// the enforcement point for "only the leader may transition backends
// to down" (SPEC_FULL.md §4.8).
func (c *Coordinator) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, or "" if none
// is known.
func (c *Coordinator) LeaderAddr() string {
	if c.raft == nil {
		return ""
	}
	return string(c.raft.Leader())
}

// HasQuorum implements health.QuorumChecker. hashicorp/raft does not
// expose commit capability directly, so this reads "a leader is
// currently elected" as the proxy for quorum: without a quorum of
// voters reachable, no leader can be elected or retained in the first
// place.
func (c *Coordinator) HasQuorum() bool {
	return c.raft != nil && c.raft.Leader() != ""
}

// AcquireInterlock implements failover.Coordinator. Only the leader may
// run a failover pipeline: a follower fails fast instead of blocking,
// and never gets a chance to apply a transition locally. This is also
// why health.Controller quarantines a locally-detected failure whenever
// the local node is not the leader, rather than waiting on this to
// succeed — see QuorumChecker.IsLeader.
func (c *Coordinator) AcquireInterlock(ctx context.Context) (func(), error) {
	if !c.IsLeader() {
		return nil, ErrInterlockHeld
	}
	c.interlockMu.Lock()
	return func() { c.interlockMu.Unlock() }, nil
}

// Propose replicates a backend status transition through raft so
// every peer's status table converges once the entry commits. The
// failover executor calls this (via the Replicator interface) instead
// of mutating its local table directly whenever clustering is enabled.
// role may be empty to leave the backend's current role untouched.
func (c *Coordinator) Propose(nodeID int, state types.BackendState, role types.BackendRole, reason string) error {
	if c.raft == nil {
		return fmt.Errorf("watchdog: raft not initialized")
	}
	data, err := json.Marshal(Command{NodeID: nodeID, State: state, Role: role, Reason: reason})
	if err != nil {
		return err
	}
	future := c.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("watchdog: propose transition: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return fmt.Errorf("watchdog: apply transition: %w", err)
	}
	return nil
}

// Promote replicates the two ordered transitions a primary move
// requires: the current primary, if any other than newPrimaryID, down
// and demoted first, then newPrimaryID up and promoted. Each step is
// its own raft log entry, mirroring how statustable.Table.Promote
// sequences the same two calls locally.
func (c *Coordinator) Promote(newPrimaryID int, reason string) error {
	oldPrimaryID, hasOld := c.cfg.Table.PrimaryNodeID()
	if hasOld && oldPrimaryID != newPrimaryID {
		if err := c.Propose(oldPrimaryID, types.StateDown, types.RoleReplica, reason); err != nil {
			return fmt.Errorf("watchdog: demote old primary %d: %w", oldPrimaryID, err)
		}
	}
	return c.Propose(newPrimaryID, types.StateUp, types.RolePrimary, reason)
}

// Stats returns raw raft counters for metrics collection.
func (c *Coordinator) Stats() (lastIndex, appliedIndex uint64) {
	if c.raft == nil {
		return 0, 0
	}
	return c.raft.LastIndex(), c.raft.AppliedIndex()
}

// Shutdown stops the local raft node.
func (c *Coordinator) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}
