// Package failover implements the failover executor from spec §4.7: a
// single goroutine draining a buffered queue of pending requests, each
// handled through the five-step interlock/revalidate/apply/script/sync
// pipeline.
package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/vanguard/pkg/events"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// ErrInterlockHeld is returned when another cluster node holds the
// failover interlock, matching spec §4.7's cluster_in_transaction case.
var ErrInterlockHeld = fmt.Errorf("failover: cluster_in_transaction")

// Coordinator is the subset of the watchdog cluster coordinator the
// executor needs: acquiring and releasing the cluster-wide interlock
// before mutating the status table (spec §4.8). Defined here rather than
// imported from pkg/watchdog to avoid a dependency cycle — pkg/watchdog
// depends on pkg/statustable, not the other way around.
type Coordinator interface {
	// AcquireInterlock acquires the cluster-wide failover interlock, or
	// returns an error if the local node cannot take it. pkg/watchdog's
	// implementation does not block or forward to the leader: on a
	// follower it returns watchdog.ErrInterlockHeld at once. On success it
	// returns a release func that must be called exactly once.
	AcquireInterlock(ctx context.Context) (release func(), err error)
}

// WorkerNotifier broadcasts a backend-state-sync request to every running
// session worker, spec §4.7 step 5.
type WorkerNotifier interface {
	InvalidateAll(reason string)
}

// Replicator proposes a backend status transition for cluster-wide
// replication (SPEC_FULL.md §4.8's watchdog FSM) instead of writing it
// to the local table directly. Optional: when nil, the executor falls
// back to Table.Transition/Table.Promote, which is correct for a
// single, unclustered node.
type Replicator interface {
	Propose(nodeID int, state types.BackendState, role types.BackendRole, reason string) error
	// Promote replicates the two ordered transitions a primary move
	// requires: the old primary down and demoted, then newPrimaryID up
	// and promoted.
	Promote(newPrimaryID int, reason string) error
}

// ScriptRunner executes an external failover/recovery script and reports
// its exit status, spec §4.7 step 4 / §6.2's script paths.
type ScriptRunner func(ctx context.Context, scriptPath string, args ...string) error

// Executor is the single-writer consumer of the pending-request queue.
type Executor struct {
	queue       chan types.PendingRequest
	table       *statustable.Table
	coordinator Coordinator
	replicator  Replicator
	notifier    WorkerNotifier
	runScript   ScriptRunner
	events      *events.Broker

	failoverScript      string
	failbackScript      string
	recoveryScript      string
	recovery2Script     string
	followPrimaryScript string
}

// Config bundles Executor's external dependencies and script paths.
type Config struct {
	QueueSize      int
	Table          *statustable.Table
	Coordinator    Coordinator
	Replicator     Replicator
	Notifier       WorkerNotifier
	RunScript      ScriptRunner
	FailoverScript string
	FailbackScript string
	// RecoveryScript and Recovery2Script are recovery_1st_stage_command and
	// recovery_2nd_stage_command (SPEC_FULL.md §4.7's online-recovery
	// supplement): the 1st stage does the bulk base-backup-style copy
	// while the node is still serving, the 2nd stage runs a final short
	// catch-up with writes briefly held off. Both run for a
	// RequestRecovery; 2nd only runs if the 1st succeeds.
	RecoveryScript  string
	Recovery2Script string
	// FollowPrimaryScript is follow_primary_command: run once per
	// surviving replica after a promote so each standby repoints its
	// recovery stream at the new primary (SPEC_FULL.md §4.1/§6.2).
	FollowPrimaryScript string
	// Events, when set, receives failover.started/completed/failed
	// notifications around each pipeline run. Optional.
	Events *events.Broker
}

// New builds an Executor. QueueSize defaults to 16 if unset.
func New(cfg Config) *Executor {
	size := cfg.QueueSize
	if size <= 0 {
		size = 16
	}
	return &Executor{
		queue:               make(chan types.PendingRequest, size),
		table:               cfg.Table,
		coordinator:         cfg.Coordinator,
		replicator:          cfg.Replicator,
		notifier:            cfg.Notifier,
		runScript:           cfg.RunScript,
		events:              cfg.Events,
		failoverScript:      cfg.FailoverScript,
		failbackScript:      cfg.FailbackScript,
		recoveryScript:      cfg.RecoveryScript,
		recovery2Script:     cfg.Recovery2Script,
		followPrimaryScript: cfg.FollowPrimaryScript,
	}
}

// Submit enqueues a request. It does not block on the interlock — only
// on the queue itself being full, which applies natural backpressure.
// Ordering note: requests are applied FIFO *after* they clear the
// interlock, so Submit order is not a commitment about completion order
// (spec §4.7).
func (e *Executor) Submit(req types.PendingRequest) {
	e.queue <- req
}

// Run drains the queue until ctx is cancelled. It is meant to be the
// only goroutine that ever calls statustable.Table.Transition.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			if err := e.handle(ctx, req); req.ResultCh != nil {
				select {
				case req.ResultCh <- err:
				default:
				}
			}
		}
	}
}

func (e *Executor) handle(ctx context.Context, req types.PendingRequest) error {
	var release func()

	e.publish(events.EventFailoverStarted, req, "")

	pipeline := Pipeline(
		Step("acquire_interlock", func(ctx context.Context) error {
			r, err := e.coordinator.AcquireInterlock(ctx)
			if err != nil {
				return err
			}
			release = r
			return nil
		}).Defer(func(ctx context.Context) error {
			if release != nil {
				release()
				release = nil
			}
			return nil
		}),

		Step("revalidate", func(ctx context.Context) error {
			return e.revalidate(req)
		}),

		Step("apply_transition", func(ctx context.Context) error {
			return e.applyTransition(req)
		}),

		Step("run_script", func(ctx context.Context) error {
			return e.runConfiguredScript(ctx, req)
		}),

		Step("sync_workers", func(ctx context.Context) error {
			if e.notifier != nil {
				e.notifier.InvalidateAll(fmt.Sprintf("%s node=%d", req.Kind, req.NodeID))
			}
			return nil
		}),
	)

	err := pipeline(ctx)
	if release != nil {
		release()
	}
	if err != nil {
		e.publish(events.EventFailoverFailed, req, err.Error())
	} else {
		e.publish(events.EventFailoverCompleted, req, "")
	}
	return err
}

func (e *Executor) publish(typ events.EventType, req types.PendingRequest, detail string) {
	if e.events == nil {
		return
	}
	msg := fmt.Sprintf("%s node=%d reason=%q", req.Kind, req.NodeID, req.Reason)
	if detail != "" {
		msg = fmt.Sprintf("%s error=%q", msg, detail)
	}
	e.events.Publish(&events.Event{
		Type:    typ,
		Message: msg,
		Metadata: map[string]string{
			"node_id": fmt.Sprint(req.NodeID),
			"kind":    string(req.Kind),
		},
	})
}

// revalidate implements spec §4.7 step 2: re-check the request against
// current status, e.g. refusing to promote an already-primary backend.
func (e *Executor) revalidate(req types.PendingRequest) error {
	status, ok := e.table.Get(req.NodeID)
	if !ok {
		return fmt.Errorf("failover: unknown node %d", req.NodeID)
	}
	switch req.Kind {
	case types.RequestFailover, types.RequestDegenerate:
		if status.State == types.StateDown {
			return fmt.Errorf("failover: node %d already down", req.NodeID)
		}
	case types.RequestFailback, types.RequestRecovery:
		if status.State == types.StateUp && !status.Quarantined {
			return fmt.Errorf("failover: node %d already up", req.NodeID)
		}
	case types.RequestPromote:
		if status.Role == types.RolePrimary {
			return fmt.Errorf("failover: node %d is already primary", req.NodeID)
		}
	}
	return nil
}

func (e *Executor) applyTransition(req types.PendingRequest) error {
	if req.Kind == types.RequestPromote {
		if e.replicator != nil {
			return e.replicator.Promote(req.NodeID, req.Reason)
		}
		return e.table.Promote(req.NodeID, req.Reason)
	}

	var newState types.BackendState
	switch req.Kind {
	case types.RequestFailover, types.RequestDegenerate:
		newState = types.StateDown
	case types.RequestFailback, types.RequestRecovery:
		newState = types.StateUp
	default:
		return fmt.Errorf("failover: unknown request kind %q", req.Kind)
	}
	if e.replicator != nil {
		return e.replicator.Propose(req.NodeID, newState, "", req.Reason)
	}
	return e.table.Transition(req.NodeID, newState, req.Reason)
}

func (e *Executor) runConfiguredScript(ctx context.Context, req types.PendingRequest) error {
	if e.runScript == nil {
		return nil
	}
	if req.Kind == types.RequestRecovery {
		return e.runRecoveryScripts(ctx, req)
	}
	if req.Kind == types.RequestPromote {
		return e.runFollowPrimaryScript(ctx, req)
	}
	var script string
	switch req.Kind {
	case types.RequestFailover, types.RequestDegenerate:
		script = e.failoverScript
	case types.RequestFailback:
		script = e.failbackScript
	}
	if script == "" {
		return nil
	}
	return e.runScript(ctx, script, fmt.Sprint(req.NodeID), string(req.Kind))
}

// runFollowPrimaryScript runs failover_command against the new primary
// (unwinding the failover/promote distinction for operators with a
// single failover script), then follow_primary_command once per
// surviving replica so each standby repoints its recovery stream at
// the new primary (SPEC_FULL.md §4.1/§6.2).
func (e *Executor) runFollowPrimaryScript(ctx context.Context, req types.PendingRequest) error {
	if e.failoverScript != "" {
		if err := e.runScript(ctx, e.failoverScript, fmt.Sprint(req.NodeID), string(req.Kind)); err != nil {
			return fmt.Errorf("failover_command: %w", err)
		}
	}
	if e.followPrimaryScript == "" {
		return nil
	}
	for nodeID, status := range e.table.Snapshot() {
		if nodeID == req.NodeID || status.Role != types.RoleReplica {
			continue
		}
		if err := e.runScript(ctx, e.followPrimaryScript, fmt.Sprint(nodeID), fmt.Sprint(req.NodeID)); err != nil {
			return fmt.Errorf("follow_primary_command node=%d: %w", nodeID, err)
		}
	}
	return nil
}

// runRecoveryScripts runs recovery_1st_stage_command then, only if that
// succeeds, recovery_2nd_stage_command. Either may be unset, in which
// case that stage is skipped.
func (e *Executor) runRecoveryScripts(ctx context.Context, req types.PendingRequest) error {
	if e.recoveryScript != "" {
		if err := e.runScript(ctx, e.recoveryScript, fmt.Sprint(req.NodeID), "recovery_1st_stage"); err != nil {
			return fmt.Errorf("recovery_1st_stage: %w", err)
		}
	}
	if e.recovery2Script != "" {
		if err := e.runScript(ctx, e.recovery2Script, fmt.Sprint(req.NodeID), "recovery_2nd_stage"); err != nil {
			return fmt.Errorf("recovery_2nd_stage: %w", err)
		}
	}
	return nil
}

// NewRequest is a small convenience constructor used by pkg/health and
// pkg/api when they enqueue a request.
func NewRequest(kind types.PendingRequestKind, nodeID int, reason string) types.PendingRequest {
	return types.PendingRequest{
		ID:        fmt.Sprintf("%s-%d-%d", kind, nodeID, time.Now().UnixNano()),
		Kind:      kind,
		NodeID:    nodeID,
		Reason:    reason,
		Submitted: time.Now(),
	}
}
