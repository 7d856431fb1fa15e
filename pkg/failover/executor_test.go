package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

type fakeCoordinator struct {
	err      error
	released bool
}

func (c *fakeCoordinator) AcquireInterlock(ctx context.Context) (func(), error) {
	if c.err != nil {
		return nil, c.err
	}
	return func() { c.released = true }, nil
}

type fakeNotifier struct {
	invalidated []string
}

func (n *fakeNotifier) InvalidateAll(reason string) {
	n.invalidated = append(n.invalidated, reason)
}

func newTestExecutor(t *testing.T, coord Coordinator, notifier WorkerNotifier) (*Executor, *statustable.Table) {
	t.Helper()
	table := statustable.New([]int{1, 2}, nil)
	table.Transition(1, types.StateUp, "primary up")
	table.Transition(2, types.StateUp, "replica up")

	exec := New(Config{
		Table:       table,
		Coordinator: coord,
		Notifier:    notifier,
	})
	return exec, table
}

func TestExecutor_FailoverTransitionsToDown(t *testing.T) {
	coord := &fakeCoordinator{}
	notifier := &fakeNotifier{}
	exec, table := newTestExecutor(t, coord, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := NewRequest(types.RequestFailover, 1, "health_fail")
	req.ResultCh = make(chan error, 1)
	exec.Submit(req)

	go exec.Run(ctx)

	select {
	case err := <-req.ResultCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failover result")
	}

	status, _ := table.Get(1)
	if status.State != types.StateDown {
		t.Fatalf("expected node 1 to be down, got %s", status.State)
	}
	if !coord.released {
		t.Error("expected the interlock to have been released")
	}
	if len(notifier.invalidated) != 1 {
		t.Errorf("expected workers to be notified exactly once, got %d", len(notifier.invalidated))
	}
}

func TestExecutor_RevalidationRejectsAlreadyDown(t *testing.T) {
	coord := &fakeCoordinator{}
	notifier := &fakeNotifier{}
	exec, table := newTestExecutor(t, coord, notifier)
	table.Transition(1, types.StateDown, "already down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := NewRequest(types.RequestFailover, 1, "health_fail")
	req.ResultCh = make(chan error, 1)
	exec.Submit(req)

	go exec.Run(ctx)

	select {
	case err := <-req.ResultCh:
		if err == nil {
			t.Fatal("expected revalidation to reject a request against an already-down node")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failover result")
	}
	if !coord.released {
		t.Error("expected the interlock to be released even when revalidation fails")
	}
}

func TestExecutor_InterlockHeldFailsCleanly(t *testing.T) {
	coord := &fakeCoordinator{err: ErrInterlockHeld}
	notifier := &fakeNotifier{}
	exec, _ := newTestExecutor(t, coord, notifier)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := NewRequest(types.RequestFailover, 1, "health_fail")
	req.ResultCh = make(chan error, 1)
	exec.Submit(req)

	go exec.Run(ctx)

	select {
	case err := <-req.ResultCh:
		if !errors.Is(err, ErrInterlockHeld) {
			t.Fatalf("expected ErrInterlockHeld, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failover result")
	}
	if len(notifier.invalidated) != 0 {
		t.Error("expected no worker notification when the interlock could not be acquired")
	}
}

func TestExecutor_PromoteDemotesOldPrimaryThenPromotesTarget(t *testing.T) {
	coord := &fakeCoordinator{}
	notifier := &fakeNotifier{}
	table := statustable.New([]int{1, 2}, nil)
	table.TransitionRole(1, types.StateUp, types.RolePrimary, "seed")
	table.TransitionRole(2, types.StateUp, types.RoleReplica, "seed")

	var scriptCalls [][]string
	exec := New(Config{
		Table:       table,
		Coordinator: coord,
		Notifier:    notifier,
		RunScript: func(ctx context.Context, script string, args ...string) error {
			scriptCalls = append(scriptCalls, append([]string{script}, args...))
			return nil
		},
		FailoverScript:      "/bin/failover",
		FollowPrimaryScript: "/bin/follow_primary",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req := NewRequest(types.RequestPromote, 2, "admin_promote")
	req.ResultCh = make(chan error, 1)
	exec.Submit(req)

	go exec.Run(ctx)

	select {
	case err := <-req.ResultCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for promote result")
	}

	oldPrimary, _ := table.Get(1)
	if oldPrimary.State != types.StateDown || oldPrimary.Role != types.RoleReplica {
		t.Fatalf("expected old primary demoted and down, got %+v", oldPrimary)
	}
	newPrimary, _ := table.Get(2)
	if newPrimary.State != types.StateUp || newPrimary.Role != types.RolePrimary {
		t.Fatalf("expected node 2 up and primary, got %+v", newPrimary)
	}

	if len(scriptCalls) != 2 {
		t.Fatalf("expected failover_command plus one follow_primary_command call, got %d: %v", len(scriptCalls), scriptCalls)
	}
	if scriptCalls[0][0] != "/bin/failover" {
		t.Errorf("expected failover_command to run first, got %v", scriptCalls[0])
	}
	if scriptCalls[1][0] != "/bin/follow_primary" || scriptCalls[1][1] != "1" {
		t.Errorf("expected follow_primary_command against the surviving replica (node 1), got %v", scriptCalls[1])
	}
}
