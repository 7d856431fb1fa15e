package health

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

type flakyChecker struct {
	healthySeq []bool
	i          int
}

func (f *flakyChecker) Check(ctx context.Context) Result {
	healthy := false
	if f.i < len(f.healthySeq) {
		healthy = f.healthySeq[f.i]
	}
	f.i++
	return Result{Healthy: healthy, CheckedAt: time.Now(), Duration: time.Millisecond}
}

func (f *flakyChecker) Type() CheckType { return CheckTypeTCP }

type fakeRequester struct {
	submitted []types.PendingRequest
}

func (r *fakeRequester) Submit(req types.PendingRequest) {
	r.submitted = append(r.submitted, req)
}

type alwaysQuorum struct {
	has    bool
	leader bool
}

func (a alwaysQuorum) HasQuorum() bool { return a.has }
func (a alwaysQuorum) IsLeader() bool  { return a.leader }

func TestController_SuspectedAfterMaxRetriesPostsFailover(t *testing.T) {
	table := statustable.New([]int{1}, nil)
	table.Transition(1, types.StateUp, "initial")
	requester := &fakeRequester{}
	c := NewController(table, requester, alwaysQuorum{has: true, leader: true}, nil)

	checker := &flakyChecker{healthySeq: []bool{false, false, false}}
	c.AddBackend(types.BackendNode{ID: 1}, checker, time.Millisecond, time.Second, time.Millisecond, 3)

	c.probeOnce(context.Background(), c.schedules[0])

	if len(requester.submitted) != 1 {
		t.Fatalf("expected exactly one failover request after 3 failures, got %d", len(requester.submitted))
	}
	if requester.submitted[0].Kind != types.RequestFailover {
		t.Errorf("expected a failover request, got %s", requester.submitted[0].Kind)
	}
}

func TestController_NoQuorumQuarantinesInsteadOfFailover(t *testing.T) {
	table := statustable.New([]int{1}, nil)
	table.Transition(1, types.StateUp, "initial")
	requester := &fakeRequester{}
	c := NewController(table, requester, alwaysQuorum{has: false, leader: true}, nil)

	checker := &flakyChecker{healthySeq: []bool{false, false}}
	c.AddBackend(types.BackendNode{ID: 1}, checker, time.Millisecond, time.Second, time.Millisecond, 2)

	c.probeOnce(context.Background(), c.schedules[0])

	if len(requester.submitted) != 0 {
		t.Fatalf("expected no failover request while quorum is absent, got %d", len(requester.submitted))
	}
	status, _ := table.Get(1)
	if !status.Quarantined {
		t.Error("expected the backend to be quarantined instead")
	}
}

func TestController_FollowerQuarantinesEvenWithQuorum(t *testing.T) {
	table := statustable.New([]int{1}, nil)
	table.Transition(1, types.StateUp, "initial")
	requester := &fakeRequester{}
	c := NewController(table, requester, alwaysQuorum{has: true, leader: false}, nil)

	checker := &flakyChecker{healthySeq: []bool{false, false}}
	c.AddBackend(types.BackendNode{ID: 1}, checker, time.Millisecond, time.Second, time.Millisecond, 2)

	c.probeOnce(context.Background(), c.schedules[0])

	if len(requester.submitted) != 0 {
		t.Fatalf("expected a non-leader to quarantine rather than submit failover, got %d requests", len(requester.submitted))
	}
	status, _ := table.Get(1)
	if !status.Quarantined {
		t.Error("expected the backend to be quarantined since this node cannot run the failover pipeline")
	}
}

func TestController_RecoveryAfterSuspectedPostsFailback(t *testing.T) {
	table := statustable.New([]int{1}, nil)
	table.Transition(1, types.StateUp, "initial")
	requester := &fakeRequester{}
	c := NewController(table, requester, alwaysQuorum{has: true, leader: true}, nil)

	checker := &flakyChecker{healthySeq: []bool{false, false, true}}
	c.AddBackend(types.BackendNode{ID: 1}, checker, time.Millisecond, time.Second, time.Millisecond, 2)

	c.probeOnce(context.Background(), c.schedules[0]) // 2 failures, suspected, posts failover
	c.probeOnce(context.Background(), c.schedules[0]) // recovers, posts failback

	if len(requester.submitted) != 2 {
		t.Fatalf("expected a failover then a failback request, got %d", len(requester.submitted))
	}
	if requester.submitted[1].Kind != types.RequestFailback {
		t.Errorf("expected the second request to be a failback, got %s", requester.submitted[1].Kind)
	}
}

func TestController_RetriesAreSpacedByRetryDelay(t *testing.T) {
	table := statustable.New([]int{1}, nil)
	table.Transition(1, types.StateUp, "initial")
	requester := &fakeRequester{}
	c := NewController(table, requester, alwaysQuorum{has: true, leader: true}, nil)

	checker := &flakyChecker{healthySeq: []bool{false, false, true}}
	c.AddBackend(types.BackendNode{ID: 1}, checker, time.Hour, time.Second, 5*time.Millisecond, 3)

	start := time.Now()
	c.probeOnce(context.Background(), c.schedules[0])
	elapsed := time.Since(start)

	if len(requester.submitted) != 0 {
		t.Fatalf("expected the backend to recover within its retry budget, got %d requests", len(requester.submitted))
	}
	if elapsed < 2*5*time.Millisecond {
		t.Errorf("expected at least two retryDelay waits between the 3 attempts, elapsed %s", elapsed)
	}
}

func TestStatsRegistry_RecordsCountersAndDurations(t *testing.T) {
	stats := NewStatsRegistry()
	stats.register(1)
	stats.record(1, Result{Healthy: true, Duration: 10 * time.Millisecond, CheckedAt: time.Now()})
	stats.record(1, Result{Healthy: false, Duration: 20 * time.Millisecond, CheckedAt: time.Now()})

	rec, ok := stats.Get(1)
	if !ok {
		t.Fatal("expected a record for node 1")
	}
	if rec.TotalCount != 2 || rec.SuccessCount != 1 || rec.FailCount != 1 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
	if rec.MinDuration != 10*time.Millisecond || rec.MaxDuration != 20*time.Millisecond {
		t.Fatalf("unexpected duration envelope: %+v", rec)
	}
}
