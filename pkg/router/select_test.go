package router

import (
	"math/rand"
	"testing"

	"github.com/cuemby/vanguard/pkg/types"
)

func TestSelectReplica_SkipsIneligibleCandidates(t *testing.T) {
	candidates := []ReplicaCandidate{
		{NodeID: 1, Weight: 1, LagOK: false},
		{NodeID: 2, Weight: 1, LagOK: true},
	}
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got, err := SelectReplica(candidates, rnd)
		if err != nil {
			t.Fatalf("SelectReplica: %v", err)
		}
		if got != 2 {
			t.Fatalf("expected only node 2 to ever be selected, got %d", got)
		}
	}
}

func TestSelectReplica_ErrorsWhenNoneEligible(t *testing.T) {
	candidates := []ReplicaCandidate{{NodeID: 1, Weight: 1, LagOK: false}}
	rnd := rand.New(rand.NewSource(1))
	if _, err := SelectReplica(candidates, rnd); err == nil {
		t.Fatal("expected an error when no candidate is eligible")
	}
}

func TestSelectReplica_RespectsWeighting(t *testing.T) {
	candidates := []ReplicaCandidate{
		{NodeID: 1, Weight: 9, LagOK: true},
		{NodeID: 2, Weight: 1, LagOK: true},
	}
	rnd := rand.New(rand.NewSource(42))
	counts := map[int]int{}
	for i := 0; i < 1000; i++ {
		got, err := SelectReplica(candidates, rnd)
		if err != nil {
			t.Fatalf("SelectReplica: %v", err)
		}
		counts[got]++
	}
	if counts[1] <= counts[2] {
		t.Errorf("expected node 1 (weight 9) to be picked far more than node 2 (weight 1), got %v", counts)
	}
}

func TestResolveLoadBalanceNode_StickyWithoutStatementLB(t *testing.T) {
	session := &types.SessionState{}
	candidates := []ReplicaCandidate{
		{NodeID: 1, Weight: 1, LagOK: true},
		{NodeID: 2, Weight: 1, LagOK: true},
	}
	rnd := rand.New(rand.NewSource(7))

	first, err := ResolveLoadBalanceNode(session, candidates, false, rnd)
	if err != nil {
		t.Fatalf("ResolveLoadBalanceNode: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := ResolveLoadBalanceNode(session, candidates, false, rnd)
		if err != nil {
			t.Fatalf("ResolveLoadBalanceNode: %v", err)
		}
		if got != first {
			t.Fatalf("expected sticky selection to stay on node %d, got %d", first, got)
		}
	}
}

func TestResolveLoadBalanceNode_RefreshesWhenStatementLevelLBOn(t *testing.T) {
	session := &types.SessionState{LoadBalanceNode: 1}
	candidates := []ReplicaCandidate{
		{NodeID: 1, Weight: 0, LagOK: true},
		{NodeID: 2, Weight: 1, LagOK: true},
	}
	rnd := rand.New(rand.NewSource(3))

	got, err := ResolveLoadBalanceNode(session, candidates, true, rnd)
	if err != nil {
		t.Fatalf("ResolveLoadBalanceNode: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected reselection to land on the only positively-weighted node 2, got %d", got)
	}
}
