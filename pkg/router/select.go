package router

import (
	"fmt"
	"math/rand"

	"github.com/cuemby/vanguard/pkg/types"
)

// ReplicaCandidate is one selectable replica: its node id, configured
// weight, and current measured replication lag.
type ReplicaCandidate struct {
	NodeID int
	Weight int
	LagOK  bool // true if measured lag is within the configured threshold
}

// SelectReplica implements spec §4.5's weighted-random replica selection
// among up-and-not-quarantined replicas whose lag is within threshold.
// Weights are normalized internally; callers need only pass the
// configured per-backend weight. rnd is injected for deterministic tests.
func SelectReplica(candidates []ReplicaCandidate, rnd *rand.Rand) (int, error) {
	eligible := make([]ReplicaCandidate, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		if !c.LagOK || c.Weight <= 0 {
			continue
		}
		eligible = append(eligible, c)
		total += c.Weight
	}
	if len(eligible) == 0 {
		return 0, fmt.Errorf("router: no eligible replica within lag threshold")
	}

	pick := rnd.Intn(total)
	for _, c := range eligible {
		if pick < c.Weight {
			return c.NodeID, nil
		}
		pick -= c.Weight
	}
	// Unreachable in practice; return the last eligible candidate as a
	// conservative fallback rather than panicking on a rounding edge.
	return eligible[len(eligible)-1].NodeID, nil
}

// ResolveLoadBalanceNode implements the sticky-unless-statement-level-lb
// selection rule: reuse the session's previously selected replica unless
// statement-level balancing is enabled, in which case reselect every time.
func ResolveLoadBalanceNode(session *types.SessionState, candidates []ReplicaCandidate, statementLevelLB bool, rnd *rand.Rand) (int, error) {
	if !statementLevelLB && session.LoadBalanceNode != 0 {
		for _, c := range candidates {
			if c.NodeID == session.LoadBalanceNode && c.LagOK {
				return session.LoadBalanceNode, nil
			}
		}
		// Previously-sticky node is no longer eligible; fall through to reselect.
	}

	node, err := SelectReplica(candidates, rnd)
	if err != nil {
		return 0, err
	}
	session.LoadBalanceNode = node
	return node, nil
}
