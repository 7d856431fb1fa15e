package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/vanguard/pkg/events"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// observedState is the per-backend state machine from spec §4.6:
// healthy -> retrying(k) -> suspected, symmetric back to healthy on
// success.
type observedState int

const (
	stateHealthy observedState = iota
	stateRetrying
	stateSuspected
)

// Requester is the narrow slice of pkg/failover.Executor the controller
// needs: posting a request when a backend crosses into suspected/healthy.
type Requester interface {
	Submit(req types.PendingRequest)
}

// QuorumChecker reports whether the watchdog cluster currently holds
// quorum, spec §4.6's "while the peer cluster lacks quorum, keep
// suspected backends quarantined" rule, and whether the local node is
// the raft leader. A follower quarantines a locally-detected failure
// unconditionally (spec §4.8: only the leader executes failover, a
// follower escalates) rather than running the failover pipeline
// itself, even while the cluster as a whole holds quorum.
type QuorumChecker interface {
	HasQuorum() bool
	IsLeader() bool
}

// nodeSchedule is one backend's probe configuration and running state.
type nodeSchedule struct {
	node       types.BackendNode
	checker    Checker
	period     time.Duration
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration

	mu      sync.Mutex
	state   observedState
	retries int
}

// Controller is the dedicated per-instance health worker from spec §4.6:
// one schedule per configured backend, each probed on its own ticker.
type Controller struct {
	schedules []*nodeSchedule
	table     *statustable.Table
	requester Requester
	quorum    QuorumChecker
	stats     *StatsRegistry
	events    *events.Broker
}

// NewController builds a Controller. stats may be nil, in which case a
// fresh StatsRegistry is created.
func NewController(table *statustable.Table, requester Requester, quorum QuorumChecker, stats *StatsRegistry) *Controller {
	if stats == nil {
		stats = NewStatsRegistry()
	}
	return &Controller{table: table, requester: requester, quorum: quorum, stats: stats}
}

// WithEvents attaches an event broker the controller publishes
// backend.suspected/backend.quarantined/backend.up notifications to.
// Optional; a nil broker (the zero value) disables publishing.
func (c *Controller) WithEvents(broker *events.Broker) *Controller {
	c.events = broker
	return c
}

func (c *Controller) publish(typ events.EventType, nodeID int, message string) {
	if c.events == nil {
		return
	}
	c.events.Publish(&events.Event{
		Type:     typ,
		Message:  message,
		Metadata: map[string]string{"node_id": fmt.Sprint(nodeID)},
	})
}

// Stats returns the controller's statistics registry.
func (c *Controller) Stats() *StatsRegistry {
	return c.stats
}

// AddBackend registers a schedule for one backend node.
func (c *Controller) AddBackend(node types.BackendNode, checker Checker, period, timeout, retryDelay time.Duration, maxRetries int) {
	c.schedules = append(c.schedules, &nodeSchedule{
		node:       node,
		checker:    checker,
		period:     period,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		state:      stateHealthy,
	})
	c.stats.register(node.ID)
}

// Run starts one ticking goroutine per backend schedule and blocks until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sched := range c.schedules {
		wg.Add(1)
		go func(s *nodeSchedule) {
			defer wg.Done()
			c.runSchedule(ctx, s)
		}(sched)
	}
	wg.Wait()
}

func (c *Controller) runSchedule(ctx context.Context, s *nodeSchedule) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx, s)
		}
	}
}

// probeOnce runs one probe, and on failure up to maxRetries-1 further
// attempts spaced retryDelay apart (so maxRetries total attempts before
// the backend is declared suspected), then advances the schedule's
// observed state machine.
func (c *Controller) probeOnce(ctx context.Context, s *nodeSchedule) {
	result := c.runProbe(ctx, s)

	attempt := 1
	for !result.Healthy && attempt < s.maxRetries {
		s.mu.Lock()
		s.state = stateRetrying
		s.retries = attempt
		s.mu.Unlock()

		if s.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		}

		result = c.runProbe(ctx, s)
		attempt++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if result.Healthy {
		wasSuspected := s.state == stateSuspected
		s.state = stateHealthy
		s.retries = 0
		if wasSuspected {
			c.publish(events.EventBackendUp, s.node.ID, "backend recovered")
			if c.requester != nil {
				c.requester.Submit(failbackRequest(s.node.ID))
			}
		}
		return
	}

	s.state = stateSuspected
	c.publish(events.EventBackendSuspected, s.node.ID, result.Message)
	if c.quorum != nil && (!c.quorum.HasQuorum() || !c.quorum.IsLeader()) {
		c.table.SetQuarantined(s.node.ID, true)
		c.publish(events.EventBackendQuarantined, s.node.ID, "quorum lost or not leader")
		return
	}
	c.publish(events.EventBackendDown, s.node.ID, result.Message)
	if c.requester != nil {
		c.requester.Submit(failoverRequest(s.node.ID, result.Message))
	}
}

// runProbe executes a single check attempt against the backend and
// records it in the stats registry.
func (c *Controller) runProbe(ctx context.Context, s *nodeSchedule) Result {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.checker.Check(probeCtx)
	c.stats.record(s.node.ID, result)
	return result
}

func failoverRequest(nodeID int, reason string) types.PendingRequest {
	return types.PendingRequest{
		ID:        "health-failover",
		Kind:      types.RequestFailover,
		NodeID:    nodeID,
		Reason:    "health_fail: " + reason,
		Submitted: time.Now(),
	}
}

func failbackRequest(nodeID int) types.PendingRequest {
	return types.PendingRequest{
		ID:        "health-failback",
		Kind:      types.RequestFailback,
		NodeID:    nodeID,
		Reason:    "health check recovered",
		Submitted: time.Now(),
	}
}
