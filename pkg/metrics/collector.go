package metrics

import (
	"strconv"
	"time"

	"github.com/cuemby/vanguard/pkg/health"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// Collector periodically samples the backend status table and health
// statistics registry into the process's Prometheus registry. Raft/
// watchdog state is sampled separately by watchdog.MetricsCollector.
type Collector struct {
	table  *statustable.Table
	stats  *health.StatsRegistry
	nodes  []types.BackendNode
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over table/stats. nodes
// provides each backend's static role for the backends_total labels.
func NewCollector(table *statustable.Table, stats *health.StatsRegistry, nodes []types.BackendNode) *Collector {
	return &Collector{
		table:  table,
		stats:  stats,
		nodes:  nodes,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectBackendMetrics()
	c.collectHealthMetrics()
}

func (c *Collector) collectBackendMetrics() {
	snapshot := c.table.Snapshot()
	StatusTableGeneration.Set(float64(c.table.Generation()))

	rolesByNode := make(map[int]types.BackendRole, len(c.nodes))
	for _, n := range c.nodes {
		rolesByNode[n.ID] = n.Role
	}

	counts := make(map[string]map[string]int)
	for nodeID, status := range snapshot {
		role := string(rolesByNode[nodeID])
		if counts[role] == nil {
			counts[role] = make(map[string]int)
		}
		counts[role][string(status.State)]++

		quarantined := 0.0
		if status.Quarantined {
			quarantined = 1
		}
		BackendQuarantined.WithLabelValues(nodeIDLabel(nodeID)).Set(quarantined)
	}

	for role, states := range counts {
		for state, count := range states {
			BackendsTotal.WithLabelValues(role, state).Set(float64(count))
		}
	}
}

func (c *Collector) collectHealthMetrics() {
	if c.stats == nil {
		return
	}
	for nodeID, rec := range c.stats.Snapshot() {
		label := nodeIDLabel(nodeID)
		HealthChecksTotal.WithLabelValues(label, "success").Set(float64(rec.SuccessCount))
		HealthChecksTotal.WithLabelValues(label, "fail").Set(float64(rec.FailCount))
	}
}

func nodeIDLabel(nodeID int) string {
	return strconv.Itoa(nodeID)
}
