package watchdog

import (
	"time"

	"github.com/cuemby/vanguard/pkg/events"
	"github.com/cuemby/vanguard/pkg/metrics"
)

// MetricsCollector periodically samples Coordinator's raft state into
// the process's Prometheus registry, and publishes watchdog.* events on
// leadership/quorum transitions.
type MetricsCollector struct {
	coordinator *Coordinator
	events      *events.Broker
	stopCh      chan struct{}

	wasLeader  bool
	hadQuorum  bool
	firstTick  bool
}

// NewMetricsCollector builds a collector for coord. broker may be nil to
// disable event publishing.
func NewMetricsCollector(coord *Coordinator, broker *events.Broker) *MetricsCollector {
	return &MetricsCollector{
		coordinator: coord,
		events:      broker,
		stopCh:      make(chan struct{}),
		firstTick:   true,
	}
}

// Start begins collecting on a fixed interval until Stop is called.
func (c *MetricsCollector) Start() {
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

// Stop halts collection.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	isLeader := c.coordinator.IsLeader()
	hasQuorum := c.coordinator.HasQuorum()

	if isLeader {
		metrics.WatchdogIsLeader.Set(1)
	} else {
		metrics.WatchdogIsLeader.Set(0)
	}
	if hasQuorum {
		metrics.WatchdogHasQuorum.Set(1)
	} else {
		metrics.WatchdogHasQuorum.Set(0)
	}

	if !c.firstTick {
		if isLeader && !c.wasLeader {
			c.publish(events.EventWatchdogLeaderElected, "this node became raft leader")
		}
		if c.hadQuorum && !hasQuorum {
			c.publish(events.EventWatchdogQuorumLost, "watchdog cluster lost quorum")
		}
	}
	c.wasLeader = isLeader
	c.hadQuorum = hasQuorum
	c.firstTick = false

	servers, err := c.coordinator.Servers()
	if err == nil {
		metrics.WatchdogPeersTotal.Set(float64(len(servers)))
	}

	lastIndex, appliedIndex := c.coordinator.Stats()
	metrics.WatchdogLastIndex.Set(float64(lastIndex))
	metrics.WatchdogAppliedIndex.Set(float64(appliedIndex))
}

func (c *MetricsCollector) publish(typ events.EventType, message string) {
	if c.events == nil {
		return
	}
	c.events.Publish(&events.Event{Type: typ, Message: message})
}
