/*
Package events provides an in-memory event broker for Vanguard's internal
pub/sub messaging.

The events package implements a lightweight event bus for broadcasting
pooler and cluster events — backend state transitions, failover pipeline
runs, watchdog leadership changes, config reloads — to interested
subscribers. It supports non-blocking, topic-agnostic delivery over
buffered channels, keeping any subscriber (the admin API has no
event-streaming endpoint) decoupled from the components that raise events.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Event Types

Events fall into four families:

  - Backend: backend.up, backend.down, backend.suspected, backend.quarantined
    — raised by pkg/health's controller as a backend's observed state
    machine advances; pkg/failover does not raise them.
  - Failover: failover.started, failover.completed, failover.failed —
    raised by pkg/failover.Executor around its interlock/revalidate/
    apply/script/sync pipeline.
  - Watchdog: watchdog.leader_elected, watchdog.quorum_lost — raised by
    pkg/watchdog as raft leadership and quorum change.
  - Config: config.reloaded, config.invalid — raised by cmd/vanguard's
    SIGHUP handler around pkg/config.Load.

# Usage

Publishing an event:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.Publish(&events.Event{
		Type:    events.EventBackendDown,
		Message: "node 1 marked down after 3 failed health checks",
		Metadata: map[string]string{"node_id": "1"},
	})

Subscribing (e.g. for a future admin API event-stream endpoint):

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for event := range sub {
		fmt.Println(event.Type, event.Message)
	}

# Delivery Semantics

Publish never blocks the caller beyond enqueueing onto the broker's own
100-entry buffer. Each subscriber has its own 50-entry buffer; a slow or
stalled subscriber has events dropped for it rather than backpressuring
the publisher — event delivery is best-effort, not a durable log (that
role belongs to pkg/storage's status-transition history).

# See Also

  - pkg/health for the backend events this package's types are modeled on
  - pkg/failover for failover pipeline events
  - pkg/watchdog for cluster membership events
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
