/*
Package watchdog implements Vanguard's cluster coordinator: the watchdog
peer set from SPEC_FULL.md §4.8 that elects a leader, replicates backend
status transitions, and backs the failover executor's cluster-wide
interlock and the health controller's quorum check.

# Architecture

	┌──────────────────── WATCHDOG PEER ────────────────────┐
	│                                                         │
	│   pkg/failover.Executor ──AcquireInterlock──▶ Coordinator
	│   pkg/health.Controller ──HasQuorum─────────▶ Coordinator
	│                                  │                      │
	│                                  ▼                      │
	│                          hashicorp/raft                 │
	│                    (leader election, log replication)   │
	│                                  │                      │
	│                                  ▼                      │
	│                               FSM.Apply                 │
	│                                  │                      │
	│                                  ▼                      │
	│                     pkg/statustable.Table (local)       │
	└─────────────────────────────────────────────────────────┘

Every watchdog peer runs the same FSM over the same raft log, so once a
status-transition Command commits, every peer's status table has already
converged — there is no separate gossip or ack round beyond raft's own
commit protocol.

# Leader election and priority

hashicorp/raft elects leaders by randomized election timeout with no
notion of configured priority. Coordinator approximates pgpool-II's
"highest wd_priority reachable node becomes leader" behavior by biasing
each node's randomized ElectionTimeout inversely to its Priority: higher
priority, shorter timeout window, so that node is more likely (not
guaranteed) to call an election first. This is a documented
approximation, not a change to raft's own safety properties.

# Interlock and quorum

AcquireInterlock only succeeds on the current leader; a follower fails
fast with ErrInterlockHeld. HasQuorum is approximated as "a leader is
currently elected", since raft cannot lose its leader without losing
quorum.

# Join flow

A new peer calls Join to start its local raft node unattached; it enters
the voting set once AddVoter is called for it on the current leader. No
code in this repository calls AddVoter, and no caller checks the join
tokens that token.go's TokenManager issues.
*/
package watchdog
