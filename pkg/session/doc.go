/*
Package session implements the per-frontend session worker from spec
§4.4: the goroutine that owns one accepted frontend connection from
startup through Terminate.

# Architecture

	┌───────────────────────── Session ─────────────────────────┐
	│                                                             │
	│  readFrontend goroutine ──► frontendCh ──┐                 │
	│                                          │                 │
	│  readBackend goroutine (per open node) ─►│ backendCh       │
	│                                          ▼                 │
	│                                    dispatcher (Run)         │
	│                               owns: SessionState, pool.Slot │
	└─────────────────────────────────────────────────────────────┘

This is the Go-native replacement the REDESIGN in spec.md §9 calls for:
instead of a single-threaded select/poll loop multiplexing one frontend
and several backend file descriptors by hand, each socket gets its own
reader goroutine that only deserializes and posts to a channel, and a
single dispatcher goroutine is the sole owner of every piece of mutable
session state (transaction depth, load-balance stickiness, the cached
pool slot) — so none of it needs a lock. A reload/shutdown signal
reaching the process becomes a context cancellation plus a notifier
call, in place of the legacy's OS signal handler writing onto a pipe the
loop drains.

# Routing

route() classifies every router-bound frontend message with
pkg/router.Classify and forwards it to whichever backend(s) the
classification names, using pkg/pool.Cache to get the currently open
backend set. An all_backends/must_merge statement fans out to every
backend and waits for one CommandComplete/ErrorResponse from each before
merging, per pkg/router.Merge. Transaction boundaries become
authoritative only once the target's ReadyForQuery arrives; the
classifier's own bookkeeping is just an advisory hint used to pick a
backend before that reply exists.

# Failover notification

Registry implements failover.WorkerNotifier: on InvalidateAll, every
registered session's InvalidatePool is called, which discards the
cached pool slot at the session's next idle point (ReadyForQuery status
'I') rather than tearing down a statement mid-flight — this is the
"restart session at next idle point" half of spec §4.7 step 5.
*/
package session
