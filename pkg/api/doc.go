/*
Package api implements the administrative control surface from spec §5:
a JSON-over-HTTP API exposing cluster status, backend attach/detach/
promote/recovery, process listing, health statistics, process control
(stop/reload/logrotate), cache invalidation, and watchdog inspection.

The transport is plain net/http routed through go-chi/chi, the same
library the example corpus's hexagonal API service uses for its own
admin surface. Unlike that example's gRPC-plus-mTLS predecessor in this
package, SPEC_FULL.md §6.3 calls for JSON over HTTP with no mTLS on
this surface: operators reach it the same way they reach pgpool-II's
pcp tools, authenticated rather than certificate-gated.

Authentication is bearer JWT (HS256 only, via golang-jwt/jwt/v5) or
HTTP Basic, checked against the single configured admin credential
(config.AdminUsername / config.AdminPasswordHash). POST /auth/login
exchanges a verified Basic credential for a JWT so a caller can avoid
resending the password on every request. There is no anonymous or
accept-any-token mode: with an empty AdminPasswordHash every Basic check
fails, so neither Basic requests nor /auth/login succeed rather than
falling open. The /metrics, /healthz, /readyz and /livez probe routes
need no credentials.

Dependencies bundles the narrow slice of the running pooler each
handler needs (the status table, health stats, session registry,
failover executor, optional watchdog coordinator, and a few process-
control hooks supplied by cmd/vanguard) so this package never imports
pkg/supervisor directly and stays testable with fakes.
*/
package api
