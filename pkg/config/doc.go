/*
Package config reads and validates Vanguard's declarative YAML
configuration file (gopkg.in/yaml.v3, matching the teacher stack's existing
dependency choice).

Config carries every key named in spec.md §6.2: listen/port/socket
settings, pooling limits, load-balance behavior flags, the backend list,
health-check tuning, failover/failback/recovery script paths, watchdog
cluster settings, and the admin/TLS/logging surface.

Validate enforces the invariants a running pooler depends on: exactly one
primary backend, non-negative weights (an all-zero weight set is
normalized to uniform, matching the original's pool_config_yaml.c guard),
and watchdog peers present whenever use_watchdog is set. A reload that
fails Validate is rejected and the previous Config kept in place — see
spec.md §7's config_invalid handling.
*/
package config
