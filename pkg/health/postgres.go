package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/types"
)

// CheckTypePostgres is the real probe spec §4.6 describes: open a backend
// slot, send a startup packet for the health-check user/database, await
// ReadyForQuery, close.
const CheckTypePostgres CheckType = "postgres"

// PostgresChecker performs the wire-protocol probe against one backend
// node, using the same handshake pkg/backend uses for real pool slots.
type PostgresChecker struct {
	Node    types.BackendNode
	Creds   backend.Credentials
	Timeout time.Duration

	// dial is overridable in tests; defaults to backend.Open.
	dial func(ctx context.Context, node types.BackendNode, creds backend.Credentials) (*backend.Slot, error)
}

// NewPostgresChecker builds a checker for node, authenticating as creds
// (normally health_check_user/health_check_database from config).
func NewPostgresChecker(node types.BackendNode, creds backend.Credentials, timeout time.Duration) *PostgresChecker {
	return &PostgresChecker{Node: node, Creds: creds, Timeout: timeout, dial: backend.Open}
}

// Check opens, authenticates, and immediately closes a backend slot.
// Reaching ReadyForQuery is success; any error (including timeout) is a
// failed probe.
func (p *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.dial
	if dial == nil {
		dial = backend.Open
	}

	slot, err := dial(ctx, p.Node, p.Creds)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("postgres probe failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	_ = slot.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("postgres probe to %s:%d succeeded", p.Node.Host, p.Node.Port),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (p *PostgresChecker) Type() CheckType {
	return CheckTypePostgres
}
