package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin wrapper around net/http for pkg/api's admin surface.
// One method per endpoint; each call owns its own request/response
// round trip, matching the one-method-per-RPC shape of the teacher's
// gRPC client this package replaces.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://127.0.0.1:9898").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken attaches a bearer token obtained out of band (e.g. from a
// previous Login call) to every subsequent request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// APIError is returned when the server responds with a non-2xx status
// and a decodable {error, message} body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adminclient: %s (%s, status %d)", e.Message, e.Code, e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("adminclient: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("adminclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("adminclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct{ Error, Message string }
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges an admin username/password for a bearer token (spec
// §5's POST /auth/login) and remembers it for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", nil)
	if err != nil {
		return "", fmt.Errorf("adminclient: build login request: %w", err)
	}
	req.SetBasicAuth(username, password)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("adminclient: login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct{ Error, Message string }
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", &APIError{Status: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
	}

	var body struct{ Token string }
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("adminclient: decode login response: %w", err)
	}
	c.token = body.Token
	return body.Token, nil
}

// NodeStatus mirrors types.BackendStatus's JSON shape, without its Role
// field.
type NodeStatus struct {
	NodeID      int
	State       string
	Quarantined bool
	Generation  uint64
	RetryCount  int
	LastChange  time.Time
	LastReason  string
}

// Node mirrors pkg/api's nodeView JSON shape (a backend node plus its
// current status).
type Node struct {
	ID              int
	Host            string
	Port            int
	Weight          float64
	Role            string
	DataDirectory   string
	ApplicationName string
	Status          NodeStatus
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

// Nodes calls GET /nodes.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var out []Node
	return out, c.do(ctx, http.MethodGet, "/nodes", nil, &out)
}

// NodeByID calls GET /nodes/{id}.
func (c *Client) NodeByID(ctx context.Context, id int) (Node, error) {
	var out Node
	return out, c.do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%d", id), nil, &out)
}

// NodeAction calls POST /nodes/{id}/{action} where action is one of
// attach, detach, promote, recovery.
func (c *Client) NodeAction(ctx context.Context, id int, action string) (map[string]string, error) {
	var out map[string]string
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/nodes/%d/%s", id, action), nil, &out)
}

// Processes calls GET /processes.
func (c *Client) Processes(ctx context.Context) (count int, ids []string, err error) {
	var out struct {
		Count int
		IDs   []string
	}
	if err := c.do(ctx, http.MethodGet, "/processes", nil, &out); err != nil {
		return 0, nil, err
	}
	return out.Count, out.IDs, nil
}

// HealthStats calls GET /health/stats.
func (c *Client) HealthStats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/health/stats", nil, &out)
}

// Control calls POST /control/{action} where action is one of stop,
// reload, logrotate.
func (c *Client) Control(ctx context.Context, action string) error {
	return c.do(ctx, http.MethodPost, "/control/"+action, nil, nil)
}

// CacheInvalidate calls POST /cache/invalidate.
func (c *Client) CacheInvalidate(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cache/invalidate", nil, nil)
}

// WatchdogInfo calls GET /watchdog/info.
func (c *Client) WatchdogInfo(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/watchdog/info", nil, &out)
}

// WatchdogStatus calls GET /watchdog/status.
func (c *Client) WatchdogStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/watchdog/status", nil, &out)
}

// WatchdogStop calls POST /watchdog/stop.
func (c *Client) WatchdogStop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/watchdog/stop", nil, nil)
}

// WatchdogStart calls POST /watchdog/start. The server currently always
// rejects this (see pkg/api's handleWatchdogStart) since raft cannot be
// safely re-bootstrapped in-process; the client still exposes it so
// that decision lives on the server, not baked into the CLI.
func (c *Client) WatchdogStart(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/watchdog/start", nil, nil)
}
