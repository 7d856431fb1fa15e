package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/vanguard/pkg/config"
	"github.com/cuemby/vanguard/pkg/failover"
	"github.com/cuemby/vanguard/pkg/health"
	"github.com/cuemby/vanguard/pkg/session"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

type fakeCoordinator struct{}

func (fakeCoordinator) AcquireInterlock(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func newTestRouter(t *testing.T) (http.Handler, []byte) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := config.Default()
	cfg.AdminUsername = "admin"
	cfg.AdminPasswordHash = string(hash)
	cfg.Backends = []config.Backend{
		{Host: "db0", Port: 5432, Role: "primary"},
		{Host: "db1", Port: 5432, Role: "replica"},
	}

	table := statustable.New([]int{0, 1}, nil)
	table.Transition(0, types.StateUp, "primary up")
	table.Transition(1, types.StateUp, "replica up")
	table.SeedRoles(cfg.BackendNodes())

	exec := failover.New(failover.Config{
		Table:       table,
		Coordinator: fakeCoordinator{},
		Notifier:    session.NewRegistry(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go exec.Run(ctx)

	deps := Dependencies{
		Config:   cfg,
		Nodes:    cfg.BackendNodes(),
		Table:    table,
		Stats:    health.NewStatsRegistry(),
		Sessions: session.NewRegistry(),
		Executor: exec,
	}
	secret := []byte("test-secret")
	return NewRouter(deps, secret), secret
}

func doRequest(t *testing.T, h http.Handler, method, path string, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_RejectsMissingCredentials(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequest(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouter_BasicAuthSucceeds(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_LoginIssuesBearerToken(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct{ Token string }
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	rec2 := doRequest(t, h, http.MethodGet, "/status", "Bearer "+body.Token)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 using issued token, got %d: %s", rec2.Code, rec2.Body.String())
	}
}

func TestRouter_LoginRejectsBadPassword(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouter_ListAndGetNode(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodGet, "/nodes")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequestBasic(t, h, http.MethodGet, "/nodes/0")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequestBasic(t, h, http.MethodGet, "/nodes/99")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", rec.Code)
	}
}

func doRequestBasic(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_DetachAndAttachNode(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequestBasic(t, h, http.MethodPost, "/nodes/1/detach")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 detaching node 1, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequestBasic(t, h, http.MethodPost, "/nodes/1/attach")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 attaching node 1, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_PromoteRejectsAlreadyPrimary(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodPost, "/nodes/0/promote")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 promoting the existing primary, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_PromoteMovesRoleToNewPrimary(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodPost, "/nodes/1/promote")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 promoting node 1, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequestBasic(t, h, http.MethodGet, "/status")
	var status struct {
		Nodes map[string]types.BackendStatus `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Nodes["1"].Role != types.RolePrimary {
		t.Errorf("expected node 1 to be primary after promote, got %+v", status.Nodes["1"])
	}
	if status.Nodes["0"].Role != types.RoleReplica || status.Nodes["0"].State != types.StateDown {
		t.Errorf("expected the old primary demoted and down, got %+v", status.Nodes["0"])
	}
}

func TestRouter_CacheInvalidate(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodPost, "/cache/invalidate")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_WatchdogEndpointsDisabledWithoutCoordinator(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodGet, "/watchdog/status")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when watchdog is disabled, got %d", rec.Code)
	}
}

func TestRouter_ControlStopNotConfigured(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequestBasic(t, h, http.MethodPost, "/control/stop")
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 when no shutdown hook is wired, got %d", rec.Code)
	}
}
