package adminclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LoginStoresToken(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})

	c := NewClient(srv.URL)
	token, err := c.Login(context.Background(), "admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("expected tok-123, got %q", token)
	}
	if c.token != "tok-123" {
		t.Error("expected the client to remember the issued token")
	}
}

func TestClient_Status_SendsBearerTokenAndDecodesBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("expected bearer token header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"generation": float64(3)})
	})

	c := NewClient(srv.URL).WithToken("tok-abc")
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["generation"] != float64(3) {
		t.Errorf("expected generation 3, got %v", status["generation"])
	}
}

func TestClient_NonSuccessStatusDecodesAPIError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not_found", "message": "no node with id 9"})
	})

	c := NewClient(srv.URL)
	_, err := c.NodeByID(context.Background(), 9)
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestClient_NodeActionPostsToCorrectPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		json.NewEncoder(w).Encode(map[string]string{"status": "applied"})
	})

	c := NewClient(srv.URL)
	if _, err := c.NodeAction(context.Background(), 2, "detach"); err != nil {
		t.Fatalf("node action: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/nodes/2/detach" {
		t.Errorf("expected POST /nodes/2/detach, got %s %s", gotMethod, gotPath)
	}
}
