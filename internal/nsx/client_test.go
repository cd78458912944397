package nsx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newManager returns an httptest server that mimics the NSX session auth
// flow and serves the given transport-node documents.
func newManager(t *testing.T, nodes []map[string]any) (*httptest.Server, *int) {
	t.Helper()
	authCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/create", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostFormValue("j_username") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		authCalls++
		w.Header().Set("X-XSRF-TOKEN", "token-123")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/transport-nodes", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-XSRF-TOKEN") != "token-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"results": nodes})
	})

	return httptest.NewServer(mux), &authCalls
}

func edgeNode(id, name, ip string) map[string]any {
	return map[string]any{
		"id":               id,
		"display_name":     name,
		"maintenance_mode": "DISABLED",
		"node_deployment_info": map[string]any{
			"resource_type": "EdgeNode",
			"ip_addresses":  []string{ip},
		},
	}
}

func TestFetchNodesFiltersEdgeNodes(t *testing.T) {
	hostNode := map[string]any{
		"id":           "host-1",
		"display_name": "esx-host-1",
		"node_deployment_info": map[string]any{
			"resource_type": "HostNode",
			"ip_addresses":  []string{"10.0.0.50"},
		},
	}
	noIP := map[string]any{
		"id":           "edge-noip",
		"display_name": "edge-noip",
		"node_deployment_info": map[string]any{
			"resource_type": "EdgeNode",
		},
	}

	srv, _ := newManager(t, []map[string]any{
		edgeNode("edge-1", "etn-01", "10.0.0.11"),
		hostNode,
		noIP,
		edgeNode("edge-2", "etn-02", "10.0.0.12"),
	})
	defer srv.Close()

	client, err := NewClient(Config{
		ManagerURL: srv.URL,
		Username:   "svc",
		Password:   "pw",
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	nodes, err := client.FetchNodes(context.Background())
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}

	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2: %+v", len(nodes), nodes)
	}
	if nodes[0].ID != "edge-1" || nodes[0].IPAddress != "10.0.0.11" {
		t.Errorf("unexpected first node: %+v", nodes[0])
	}
	if nodes[1].MaintenanceMode != "DISABLED" {
		t.Errorf("maintenance mode = %q, want DISABLED", nodes[1].MaintenanceMode)
	}
}

func TestFetchNodesAppliesAllowList(t *testing.T) {
	srv, _ := newManager(t, []map[string]any{
		edgeNode("edge-1", "etn-01", "10.0.0.11"),
		edgeNode("edge-2", "etn-02", "10.0.0.12"),
		edgeNode("edge-3", "etn-03", "10.0.0.13"),
	})
	defer srv.Close()

	client, err := NewClient(Config{
		ManagerURL: srv.URL,
		Username:   "svc",
		Password:   "pw",
		AllowList:  []string{"10.0.0.12"},
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	nodes, err := client.FetchNodes(context.Background())
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "edge-2" {
		t.Errorf("allow list not applied, got %+v", nodes)
	}
}

func TestFetchNodesReauthenticatesOnce(t *testing.T) {
	srv, authCalls := newManager(t, []map[string]any{
		edgeNode("edge-1", "etn-01", "10.0.0.11"),
	})
	defer srv.Close()

	client, err := NewClient(Config{ManagerURL: srv.URL, Username: "svc", Password: "pw"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.FetchNodes(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// Simulate server-side session expiry: the stale token forces a 403,
	// which must trigger exactly one re-auth and a successful retry.
	client.mu.Lock()
	client.xsrfToken = "stale"
	client.mu.Unlock()

	if _, err := client.FetchNodes(context.Background()); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if *authCalls != 2 {
		t.Errorf("auth calls = %d, want 2", *authCalls)
	}
}

func TestFetchNodesErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/session/create" {
			w.Header().Set("X-XSRF-TOKEN", "token-123")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{ManagerURL: srv.URL, Username: "svc", Password: "pw"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.FetchNodes(context.Background()); err == nil {
		t.Error("expected error on 500, got nil")
	}
}
