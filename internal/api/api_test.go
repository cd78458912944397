package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/t-cloud/edge-certmon/internal/scheduler"
	"github.com/t-cloud/edge-certmon/internal/service"
	"github.com/t-cloud/edge-certmon/internal/sshcheck"
	"github.com/t-cloud/edge-certmon/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStore struct {
	nodes      []types.Node
	checks     map[string][]types.CheckResult
	events     []types.NodeEvent
	activeOnly bool
	gotLimit   int
}

func (s *mockStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	for _, n := range s.nodes {
		if n.ID == id {
			node := n
			return &node, nil
		}
	}
	return nil, nil
}

func (s *mockStore) ListNodes(ctx context.Context, activeOnly bool) ([]types.Node, error) {
	s.activeOnly = activeOnly
	if activeOnly {
		var out []types.Node
		for _, n := range s.nodes {
			if n.Active {
				out = append(out, n)
			}
		}
		return out, nil
	}
	return s.nodes, nil
}

func (s *mockStore) ListChecksForNode(ctx context.Context, nodeID string, limit int) ([]types.CheckResult, error) {
	s.gotLimit = limit
	return s.checks[nodeID], nil
}

func (s *mockStore) LatestSuccessfulChecks(ctx context.Context) ([]types.NodeCheck, error) {
	var out []types.NodeCheck
	for id, checks := range s.checks {
		for _, n := range s.nodes {
			if n.ID == id && n.Active && len(checks) > 0 {
				out = append(out, types.NodeCheck{Node: n, Check: checks[0]})
			}
		}
	}
	return out, nil
}

func (s *mockStore) InsertCheckResults(ctx context.Context, results []types.CheckResult) error {
	return nil
}

func (s *mockStore) ListEvents(ctx context.Context, limit int) ([]types.NodeEvent, error) {
	s.gotLimit = limit
	return s.events, nil
}

func (s *mockStore) FleetOverview(ctx context.Context, warningDays int) (*types.FleetOverview, error) {
	return &types.FleetOverview{TotalNodes: len(s.nodes)}, nil
}

type mockJobs struct {
	statuses   []types.JobStatus
	triggered  []string
	triggerErr error
}

func (j *mockJobs) Trigger(name string) error {
	if j.triggerErr != nil {
		return j.triggerErr
	}
	j.triggered = append(j.triggered, name)
	return nil
}

func (j *mockJobs) Status() []types.JobStatus { return j.statuses }

type noopChecker struct{}

func (noopChecker) CheckAll(ctx context.Context, targets []sshcheck.Target) []types.CheckResult {
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Sweep(ctx context.Context) error { return nil }
func (noopNotifier) SendLifecycle(ctx context.Context, added, removed []types.Node) error {
	return nil
}

func newTestServer(store *mockStore, jobs *mockJobs) *Server {
	svc := service.New(service.Config{
		Store:       store,
		Fetcher:     nil,
		Reconciler:  nil,
		Checker:     noopChecker{},
		Notifier:    noopNotifier{},
		WarningDays: 30,
		Logger:      testLogger(),
	})
	return NewServer(svc, jobs, nil, nil, testLogger())
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestListNodes(t *testing.T) {
	store := &mockStore{nodes: []types.Node{
		{ID: "a", DisplayName: "edge-a", Active: true},
		{ID: "b", DisplayName: "edge-b", Active: false},
	}}
	s := newTestServer(store, &mockJobs{})

	rec := doRequest(s, http.MethodGet, "/api/v1/nodes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var nodes []types.Node
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(nodes))
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/nodes?active=true")
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].ID != "a" {
		t.Errorf("active filter returned %+v", nodes)
	}
}

func TestGetNode(t *testing.T) {
	store := &mockStore{nodes: []types.Node{{ID: "a", DisplayName: "edge-a"}}}
	s := newTestServer(store, &mockJobs{})

	rec := doRequest(s, http.MethodGet, "/api/v1/nodes/a")
	if rec.Code != http.StatusOK {
		t.Errorf("existing node status = %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/nodes/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d, want 404", rec.Code)
	}
}

func TestNodeChecks(t *testing.T) {
	store := &mockStore{
		nodes: []types.Node{{ID: "a"}},
		checks: map[string][]types.CheckResult{
			"a": {{NodeID: "a", Status: types.CheckSuccess}},
		},
	}
	s := newTestServer(store, &mockJobs{})

	rec := doRequest(s, http.MethodGet, "/api/v1/nodes/a/checks?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if store.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", store.gotLimit)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/nodes/missing/checks")
	if rec.Code != http.StatusNotFound {
		t.Errorf("checks for missing node status = %d, want 404", rec.Code)
	}
}

func TestListEventsLimitClamping(t *testing.T) {
	store := &mockStore{}
	s := newTestServer(store, &mockJobs{})

	doRequest(s, http.MethodGet, "/api/v1/events")
	if store.gotLimit != defaultEventsLimit {
		t.Errorf("default limit = %d, want %d", store.gotLimit, defaultEventsLimit)
	}

	doRequest(s, http.MethodGet, "/api/v1/events?limit=999999")
	if store.gotLimit != maxListLimit {
		t.Errorf("clamped limit = %d, want %d", store.gotLimit, maxListLimit)
	}

	doRequest(s, http.MethodGet, "/api/v1/events?limit=junk")
	if store.gotLimit != defaultEventsLimit {
		t.Errorf("invalid limit fell through to %d, want default", store.gotLimit)
	}
}

func TestRunJob(t *testing.T) {
	jobs := &mockJobs{}
	s := newTestServer(&mockStore{}, jobs)

	rec := doRequest(s, http.MethodPost, "/api/v1/jobs/inventory-sync/run")
	if rec.Code != http.StatusAccepted {
		t.Errorf("trigger status = %d, want 202", rec.Code)
	}
	if len(jobs.triggered) != 1 || jobs.triggered[0] != "inventory-sync" {
		t.Errorf("triggered = %v", jobs.triggered)
	}

	jobs.triggerErr = fmt.Errorf("%w: nope", scheduler.ErrUnknownJob)
	rec = doRequest(s, http.MethodPost, "/api/v1/jobs/nope/run")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", rec.Code)
	}

	jobs.triggerErr = fmt.Errorf("%w: busy", scheduler.ErrJobBusy)
	rec = doRequest(s, http.MethodPost, "/api/v1/jobs/busy/run")
	if rec.Code != http.StatusConflict {
		t.Errorf("busy job status = %d, want 409", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	jobs := &mockJobs{statuses: []types.JobStatus{
		{Name: "inventory-sync", Schedule: "0 2 */2 * *", State: types.JobIdle},
	}}
	s := newTestServer(&mockStore{}, jobs)

	rec := doRequest(s, http.MethodGet, "/api/v1/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []types.JobStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "inventory-sync" {
		t.Errorf("jobs = %+v", got)
	}
}

func TestHealthWithoutCollector(t *testing.T) {
	s := newTestServer(&mockStore{}, &mockJobs{})

	rec := doRequest(s, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestNodeStatuses(t *testing.T) {
	store := &mockStore{
		nodes: []types.Node{
			{ID: "a", DisplayName: "edge-a", Active: true},
			{ID: "b", DisplayName: "edge-b", Active: true},
		},
		checks: map[string][]types.CheckResult{
			"a": {{NodeID: "a", Status: types.CheckSuccess}},
		},
	}
	s := newTestServer(store, &mockJobs{})

	rec := doRequest(s, http.MethodGet, "/api/v1/nodes/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var statuses []types.NodeCheck
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].Node.ID != "a" {
		t.Errorf("statuses = %+v, want only the checked node", statuses)
	}
}

func TestGzipResponses(t *testing.T) {
	store := &mockStore{nodes: []types.Node{{ID: "a", DisplayName: "edge-a"}}}
	s := newTestServer(store, &mockJobs{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("missing gzip content encoding")
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("body is not gzip: %v", err)
	}
	defer gz.Close()

	var nodes []types.Node
	if err := json.NewDecoder(gz).Decode(&nodes); err != nil {
		t.Fatalf("decoding gzipped body: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "a" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	s := newTestServer(&mockStore{}, &mockJobs{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/nodes", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
