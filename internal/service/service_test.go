package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/t-cloud/edge-certmon/internal/reconcile"
	"github.com/t-cloud/edge-certmon/internal/sshcheck"
	"github.com/t-cloud/edge-certmon/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStore struct {
	nodes     []types.Node
	inserted  []types.CheckResult
	insertErr error
}

func (s *mockStore) GetNode(ctx context.Context, id string) (*types.Node, error) { return nil, nil }
func (s *mockStore) ListNodes(ctx context.Context, activeOnly bool) ([]types.Node, error) {
	return s.nodes, nil
}
func (s *mockStore) ListChecksForNode(ctx context.Context, nodeID string, limit int) ([]types.CheckResult, error) {
	return nil, nil
}
func (s *mockStore) LatestSuccessfulChecks(ctx context.Context) ([]types.NodeCheck, error) {
	return nil, nil
}
func (s *mockStore) InsertCheckResults(ctx context.Context, results []types.CheckResult) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, results...)
	return nil
}
func (s *mockStore) ListEvents(ctx context.Context, limit int) ([]types.NodeEvent, error) {
	return nil, nil
}
func (s *mockStore) FleetOverview(ctx context.Context, warningDays int) (*types.FleetOverview, error) {
	return &types.FleetOverview{}, nil
}

type mockFetcher struct {
	snapshot []types.DiscoveredNode
	err      error
}

func (f *mockFetcher) FetchNodes(ctx context.Context) ([]types.DiscoveredNode, error) {
	return f.snapshot, f.err
}

type mockReconciler struct {
	result *reconcile.Result
	err    error
	calls  int
	got    []types.DiscoveredNode
}

func (r *mockReconciler) Reconcile(ctx context.Context, snapshot []types.DiscoveredNode) (*reconcile.Result, error) {
	r.calls++
	r.got = snapshot
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &reconcile.Result{}, nil
}

type mockChecker struct {
	results []types.CheckResult
	got     []sshcheck.Target
}

func (c *mockChecker) CheckAll(ctx context.Context, targets []sshcheck.Target) []types.CheckResult {
	c.got = targets
	return c.results
}

type mockNotifier struct {
	sweeps       int
	sweepErr     error
	lifecycles   int
	lifecycleErr error
	added        []types.Node
	removed      []types.Node
}

func (n *mockNotifier) Sweep(ctx context.Context) error {
	n.sweeps++
	return n.sweepErr
}

func (n *mockNotifier) SendLifecycle(ctx context.Context, added, removed []types.Node) error {
	n.lifecycles++
	n.added = added
	n.removed = removed
	return n.lifecycleErr
}

func newTestService(store *mockStore, fetcher *mockFetcher, rec *mockReconciler, checker *mockChecker, notifier *mockNotifier) *Service {
	return New(Config{
		Store:       store,
		Fetcher:     fetcher,
		Reconciler:  rec,
		Checker:     checker,
		Notifier:    notifier,
		WarningDays: 30,
		Logger:      testLogger(),
	})
}

func TestSyncInventoryFetchFailureAbortsBeforeReconcile(t *testing.T) {
	rec := &mockReconciler{}
	svc := newTestService(&mockStore{}, &mockFetcher{err: errors.New("manager unreachable")}, rec, &mockChecker{}, &mockNotifier{})

	if err := svc.SyncInventory(context.Background()); err == nil {
		t.Fatal("fetch failure must surface as an error")
	}
	if rec.calls != 0 {
		t.Error("a failed fetch must never reach reconciliation")
	}
}

func TestSyncInventorySendsLifecycleOnChange(t *testing.T) {
	rec := &mockReconciler{result: &reconcile.Result{
		New:     []types.Node{{ID: "a", DisplayName: "edge-a"}},
		Removed: []types.Node{{ID: "b", DisplayName: "edge-b"}},
	}}
	notifier := &mockNotifier{}
	svc := newTestService(&mockStore{}, &mockFetcher{snapshot: []types.DiscoveredNode{{ID: "a"}}}, rec, &mockChecker{}, notifier)

	if err := svc.SyncInventory(context.Background()); err != nil {
		t.Fatal(err)
	}
	if notifier.lifecycles != 1 {
		t.Fatalf("lifecycle notices = %d, want 1", notifier.lifecycles)
	}
	if len(notifier.added) != 1 || len(notifier.removed) != 1 {
		t.Errorf("notice got added=%d removed=%d, want 1 and 1", len(notifier.added), len(notifier.removed))
	}
	if len(rec.got) != 1 {
		t.Errorf("reconciler received %d discovered nodes, want 1", len(rec.got))
	}
}

func TestSyncInventoryQuietCycleSkipsLifecycle(t *testing.T) {
	notifier := &mockNotifier{}
	svc := newTestService(&mockStore{}, &mockFetcher{}, &mockReconciler{}, &mockChecker{}, notifier)

	if err := svc.SyncInventory(context.Background()); err != nil {
		t.Fatal(err)
	}
	if notifier.lifecycles != 0 {
		t.Error("an unchanged cycle must not send a lifecycle notice")
	}
}

func TestSyncInventoryLifecycleFailureIsNotFatal(t *testing.T) {
	rec := &mockReconciler{result: &reconcile.Result{New: []types.Node{{ID: "a"}}}}
	notifier := &mockNotifier{lifecycleErr: errors.New("telegram down")}
	svc := newTestService(&mockStore{}, &mockFetcher{}, rec, &mockChecker{}, notifier)

	if err := svc.SyncInventory(context.Background()); err != nil {
		t.Errorf("committed sync must not fail on a notice error: %v", err)
	}
}

func TestCheckCertificatesPipeline(t *testing.T) {
	store := &mockStore{nodes: []types.Node{
		{ID: "a", IPAddress: "10.0.0.1", Active: true},
		{ID: "b", IPAddress: "10.0.0.2", Active: true},
	}}
	checker := &mockChecker{results: []types.CheckResult{
		{NodeID: "a", Status: types.CheckSuccess},
		{NodeID: "b", Status: types.CheckTimeout},
	}}
	notifier := &mockNotifier{}
	svc := newTestService(store, &mockFetcher{}, &mockReconciler{}, checker, notifier)

	if err := svc.CheckCertificates(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(checker.got) != 2 || checker.got[0].Address != "10.0.0.1" {
		t.Errorf("checker targets = %+v", checker.got)
	}
	if len(store.inserted) != 2 {
		t.Errorf("stored %d results, want 2 (failed checks persist too)", len(store.inserted))
	}
	if notifier.sweeps != 1 {
		t.Errorf("sweeps = %d, want one after the check batch", notifier.sweeps)
	}
}

func TestCheckCertificatesEmptyFleet(t *testing.T) {
	checker := &mockChecker{}
	notifier := &mockNotifier{}
	svc := newTestService(&mockStore{}, &mockFetcher{}, &mockReconciler{}, checker, notifier)

	if err := svc.CheckCertificates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if checker.got != nil || notifier.sweeps != 0 {
		t.Error("empty fleet must neither probe nor sweep")
	}
}

func TestCheckCertificatesStoreFailure(t *testing.T) {
	store := &mockStore{
		nodes:     []types.Node{{ID: "a", IPAddress: "10.0.0.1"}},
		insertErr: errors.New("disk full"),
	}
	notifier := &mockNotifier{}
	svc := newTestService(store, &mockFetcher{}, &mockReconciler{}, &mockChecker{}, notifier)

	if err := svc.CheckCertificates(context.Background()); err == nil {
		t.Fatal("insert failure must surface")
	}
	if notifier.sweeps != 0 {
		t.Error("sweep must not run over unstored results")
	}
}
