// Package service implements the monitoring operations the scheduler and
// API layers invoke: inventory sync, certificate check, and the notification
// sweep, plus the read paths backing the HTTP endpoints.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/t-cloud/edge-certmon/internal/reconcile"
	"github.com/t-cloud/edge-certmon/internal/sshcheck"
	"github.com/t-cloud/edge-certmon/pkg/types"
)

// Store defines the storage operations the service needs.
type Store interface {
	GetNode(ctx context.Context, id string) (*types.Node, error)
	ListNodes(ctx context.Context, activeOnly bool) ([]types.Node, error)
	ListChecksForNode(ctx context.Context, nodeID string, limit int) ([]types.CheckResult, error)
	LatestSuccessfulChecks(ctx context.Context) ([]types.NodeCheck, error)
	InsertCheckResults(ctx context.Context, results []types.CheckResult) error
	ListEvents(ctx context.Context, limit int) ([]types.NodeEvent, error)
	FleetOverview(ctx context.Context, warningDays int) (*types.FleetOverview, error)
}

// InventoryFetcher polls the NSX manager for the current edge node set.
type InventoryFetcher interface {
	FetchNodes(ctx context.Context) ([]types.DiscoveredNode, error)
}

// Reconciler diffs a snapshot against the persisted fleet.
type Reconciler interface {
	Reconcile(ctx context.Context, snapshot []types.DiscoveredNode) (*reconcile.Result, error)
}

// Checker probes a batch of nodes for certificate expiry.
type Checker interface {
	CheckAll(ctx context.Context, targets []sshcheck.Target) []types.CheckResult
}

// Notifier delivers expiry sweeps and fleet lifecycle notices.
type Notifier interface {
	Sweep(ctx context.Context) error
	SendLifecycle(ctx context.Context, added, removed []types.Node) error
}

// Service ties the monitoring pipeline together.
type Service struct {
	store       Store
	fetcher     InventoryFetcher
	reconciler  Reconciler
	checker     Checker
	notifier    Notifier
	warningDays int
	logger      *slog.Logger
}

// Config bundles the service's collaborators.
type Config struct {
	Store       Store
	Fetcher     InventoryFetcher
	Reconciler  Reconciler
	Checker     Checker
	Notifier    Notifier
	WarningDays int
	Logger      *slog.Logger
}

// New creates the service.
func New(cfg Config) *Service {
	return &Service{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		reconciler:  cfg.Reconciler,
		checker:     cfg.Checker,
		notifier:    cfg.Notifier,
		warningDays: cfg.WarningDays,
		logger:      cfg.Logger.With("component", "service"),
	}
}

// SyncInventory fetches the current edge node set from the NSX manager and
// reconciles it into the store. A fetch failure aborts the cycle before any
// write, so the persisted fleet is never touched on manager outages.
// Lifecycle notices for added and removed nodes are sent best-effort.
func (s *Service) SyncInventory(ctx context.Context) error {
	snapshot, err := s.fetcher.FetchNodes(ctx)
	if err != nil {
		return fmt.Errorf("fetching inventory: %w", err)
	}

	result, err := s.reconciler.Reconcile(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("reconciling inventory: %w", err)
	}

	if result.Changed() {
		if err := s.notifier.SendLifecycle(ctx, result.New, result.Removed); err != nil {
			// The reconciliation is already committed; a missed notice is
			// not worth failing the sync over.
			s.logger.Error("lifecycle notice failed", "error", err)
		}
	}
	return nil
}

// CheckCertificates probes every active node, persists the results, and runs
// a notification sweep over the fresh data.
func (s *Service) CheckCertificates(ctx context.Context) error {
	nodes, err := s.store.ListNodes(ctx, true)
	if err != nil {
		return fmt.Errorf("listing active nodes: %w", err)
	}
	if len(nodes) == 0 {
		s.logger.Info("no active nodes to check")
		return nil
	}

	targets := make([]sshcheck.Target, len(nodes))
	for i, n := range nodes {
		targets[i] = sshcheck.Target{NodeID: n.ID, Address: n.IPAddress}
	}

	results := s.checker.CheckAll(ctx, targets)
	if err := s.store.InsertCheckResults(ctx, results); err != nil {
		return fmt.Errorf("storing check results: %w", err)
	}

	if err := s.notifier.Sweep(ctx); err != nil {
		return fmt.Errorf("post-check notification sweep: %w", err)
	}
	return nil
}

// SweepNotifications runs a standalone notification sweep over the latest
// stored checks.
func (s *Service) SweepNotifications(ctx context.Context) error {
	return s.notifier.Sweep(ctx)
}

// =============================================================================
// READ PATHS
// =============================================================================

// Node returns one node, or nil when unknown.
func (s *Service) Node(ctx context.Context, id string) (*types.Node, error) {
	return s.store.GetNode(ctx, id)
}

// Nodes lists the fleet, optionally active nodes only.
func (s *Service) Nodes(ctx context.Context, activeOnly bool) ([]types.Node, error) {
	return s.store.ListNodes(ctx, activeOnly)
}

// NodeStatuses pairs each active node with its most recent successful check.
// Nodes never successfully checked are absent.
func (s *Service) NodeStatuses(ctx context.Context) ([]types.NodeCheck, error) {
	return s.store.LatestSuccessfulChecks(ctx)
}

// NodeChecks returns a node's check history, newest first.
func (s *Service) NodeChecks(ctx context.Context, nodeID string, limit int) ([]types.CheckResult, error) {
	return s.store.ListChecksForNode(ctx, nodeID, limit)
}

// Events returns recent lifecycle events, newest first.
func (s *Service) Events(ctx context.Context, limit int) ([]types.NodeEvent, error) {
	return s.store.ListEvents(ctx, limit)
}

// Overview returns the aggregate fleet summary.
func (s *Service) Overview(ctx context.Context) (*types.FleetOverview, error) {
	return s.store.FleetOverview(ctx, s.warningDays)
}
