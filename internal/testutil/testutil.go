// Package testutil provides testing utilities and fixtures.
//
// Fixtures use functional options for customization:
//
//	node := testutil.FixtureNode()
//	node := testutil.FixtureNode(func(n *types.Node) {
//		n.DisplayName = "edge-custom"
//		n.Active = false
//	})
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Ptr returns a pointer to v. Handy for the nullable check fields.
func Ptr[T any](v T) *T {
	return &v
}

// =============================================================================
// NODE FIXTURES
// =============================================================================

// FixtureNode creates an active test node with sensible defaults.
func FixtureNode(overrides ...func(*types.Node)) *types.Node {
	now := time.Now().UTC()
	node := &types.Node{
		ID:              uuid.New().String(),
		DisplayName:     "test-edge-" + uuid.New().String()[:8],
		IPAddress:       "10.0.0.10",
		MaintenanceMode: "DISABLED",
		FirstSeenAt:     now.Add(-24 * time.Hour),
		LastSeenAt:      now,
		Active:          true,
		CreatedAt:       now.Add(-24 * time.Hour),
		UpdatedAt:       now,
	}

	for _, override := range overrides {
		override(node)
	}
	return node
}

// FixtureNodeInactive creates a node that has dropped out of inventory.
func FixtureNodeInactive(overrides ...func(*types.Node)) *types.Node {
	return FixtureNode(append([]func(*types.Node){
		func(n *types.Node) {
			n.Active = false
			n.LastSeenAt = time.Now().UTC().Add(-72 * time.Hour)
		},
	}, overrides...)...)
}

// FixtureDiscoveredNode creates an inventory snapshot entry.
func FixtureDiscoveredNode(overrides ...func(*types.DiscoveredNode)) types.DiscoveredNode {
	dn := types.DiscoveredNode{
		ID:              uuid.New().String(),
		DisplayName:     "test-edge-" + uuid.New().String()[:8],
		IPAddress:       "10.0.0.10",
		MaintenanceMode: "DISABLED",
	}

	for _, override := range overrides {
		override(&dn)
	}
	return dn
}

// =============================================================================
// CHECK FIXTURES
// =============================================================================

// FixtureCheckResult creates a successful check with 90 days of validity.
func FixtureCheckResult(nodeID string, overrides ...func(*types.CheckResult)) types.CheckResult {
	now := time.Now().UTC()
	result := types.CheckResult{
		NodeID:        nodeID,
		Status:        types.CheckSuccess,
		CertExpiry:    Ptr(now.AddDate(0, 0, 90)),
		DaysRemaining: Ptr(90),
		CheckedAt:     now,
	}

	for _, override := range overrides {
		override(&result)
	}
	return result
}

// FixtureCheckExpiring creates a successful check with the given days left.
// Negative values produce an already expired certificate.
func FixtureCheckExpiring(nodeID string, daysRemaining int, overrides ...func(*types.CheckResult)) types.CheckResult {
	return FixtureCheckResult(nodeID, append([]func(*types.CheckResult){
		func(r *types.CheckResult) {
			r.CertExpiry = Ptr(time.Now().UTC().AddDate(0, 0, daysRemaining))
			r.DaysRemaining = Ptr(daysRemaining)
		},
	}, overrides...)...)
}

// FixtureCheckFailed creates a failed check with the given status.
func FixtureCheckFailed(nodeID string, status types.CheckStatus, overrides ...func(*types.CheckResult)) types.CheckResult {
	return FixtureCheckResult(nodeID, append([]func(*types.CheckResult){
		func(r *types.CheckResult) {
			r.Status = status
			r.CertExpiry = nil
			r.DaysRemaining = nil
			r.ErrorDetail = "test failure"
		},
	}, overrides...)...)
}

// =============================================================================
// EVENT FIXTURES
// =============================================================================

// FixtureNodeEvent creates a lifecycle event for a node.
func FixtureNodeEvent(nodeID string, eventType types.EventType, overrides ...func(*types.NodeEvent)) types.NodeEvent {
	event := types.NodeEvent{
		ID:          uuid.New().String(),
		NodeID:      nodeID,
		Type:        eventType,
		DisplayName: "test-edge",
		IPAddress:   "10.0.0.10",
		CreatedAt:   time.Now().UTC(),
	}

	for _, override := range overrides {
		override(&event)
	}
	return event
}
