// Package reconcile diffs inventory snapshots against the persisted node set.
//
// The diff itself is a pure function (BuildPlan) over the snapshot and the
// stored nodes; the engine wraps it with store access and hands the
// resulting batch to the store, which applies it in one transaction. The
// engine is never invoked for a cycle whose snapshot fetch failed, so a
// transient inventory outage can never mass-deactivate the fleet.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// Store defines the storage operations the engine needs.
type Store interface {
	// ListNodes returns all persisted nodes, active and inactive.
	ListNodes(ctx context.Context, activeOnly bool) ([]types.Node, error)

	// ApplyReconciliation commits a reconciliation batch atomically.
	ApplyReconciliation(ctx context.Context, batch types.ReconciliationBatch) error
}

// Result summarizes one reconciliation cycle for downstream lifecycle
// notifications. Removed carries the pre-update rows, so names and addresses
// reflect what was known before deactivation.
type Result struct {
	New           []types.Node
	ReappearedIDs []string
	Removed       []types.Node
}

// Changed reports whether the cycle altered node lifecycle state.
func (r Result) Changed() bool {
	return len(r.New) > 0 || len(r.ReappearedIDs) > 0 || len(r.Removed) > 0
}

// Engine reconciles snapshots against the store.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "reconcile"),
	}
}

// Reconcile applies one inventory snapshot: new nodes are created,
// reappeared nodes reactivated, present nodes refreshed, and absent nodes
// deactivated, with a lifecycle event per transition. The whole batch
// commits atomically or not at all.
func (e *Engine) Reconcile(ctx context.Context, snapshot []types.DiscoveredNode) (*Result, error) {
	persisted, err := e.store.ListNodes(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("listing persisted nodes: %w", err)
	}

	batch, result := BuildPlan(snapshot, persisted, time.Now().UTC())

	if err := e.store.ApplyReconciliation(ctx, batch); err != nil {
		return nil, fmt.Errorf("applying reconciliation: %w", err)
	}

	e.logger.Info("reconciliation complete",
		"discovered", len(snapshot),
		"new", len(result.New),
		"reappeared", len(result.ReappearedIDs),
		"removed", len(result.Removed),
	)
	return &result, nil
}

// BuildPlan partitions the snapshot against the persisted set and produces
// the write batch plus the cycle summary. Pure up to the generated event ids:
// the same partition always yields the same event types and nothing else.
func BuildPlan(snapshot []types.DiscoveredNode, persisted []types.Node, now time.Time) (types.ReconciliationBatch, Result) {
	var batch types.ReconciliationBatch
	var result Result

	persistedByID := make(map[string]types.Node, len(persisted))
	for _, n := range persisted {
		persistedByID[n.ID] = n
	}

	discovered := make(map[string]bool, len(snapshot))
	for _, dn := range snapshot {
		discovered[dn.ID] = true

		existing, known := persistedByID[dn.ID]
		switch {
		case !known:
			node := types.Node{
				ID:              dn.ID,
				DisplayName:     dn.DisplayName,
				IPAddress:       dn.IPAddress,
				MaintenanceMode: dn.MaintenanceMode,
				FirstSeenAt:     now,
				LastSeenAt:      now,
				Active:          true,
			}
			batch.Creates = append(batch.Creates, node)
			batch.Events = append(batch.Events, newEvent(types.EventAdded, dn.ID, dn.DisplayName, dn.IPAddress, now))
			result.New = append(result.New, node)

		case !existing.Active:
			batch.Updates = append(batch.Updates, refreshed(existing, dn, now))
			batch.Events = append(batch.Events, newEvent(types.EventReappeared, dn.ID, dn.DisplayName, dn.IPAddress, now))
			result.ReappearedIDs = append(result.ReappearedIDs, dn.ID)

		default:
			// Still present and active: silent refresh, no event.
			batch.Updates = append(batch.Updates, refreshed(existing, dn, now))
		}
	}

	for _, n := range persisted {
		if discovered[n.ID] || !n.Active {
			continue
		}
		// The removed event snapshots the pre-update row.
		batch.Deactivates = append(batch.Deactivates, n.ID)
		batch.Events = append(batch.Events, newEvent(types.EventRemoved, n.ID, n.DisplayName, n.IPAddress, now))
		result.Removed = append(result.Removed, n)
	}

	return batch, result
}

func refreshed(existing types.Node, dn types.DiscoveredNode, now time.Time) types.Node {
	existing.DisplayName = dn.DisplayName
	existing.IPAddress = dn.IPAddress
	existing.MaintenanceMode = dn.MaintenanceMode
	existing.LastSeenAt = now
	existing.Active = true
	return existing
}

func newEvent(eventType types.EventType, nodeID, name, address string, now time.Time) types.NodeEvent {
	return types.NodeEvent{
		ID:          uuid.New().String(),
		NodeID:      nodeID,
		Type:        eventType,
		DisplayName: name,
		IPAddress:   address,
		CreatedAt:   now,
	}
}
