// Package store provides database access for the certificate monitor.
//
// # Design
//
// The store uses raw SQL with pgx. Reconciliation and notification-record
// writes are multi-row batches and run inside a single transaction each;
// everything else is a plain query. The (node, tier, day) notification
// uniqueness invariant lives in the schema, not here.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/t-cloud/edge-certmon/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// NODES
// =============================================================================

const nodeColumns = `id, display_name, ip_address, maintenance_mode, first_seen_at, last_seen_at, active, created_at, updated_at`

func scanNode(row pgx.Row) (types.Node, error) {
	var n types.Node
	err := row.Scan(
		&n.ID, &n.DisplayName, &n.IPAddress, &n.MaintenanceMode,
		&n.FirstSeenAt, &n.LastSeenAt, &n.Active, &n.CreatedAt, &n.UpdatedAt,
	)
	return n, err
}

// GetNode retrieves a node by ID. Returns nil when the node is unknown.
func (s *Store) GetNode(ctx context.Context, id string) (*types.Node, error) {
	n, err := scanNode(s.pool.QueryRow(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNodes returns all nodes, optionally restricted to active ones.
// Deactivated nodes are kept forever so history survives removal.
func (s *Store) ListNodes(ctx context.Context, activeOnly bool) ([]types.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY display_name, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// MaxLastSeen returns the most recent last_seen across all nodes, or nil
// when no node has ever been discovered. Used as "time of last sync".
func (s *Store) MaxLastSeen(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(last_seen_at) FROM nodes`).Scan(&t); err != nil {
		return nil, err
	}
	return t, nil
}

// ApplyReconciliation commits one reconciliation cycle atomically: node
// creates, field refreshes, deactivations, and the corresponding lifecycle
// events all land together or not at all.
func (s *Store) ApplyReconciliation(ctx context.Context, batch types.ReconciliationBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconciliation: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range batch.Creates {
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, display_name, ip_address, maintenance_mode, first_seen_at, last_seen_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		`, n.ID, n.DisplayName, n.IPAddress, n.MaintenanceMode, n.FirstSeenAt, n.LastSeenAt)
		if err != nil {
			return fmt.Errorf("inserting node %s: %w", n.ID, err)
		}
	}

	for _, n := range batch.Updates {
		_, err := tx.Exec(ctx, `
			UPDATE nodes SET
				display_name = $2,
				ip_address = $3,
				maintenance_mode = $4,
				last_seen_at = $5,
				active = TRUE,
				updated_at = NOW()
			WHERE id = $1
		`, n.ID, n.DisplayName, n.IPAddress, n.MaintenanceMode, n.LastSeenAt)
		if err != nil {
			return fmt.Errorf("updating node %s: %w", n.ID, err)
		}
	}

	for _, id := range batch.Deactivates {
		_, err := tx.Exec(ctx, `
			UPDATE nodes SET active = FALSE, updated_at = NOW() WHERE id = $1
		`, id)
		if err != nil {
			return fmt.Errorf("deactivating node %s: %w", id, err)
		}
	}

	for _, ev := range batch.Events {
		_, err := tx.Exec(ctx, `
			INSERT INTO node_events (id, node_id, event_type, display_name, ip_address, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ev.ID, ev.NodeID, ev.Type, ev.DisplayName, ev.IPAddress, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting %s event for node %s: %w", ev.Type, ev.NodeID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListEvents returns the lifecycle event log, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]types.NodeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, node_id, event_type, display_name, ip_address, created_at
		FROM node_events ORDER BY created_at DESC, id LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.NodeEvent
	for rows.Next() {
		var ev types.NodeEvent
		if err := rows.Scan(&ev.ID, &ev.NodeID, &ev.Type, &ev.DisplayName, &ev.IPAddress, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
