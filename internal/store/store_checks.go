package store

import (
	"context"
	"fmt"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// =============================================================================
// CERTIFICATE CHECKS
// =============================================================================

// InsertCheckResults appends one cycle of probe results in a single
// transaction. History is append-only; rows are never updated.
func (s *Store) InsertCheckResults(ctx context.Context, results []types.CheckResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin check insert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		_, err := tx.Exec(ctx, `
			INSERT INTO certificate_checks (node_id, status, cert_expiry, days_remaining, error_detail, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.NodeID, r.Status, r.CertExpiry, r.DaysRemaining, nullIfEmpty(r.ErrorDetail), r.CheckedAt)
		if err != nil {
			return fmt.Errorf("inserting check for node %s: %w", r.NodeID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListChecksForNode returns a node's check history, newest first.
func (s *Store) ListChecksForNode(ctx context.Context, nodeID string, limit int) ([]types.CheckResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, node_id, status, cert_expiry, days_remaining, COALESCE(error_detail, ''), checked_at
		FROM certificate_checks
		WHERE node_id = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT $2
	`, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []types.CheckResult
	for rows.Next() {
		var c types.CheckResult
		if err := rows.Scan(&c.ID, &c.NodeID, &c.Status, &c.CertExpiry, &c.DaysRemaining, &c.ErrorDetail, &c.CheckedAt); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// LatestSuccessfulChecks returns, for each active node, its most recent
// successful check. Nodes with no successful check ever are absent from the
// result: no signal is not the same as a healthy certificate.
func (s *Store) LatestSuccessfulChecks(ctx context.Context) ([]types.NodeCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (n.id)
			n.id, n.display_name, n.ip_address, n.maintenance_mode,
			n.first_seen_at, n.last_seen_at, n.active, n.created_at, n.updated_at,
			c.id, c.node_id, c.status, c.cert_expiry, c.days_remaining, COALESCE(c.error_detail, ''), c.checked_at
		FROM nodes n
		JOIN certificate_checks c ON c.node_id = n.id
		WHERE n.active AND c.status = 'success'
		ORDER BY n.id, c.checked_at DESC, c.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.NodeCheck
	for rows.Next() {
		var nc types.NodeCheck
		if err := rows.Scan(
			&nc.Node.ID, &nc.Node.DisplayName, &nc.Node.IPAddress, &nc.Node.MaintenanceMode,
			&nc.Node.FirstSeenAt, &nc.Node.LastSeenAt, &nc.Node.Active, &nc.Node.CreatedAt, &nc.Node.UpdatedAt,
			&nc.Check.ID, &nc.Check.NodeID, &nc.Check.Status, &nc.Check.CertExpiry,
			&nc.Check.DaysRemaining, &nc.Check.ErrorDetail, &nc.Check.CheckedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// FleetOverview computes the aggregate dashboard summary.
func (s *Store) FleetOverview(ctx context.Context, warningDays int) (*types.FleetOverview, error) {
	var ov types.FleetOverview
	err := s.pool.QueryRow(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (node_id) node_id, days_remaining
			FROM certificate_checks
			WHERE status = 'success'
			ORDER BY node_id, checked_at DESC, id DESC
		)
		SELECT
			(SELECT COUNT(*) FROM nodes),
			(SELECT COUNT(*) FROM nodes WHERE active),
			(SELECT COUNT(*) FROM latest l JOIN nodes n ON n.id = l.node_id WHERE n.active AND l.days_remaining <= 0),
			(SELECT COUNT(*) FROM latest l JOIN nodes n ON n.id = l.node_id WHERE n.active AND l.days_remaining > 0 AND l.days_remaining <= $1),
			(SELECT MAX(last_seen_at) FROM nodes)
	`, warningDays).Scan(&ov.TotalNodes, &ov.ActiveNodes, &ov.ExpiredCerts, &ov.ExpiringSoon, &ov.LastSyncAt)
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
