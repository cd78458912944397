package store

import (
	"context"
	"fmt"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// =============================================================================
// NOTIFICATION RECORDS
// =============================================================================

// NotifiedNodeIDs returns the set of node ids already recorded for the given
// tier on the given UTC calendar day.
func (s *Store) NotifiedNodeIDs(ctx context.Context, tier types.Severity, day string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id FROM notifications_sent WHERE tier = $1 AND sent_on = $2
	`, tier, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notified := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		notified[id] = true
	}
	return notified, rows.Err()
}

// RecordNotifications writes one dedup record per notified node in a single
// transaction. Called only after the sink confirmed delivery; the unique
// constraint on (node_id, tier, sent_on) backstops concurrent sweeps.
func (s *Store) RecordNotifications(ctx context.Context, records []types.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin notification records: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO notifications_sent (id, node_id, tier, sent_on, sent_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (node_id, tier, sent_on) DO NOTHING
		`, r.ID, r.NodeID, r.Tier, r.SentOn, r.SentAt)
		if err != nil {
			return fmt.Errorf("recording notification for node %s: %w", r.NodeID, err)
		}
	}

	return tx.Commit(ctx)
}
