package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// Store defines the storage operations the notifier needs.
type Store interface {
	// LatestSuccessfulChecks returns each active node paired with its most
	// recent successful check.
	LatestSuccessfulChecks(ctx context.Context) ([]types.NodeCheck, error)

	// NotifiedNodeIDs returns the node ids already notified for a tier on a
	// UTC calendar day.
	NotifiedNodeIDs(ctx context.Context, tier types.Severity, day string) (map[string]bool, error)

	// RecordNotifications persists dedup records for a confirmed delivery.
	RecordNotifications(ctx context.Context, records []types.NotificationRecord) error
}

// tierOrder lists severity tiers worst-first, the order sweeps report in.
var tierOrder = []types.Severity{types.SeverityExpired, types.SeverityCritical, types.SeverityWarning}

// Notifier runs notification sweeps and sends fleet lifecycle notices.
type Notifier struct {
	store       Store
	sink        Sink
	warningDays int
	logger      *slog.Logger
	now         func() time.Time
}

// NewNotifier creates a notifier. warningDays is the outer boundary of the
// warning tier; the expired and critical boundaries are fixed.
func NewNotifier(store Store, sink Sink, warningDays int, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:       store,
		sink:        sink,
		warningDays: warningDays,
		logger:      logger.With("component", "notifier"),
		now:         time.Now,
	}
}

// Sweep classifies the latest successful checks into tiers and sends one
// batched message per tier that has unnotified nodes. Tiers are independent:
// a delivery failure in one tier is logged and skipped, and its nodes stay
// unrecorded so the next sweep retries them.
func (n *Notifier) Sweep(ctx context.Context) error {
	checks, err := n.store.LatestSuccessfulChecks(ctx)
	if err != nil {
		return fmt.Errorf("loading latest checks: %w", err)
	}

	buckets := make(map[types.Severity][]types.NodeCheck)
	for _, nc := range checks {
		if nc.Check.DaysRemaining == nil {
			continue
		}
		tier, ok := types.ClassifySeverity(*nc.Check.DaysRemaining, n.warningDays)
		if !ok {
			continue
		}
		buckets[tier] = append(buckets[tier], nc)
	}

	if len(buckets) == 0 {
		n.logger.Info("notification sweep found no expiring certificates", "checked", len(checks))
		return nil
	}

	if !n.sink.Enabled() {
		n.logger.Warn("notification sink not configured, skipping delivery",
			"expired", len(buckets[types.SeverityExpired]),
			"critical", len(buckets[types.SeverityCritical]),
			"warning", len(buckets[types.SeverityWarning]),
		)
		return nil
	}

	now := n.now().UTC()
	day := now.Format("2006-01-02")
	var failed []string

	for _, tier := range tierOrder {
		candidates := buckets[tier]
		if len(candidates) == 0 {
			continue
		}

		notified, err := n.store.NotifiedNodeIDs(ctx, tier, day)
		if err != nil {
			return fmt.Errorf("loading %s dedup records: %w", tier, err)
		}

		var pending []types.NodeCheck
		for _, nc := range candidates {
			if !notified[nc.Node.ID] {
				pending = append(pending, nc)
			}
		}
		if len(pending) == 0 {
			n.logger.Debug("tier already notified today", "tier", tier, "day", day)
			continue
		}

		if err := n.sink.Send(ctx, formatTierMessage(tier, pending)); err != nil {
			n.logger.Error("tier notification failed",
				"tier", tier,
				"nodes", len(pending),
				"error", err,
			)
			failed = append(failed, string(tier))
			continue
		}

		records := make([]types.NotificationRecord, 0, len(pending))
		for _, nc := range pending {
			records = append(records, types.NotificationRecord{
				ID:     uuid.New().String(),
				NodeID: nc.Node.ID,
				Tier:   tier,
				SentOn: day,
				SentAt: now,
			})
		}
		if err := n.store.RecordNotifications(ctx, records); err != nil {
			return fmt.Errorf("recording %s notifications: %w", tier, err)
		}

		n.logger.Info("tier notification sent", "tier", tier, "nodes", len(pending))
	}

	if len(failed) > 0 {
		return fmt.Errorf("notification delivery failed for tiers: %s", strings.Join(failed, ", "))
	}
	return nil
}

// SendLifecycle announces fleet membership changes from one reconciliation
// cycle. Lifecycle notices are not deduplicated: each transition happens once.
func (n *Notifier) SendLifecycle(ctx context.Context, added, removed []types.Node) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	if !n.sink.Enabled() {
		n.logger.Warn("notification sink not configured, skipping lifecycle notice",
			"added", len(added),
			"removed", len(removed),
		)
		return nil
	}

	var b strings.Builder
	if len(added) > 0 {
		fmt.Fprintf(&b, "➕ <b>New edge nodes (%d)</b>\n", len(added))
		for _, node := range added {
			fmt.Fprintf(&b, "• %s (%s)\n", node.DisplayName, node.IPAddress)
		}
	}
	if len(removed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "➖ <b>Removed edge nodes (%d)</b>\n", len(removed))
		for _, node := range removed {
			fmt.Fprintf(&b, "• %s (%s)\n", node.DisplayName, node.IPAddress)
		}
	}

	if err := n.sink.Send(ctx, strings.TrimRight(b.String(), "\n")); err != nil {
		return fmt.Errorf("sending lifecycle notice: %w", err)
	}
	n.logger.Info("lifecycle notice sent", "added", len(added), "removed", len(removed))
	return nil
}

func formatTierMessage(tier types.Severity, nodes []types.NodeCheck) string {
	var b strings.Builder

	switch tier {
	case types.SeverityExpired:
		fmt.Fprintf(&b, "❌ <b>EXPIRED certificates (%d)</b>\n", len(nodes))
	case types.SeverityCritical:
		fmt.Fprintf(&b, "🚨 <b>Certificates expiring within 7 days (%d)</b>\n", len(nodes))
	default:
		fmt.Fprintf(&b, "⚠️ <b>Certificates expiring soon (%d)</b>\n", len(nodes))
	}

	for _, nc := range nodes {
		days := *nc.Check.DaysRemaining
		switch {
		case days < 0:
			fmt.Fprintf(&b, "• %s (%s): expired %d days ago\n", nc.Node.DisplayName, nc.Node.IPAddress, -days)
		case days == 0:
			fmt.Fprintf(&b, "• %s (%s): expires today\n", nc.Node.DisplayName, nc.Node.IPAddress)
		default:
			fmt.Fprintf(&b, "• %s (%s): %d days remaining\n", nc.Node.DisplayName, nc.Node.IPAddress, days)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
