// Package types defines the domain types shared between the store, the
// background jobs, and the API layer.
package types

import "time"

// DiscoveredNode is one edge transport node as reported by the NSX manager
// in a single inventory poll. It carries only the fields the manager owns.
type DiscoveredNode struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	IPAddress       string `json:"ip_address"`
	MaintenanceMode string `json:"maintenance_mode"`
}

// Node is a monitored edge transport node. Rows are never hard-deleted:
// Active flips false when the node disappears from an inventory snapshot and
// true again when it reappears, so check and event history survives.
type Node struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	IPAddress       string    `json:"ip_address"`
	MaintenanceMode string    `json:"maintenance_mode"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CheckStatus is the outcome class of one certificate probe.
type CheckStatus string

const (
	CheckSuccess   CheckStatus = "success"
	CheckError     CheckStatus = "error"      // command failed or output unparseable
	CheckSSHFailed CheckStatus = "ssh_failed" // transport or auth failure
	CheckTimeout   CheckStatus = "timeout"    // connect, handshake, or command deadline
)

// CheckResult is one certificate probe against one node. CertExpiry and
// DaysRemaining are set only for CheckSuccess; ErrorDetail only otherwise.
// DaysRemaining may be negative: an expired certificate is still a
// successful check.
type CheckResult struct {
	ID            int64       `json:"id"`
	NodeID        string      `json:"node_id"`
	Status        CheckStatus `json:"status"`
	CertExpiry    *time.Time  `json:"cert_expiry,omitempty"`
	DaysRemaining *int        `json:"days_remaining,omitempty"`
	ErrorDetail   string      `json:"error_detail,omitempty"`
	CheckedAt     time.Time   `json:"checked_at"`
}

// EventType classifies a node lifecycle event.
type EventType string

const (
	EventAdded      EventType = "added"
	EventReappeared EventType = "reappeared"
	EventRemoved    EventType = "removed"
)

// NodeEvent is an append-only lifecycle audit record. DisplayName and
// IPAddress are denormalized snapshots taken at event time, so the trail
// stays meaningful after the node row is refreshed.
type NodeEvent struct {
	ID          string    `json:"id"`
	NodeID      string    `json:"node_id"`
	Type        EventType `json:"event_type"`
	DisplayName string    `json:"display_name"`
	IPAddress   string    `json:"ip_address"`
	CreatedAt   time.Time `json:"created_at"`
}

// Severity is a certificate-expiry notification tier.
type Severity string

const (
	SeverityExpired  Severity = "expired"
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Level returns a numeric rank for ordering tiers worst-first.
func (s Severity) Level() int {
	switch s {
	case SeverityExpired:
		return 3
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ClassifySeverity buckets a days-remaining value into a tier. Precedence is
// expired, then critical, then warning; first match wins, so a certificate
// with exactly 0 days left is expired, not critical. The second return is
// false when the certificate is outside every tier.
func ClassifySeverity(daysRemaining, warningDays int) (Severity, bool) {
	switch {
	case daysRemaining <= 0:
		return SeverityExpired, true
	case daysRemaining <= 7:
		return SeverityCritical, true
	case daysRemaining <= warningDays:
		return SeverityWarning, true
	}
	return "", false
}

// NotificationRecord marks that one node was included in a sent notification
// for a tier on a given UTC calendar day. The (NodeID, Tier, SentOn) triple
// is unique at the database level; existence of a row is the sole dedup
// signal.
type NotificationRecord struct {
	ID     string    `json:"id"`
	NodeID string    `json:"node_id"`
	Tier   Severity  `json:"tier"`
	SentOn string    `json:"sent_on"` // YYYY-MM-DD, UTC
	SentAt time.Time `json:"sent_at"`
}

// NodeCheck pairs an active node with its most recent successful check.
type NodeCheck struct {
	Node  Node        `json:"node"`
	Check CheckResult `json:"check"`
}

// ReconciliationBatch is the write set produced by diffing an inventory
// snapshot against the persisted node set. The store applies the whole batch
// in one transaction; partial application is never visible.
type ReconciliationBatch struct {
	Creates     []Node      // brand-new nodes, active, first_seen = last_seen = now
	Updates     []Node      // existing nodes with refreshed fields (includes reappearances)
	Deactivates []string    // node ids flipping active=false
	Events      []NodeEvent // lifecycle events for creates, reappearances, removals
}

// Empty reports whether applying the batch would write nothing.
func (b ReconciliationBatch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Updates) == 0 && len(b.Deactivates) == 0 && len(b.Events) == 0
}

// JobState is the scheduler state of one background job.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
)

// JobStatus describes the last known run of a scheduled job.
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	State        JobState      `json:"state"`
	LastStarted  *time.Time    `json:"last_started,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

// FleetOverview is the aggregate dashboard summary.
type FleetOverview struct {
	TotalNodes   int        `json:"total_nodes"`
	ActiveNodes  int        `json:"active_nodes"`
	ExpiredCerts int        `json:"expired_certs"`
	ExpiringSoon int        `json:"expiring_soon"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}
