package metrics

import (
	"context"
	"testing"
	"time"
)

func TestCollectServerReportsProcessMetrics(t *testing.T) {
	c := NewCollector(nil)

	health := c.collectServer()
	if health.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", health.Goroutines)
	}
	if health.UptimeSeconds < 0 {
		t.Errorf("uptime = %d, want >= 0", health.UptimeSeconds)
	}
}

func TestGetHealthCaches(t *testing.T) {
	c := NewCollector(nil)

	first := c.GetHealth(context.Background())
	second := c.GetHealth(context.Background())

	if !first.Timestamp.Equal(second.Timestamp) {
		t.Error("second call within the cache window must serve the cached report")
	}

	c.mu.Lock()
	c.cacheExpiry = time.Now().Add(-time.Second)
	c.mu.Unlock()

	third := c.GetHealth(context.Background())
	if third.Timestamp.Equal(first.Timestamp) {
		t.Error("expired cache must trigger a fresh collection")
	}
}

func TestCollectDatabaseWithoutStore(t *testing.T) {
	c := NewCollector(nil)

	health := c.collectDatabase(context.Background())
	if health.Status != "error" {
		t.Errorf("status without a database = %s, want error", health.Status)
	}

	full := c.collect(context.Background())
	if full.Status != "degraded" {
		t.Errorf("overall status = %s, want degraded when the database errors", full.Status)
	}
}

func TestRound2(t *testing.T) {
	if got := round2(12.3456); got != 12.35 {
		t.Errorf("round2(12.3456) = %v", got)
	}
	if got := round2(0); got != 0 {
		t.Errorf("round2(0) = %v", got)
	}
}
