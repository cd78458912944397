// Package metrics collects process and database health for the health
// endpoint.
package metrics

import (
	"context"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shirou/gopsutil/v3/process"
)

// DB is the slice of the store the collector needs.
type DB interface {
	Ping(ctx context.Context) error
	Pool() *pgxpool.Pool
}

// Health is the full health report served by the API.
type Health struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Server    ServerHealth   `json:"server"`
	Database  DatabaseHealth `json:"database"`
}

// ServerHealth describes the monitoring process itself.
type ServerHealth struct {
	Status        string  `json:"status"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// DatabaseHealth describes the connection pool and reachability.
type DatabaseHealth struct {
	Status              string `json:"status"`
	TotalConnections    int32  `json:"total_connections"`
	AcquiredConnections int32  `json:"acquired_connections"`
	IdleConnections     int32  `json:"idle_connections"`
	MaxConnections      int32  `json:"max_connections"`
}

// Collector gathers health metrics with a short cache so the endpoint stays
// cheap under dashboard polling.
type Collector struct {
	db        DB
	startTime time.Time

	mu            sync.RWMutex
	cachedHealth  *Health
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a health collector.
func NewCollector(db DB) *Collector {
	return &Collector{
		db:            db,
		startTime:     time.Now(),
		cacheDuration: 30 * time.Second,
	}
}

// GetHealth returns the current health report, cached for 30 seconds.
func (c *Collector) GetHealth(ctx context.Context) *Health {
	c.mu.RLock()
	if c.cachedHealth != nil && time.Now().Before(c.cacheExpiry) {
		health := *c.cachedHealth
		c.mu.RUnlock()
		return &health
	}
	c.mu.RUnlock()

	health := c.collect(ctx)

	c.mu.Lock()
	c.cachedHealth = health
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return health
}

func (c *Collector) collect(ctx context.Context) *Health {
	health := &Health{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Server:    c.collectServer(),
		Database:  c.collectDatabase(ctx),
	}
	if health.Server.Status != "healthy" || health.Database.Status != "healthy" {
		health.Status = "degraded"
	}
	return health
}

func (c *Collector) collectServer() ServerHealth {
	health := ServerHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = round2(cpu)
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = round2(float64(mem.RSS) / (1024 * 1024))
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = round2(float64(memPct))
		}
	}

	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}
	return health
}

func (c *Collector) collectDatabase(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "healthy"}
	if c.db == nil {
		health.Status = "error"
		return health
	}

	if err := c.db.Ping(ctx); err != nil {
		health.Status = "error"
		return health
	}

	stat := c.db.Pool().Stat()
	health.TotalConnections = stat.TotalConns()
	health.AcquiredConnections = stat.AcquiredConns()
	health.IdleConnections = stat.IdleConns()
	health.MaxConnections = stat.MaxConns()

	if health.MaxConnections > 2 && health.AcquiredConnections >= health.MaxConnections-2 {
		health.Status = "degraded"
	}
	return health
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
