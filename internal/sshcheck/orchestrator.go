package sshcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

// CertProber checks one node's certificate. Implemented by Prober; test
// doubles implement it directly.
type CertProber interface {
	Check(ctx context.Context, target Target) types.CheckResult
}

// Orchestrator fans probes out across the fleet. Probes are independent: a
// slow or failing target never blocks or fails the others, and the result
// slice always has one entry per input target, in input order.
type Orchestrator struct {
	prober        CertProber
	maxConcurrent int // 0 = unbounded
	logger        *slog.Logger
}

// NewOrchestrator creates a check orchestrator.
func NewOrchestrator(prober CertProber, maxConcurrent int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		prober:        prober,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "check_orchestrator"),
	}
}

// CheckAll probes every target concurrently and waits for all to finish.
// A panic inside one probe is captured as an error-status result for that
// target only.
func (o *Orchestrator) CheckAll(ctx context.Context, targets []Target) []types.CheckResult {
	start := time.Now()
	results := make([]types.CheckResult, len(targets))

	var sem chan struct{}
	if o.maxConcurrent > 0 {
		sem = make(chan struct{}, o.maxConcurrent)
	}

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("probe panicked",
						"node_id", target.NodeID,
						"address", target.Address,
						"panic", r,
					)
					results[i] = types.CheckResult{
						NodeID:      target.NodeID,
						Status:      types.CheckError,
						ErrorDetail: fmt.Sprintf("probe panic: %v", r),
						CheckedAt:   time.Now().UTC(),
					}
				}
			}()

			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			results[i] = o.prober.Check(ctx, target)
		}(i, target)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r.Status == types.CheckSuccess {
			successes++
		}
	}
	o.logger.Info("certificate check batch complete",
		"duration", time.Since(start),
		"successes", successes,
		"total", len(results),
	)

	return results
}
