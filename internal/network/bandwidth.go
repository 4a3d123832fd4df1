// Package network provides the abstract HTTP transport capability the
// scheduler depends on, bandwidth shaping, and link speed calibration.
package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Priority levels accepted by BandwidthManager.SetJobPriority.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

// BandwidthManager applies an optional global speed limit with zero
// overhead when disabled, and lets individual jobs yield bandwidth to
// higher-priority ones.
type BandwidthManager struct {
	globalLimiter *rate.Limiter
	limitEnabled  atomic.Bool
	mu            sync.RWMutex

	// Map of jobID -> priority level (PriorityLow/Normal/High).
	jobPriorities map[string]int
}

// NewBandwidthManager returns a manager with no limit configured.
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		globalLimiter: rate.NewLimiter(rate.Inf, 0),
		jobPriorities: make(map[string]int),
	}
}

// SetLimit sets the global limit in bytes/sec; 0 disables it.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.globalLimiter.SetLimit(rate.Inf)
		return
	}
	bm.limitEnabled.Store(true)
	bm.globalLimiter.SetLimit(rate.Limit(bytesPerSec))
	bm.globalLimiter.SetBurst(bytesPerSec) // allow a 1s burst
}

// SetJobPriority assigns a priority tier to jobID.
func (bm *BandwidthManager) SetJobPriority(jobID string, priority int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.jobPriorities[jobID] = priority
}

// Wait blocks until n bytes may be consumed under the global limit,
// returning immediately if no limit is configured.
func (bm *BandwidthManager) Wait(ctx context.Context, jobID string, n int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}

	bm.mu.RLock()
	priority, ok := bm.jobPriorities[jobID]
	bm.mu.RUnlock()
	if !ok {
		priority = PriorityNormal
	}

	if err := bm.globalLimiter.WaitN(ctx, n); err != nil {
		return err
	}

	if priority == PriorityLow {
		// Yield to higher-priority jobs under contention.
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
