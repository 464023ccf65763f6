package monitoring

import (
	"sync"
	"time"

	"github.com/rslifka/elasticity-sub000/core/models"
)

// CostTracker accrues the running cost of job flows from their hourly
// rate and the time they have been up. It is safe for concurrent use.
type CostTracker struct {
	mu    sync.RWMutex
	costs map[string]*JobFlowCost
	now   func() time.Time
}

// JobFlowCost tracks cost for a single job flow
type JobFlowCost struct {
	JobFlowID     string
	HourlyCostUSD float64
	RunningCost   float64
	LastUpdate    time.Time
}

// NewCostTracker creates a new cost tracker
func NewCostTracker() *CostTracker {
	return &CostTracker{
		costs: make(map[string]*JobFlowCost),
		now:   time.Now,
	}
}

// TrackJobFlow starts tracking cost for a job flow at hourlyUSD
func (ct *CostTracker) TrackJobFlow(jobFlowID string, hourlyUSD float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.costs[jobFlowID] = &JobFlowCost{
		JobFlowID:     jobFlowID,
		HourlyCostUSD: hourlyUSD,
	}
}

// StopTracking stops tracking a job flow
func (ct *CostTracker) StopTracking(jobFlowID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	delete(ct.costs, jobFlowID)
}

// Observe updates the running cost from a status. Billing runs from
// creation until the job flow ends, or until now while it is active.
func (ct *CostTracker) Observe(status *models.ClusterStatus) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cost, ok := ct.costs[status.ClusterID]
	if !ok || status.CreatedAt.IsZero() {
		return 0
	}

	end := status.EndedAt
	if end.IsZero() {
		end = ct.now()
	}
	hours := end.Sub(status.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	cost.RunningCost = cost.HourlyCostUSD * hours
	cost.LastUpdate = ct.now()
	return cost.RunningCost
}

// GetRunningCost returns the current running cost for a job flow
func (ct *CostTracker) GetRunningCost(jobFlowID string) float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	cost, ok := ct.costs[jobFlowID]
	if !ok {
		return 0.0
	}
	return cost.RunningCost
}
