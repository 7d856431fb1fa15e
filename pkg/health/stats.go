package health

import (
	"sync"

	"github.com/cuemby/vanguard/pkg/types"
)

// StatsRegistry holds the aggregate {total, success, fail} counters and
// {max, min, sum} durations for every backend's health probes, updated on
// every probe attempt, retries included. The record's SkipCount and
// RetryCount fields are never incremented and stay zero. It is
// the shared-memory record a separate component (pkg/api) formats for
// external readers, following the teacher's pkg/metrics/health.go
// pattern of a small mutex-guarded map behind a typed API rather than
// exposing Prometheus vectors directly to callers.
type StatsRegistry struct {
	mu      sync.RWMutex
	records map[int]types.HealthStatsRecord
}

// NewStatsRegistry builds an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{records: make(map[int]types.HealthStatsRecord)}
}

func (r *StatsRegistry) register(nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[nodeID]; !ok {
		r.records[nodeID] = types.HealthStatsRecord{NodeID: nodeID}
	}
}

// record folds one probe Result into the node's running statistics.
func (r *StatsRegistry) record(nodeID int, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.records[nodeID]
	rec.NodeID = nodeID
	rec.TotalCount++
	if result.Healthy {
		rec.SuccessCount++
	} else {
		rec.FailCount++
	}
	if rec.MinDuration == 0 || result.Duration < rec.MinDuration {
		rec.MinDuration = result.Duration
	}
	if result.Duration > rec.MaxDuration {
		rec.MaxDuration = result.Duration
	}
	rec.SumDuration += result.Duration
	rec.LastCheck = result.CheckedAt
	rec.LastResult = result.Healthy
	rec.LastMessage = result.Message
	r.records[nodeID] = rec
}

// Snapshot returns a copy of every node's statistics, safe to read
// without holding any lock.
func (r *StatsRegistry) Snapshot() map[int]types.HealthStatsRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]types.HealthStatsRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// Get returns one node's statistics record.
func (r *StatsRegistry) Get(nodeID int) (types.HealthStatsRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[nodeID]
	return rec, ok
}
