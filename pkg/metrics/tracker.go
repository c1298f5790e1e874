// Package metrics provides batch-run performance bookkeeping: raw duration
// accumulation with derived throughput and percentile statistics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// BatchMetrics is a derived snapshot over the current batch window.
type BatchMetrics struct {
	TasksCompleted int           `json:"tasks_completed"`
	Errors         int           `json:"errors"`
	Retries        int           `json:"retries"`
	SuccessRate    float64       `json:"success_rate"`
	ErrorRate      float64       `json:"error_rate"`
	Throughput     float64       `json:"throughput"` // tasks per second
	AvgDuration    time.Duration `json:"avg_duration"`
	P50            time.Duration `json:"p50"`
	P95            time.Duration `json:"p95"`
	P99            time.Duration `json:"p99"`
	Elapsed        time.Duration `json:"elapsed"`
}

// PerformanceTracker accumulates per-task results for one batch window.
// Everything in Metrics is computed from the raw accumulated slices; there
// are no incremental counters to drift out of sync.
type PerformanceTracker struct {
	mu         sync.Mutex
	batchStart time.Time
	durations  []time.Duration
	retries    int
	errors     int
}

// NewPerformanceTracker returns a tracker with an open batch window.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{batchStart: time.Now()}
}

// StartBatch resets all accumulators and opens a fresh window.
func (t *PerformanceTracker) StartBatch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.batchStart = time.Now()
	t.durations = t.durations[:0]
	t.retries = 0
	t.errors = 0
}

// RecordTask folds one task result into the current window.
func (t *PerformanceTracker) RecordTask(duration time.Duration, retries int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.durations = append(t.durations, duration)
	t.retries += retries
	if err != nil {
		t.errors++
	}
}

// Metrics derives a snapshot from the accumulated raw data.
func (t *PerformanceTracker) Metrics() BatchMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.batchStart)
	m := BatchMetrics{
		TasksCompleted: len(t.durations),
		Errors:         t.errors,
		Retries:        t.retries,
		Elapsed:        elapsed,
	}

	if len(t.durations) == 0 {
		return m
	}

	m.ErrorRate = float64(t.errors) / float64(len(t.durations))
	m.SuccessRate = 1 - m.ErrorRate
	if elapsed > 0 {
		m.Throughput = float64(len(t.durations)) / elapsed.Seconds()
	}

	var total time.Duration
	sorted := make([]time.Duration, len(t.durations))
	copy(sorted, t.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, d := range sorted {
		total += d
	}

	m.AvgDuration = total / time.Duration(len(sorted))
	m.P50 = percentile(sorted, 50)
	m.P95 = percentile(sorted, 95)
	m.P99 = percentile(sorted, 99)

	return m
}

// percentile indexes a sorted slice at ceil(p/100*n)-1, clamped to >= 0.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
