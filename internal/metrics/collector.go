// Package metrics provides in-memory runtime statistics and Prometheus
// export for the ingestion pipeline.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for inference operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	TotalInputTokens  *int64
	TotalOutputTokens *int64
}

// Snapshot represents full pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds      float64
	Fetch              *OperationSnapshot
	StructureAnalysis  *OperationSnapshot
	TargetedExtraction *OperationSnapshot
	FallbackParse      *OperationSnapshot
	Matching           *OperationSnapshot
}

// Operation names for the collector.
const (
	OpFetch              = "fetch"
	OpStructureAnalysis  = "structure_analysis"
	OpTargetedExtraction = "targeted_extraction"
	OpFallbackParse      = "fallback_parse"
	OpMatching           = "matching"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordInference records timing and token usage for an inference operation.
func (c *Collector) RecordInference(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
		Fetch:              snapshotOp(c.ops[OpFetch], false),
		StructureAnalysis:  snapshotOp(c.ops[OpStructureAnalysis], true),
		TargetedExtraction: snapshotOp(c.ops[OpTargetedExtraction], true),
		FallbackParse:      snapshotOp(c.ops[OpFallbackParse], true),
		Matching:           snapshotOp(c.ops[OpMatching], false),
	}
}
