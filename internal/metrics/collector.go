// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures,omitempty"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64 `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64 `json:"total_output_tokens,omitempty"`
}

// Snapshot is the collector state at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Operations    map[string]*OperationSnapshot `json:"operations"`
}

// Operation names for the collector.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	OpDBUpsert    = "db_upsert"
	OpDBQuery     = "db_query"

	stepPrefix = "step:"
)

// StepOp returns the operation name used for an orchestrator step.
func StepOp(step string) string {
	return stepPrefix + step
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and a nil *Collector discards everything.
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

func (m *OperationMetrics) observe(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).observe(duration)
}

// RecordFailure records a failed call of an operation, including its timing.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.Failures++
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// Time starts a timer for op; calling the returned func records it.
//
//	defer collector.Time(metrics.OpDBQuery)()
func (c *Collector) Time(op string) func() {
	start := time.Now()
	return func() { c.RecordTiming(op, time.Since(start)) }
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if m.TotalInputTokens > 0 || m.TotalOutputTokens > 0 {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{Operations: map[string]*OperationSnapshot{}}
	if c == nil {
		return snap
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap.UptimeSeconds = time.Since(c.startTime).Seconds()
	for op, m := range c.ops {
		if s := snapshotOp(m); s != nil {
			snap.Operations[op] = s
		}
	}
	return snap
}

// Steps returns the names of the steps that have timings, sorted.
func (s Snapshot) Steps() []string {
	var out []string
	for op := range s.Operations {
		if name, ok := strings.CutPrefix(op, stepPrefix); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Map renders the snapshot as a generic map for embedding in JSON documents.
func (s Snapshot) Map() map[string]any {
	ops := make(map[string]any, len(s.Operations))
	for op, o := range s.Operations {
		entry := map[string]any{
			"count":         o.Count,
			"total_time_ms": o.TotalTimeMs,
			"avg_time_ms":   o.AvgTimeMs,
			"min_time_ms":   o.MinTimeMs,
			"max_time_ms":   o.MaxTimeMs,
		}
		if o.Failures > 0 {
			entry["failures"] = o.Failures
		}
		if o.TotalInputTokens != nil {
			entry["total_input_tokens"] = *o.TotalInputTokens
			entry["total_output_tokens"] = *o.TotalOutputTokens
		}
		ops[op] = entry
	}
	return map[string]any{
		"uptime_seconds": s.UptimeSeconds,
		"operations":     ops,
	}
}
