// Package metrics provides rolling latency windows with percentile stats.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Rolling Latency Window
// =============================================================================

// LatencyTracker keeps the most recent samples in insertion order.
// The oldest sample is evicted once the window is full.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []int64 // microseconds, ring buffer
	next    int
	full    bool
	sum     int64
}

// NewLatencyTracker creates a tracker keeping windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]int64, windowSize)}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	micros := d.Microseconds()
	if lt.full {
		lt.sum -= lt.samples[lt.next]
	}
	lt.samples[lt.next] = micros
	lt.sum += micros

	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
}

func (lt *LatencyTracker) count() int {
	if lt.full {
		return len(lt.samples)
	}
	return lt.next
}

// Count returns the number of samples in the window.
func (lt *LatencyTracker) Count() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.count()
}

// Average returns the mean of the window and false when it is empty.
func (lt *LatencyTracker) Average() (time.Duration, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	n := lt.count()
	if n == 0 {
		return 0, false
	}
	return time.Duration(lt.sum/int64(n)) * time.Microsecond, true
}

// Stats returns latency statistics including percentiles.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.RLock()
	n := lt.count()
	sorted := make([]int64, n)
	copy(sorted, lt.samples[:n])
	sum := lt.sum
	lt.mu.RUnlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Count: int64(n),
		Min:   us(sorted[0]),
		Max:   us(sorted[n-1]),
		Avg:   us(sum / int64(n)),
		P50:   us(percentile(sorted, 0.50)),
		P95:   us(percentile(sorted, 0.95)),
		P99:   us(percentile(sorted, 0.99)),
	}
}

func percentile(sorted []int64, p float64) int64 {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Reset clears all samples.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.next = 0
	lt.full = false
	lt.sum = 0
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// ToMap renders the stats in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":  s.Count,
		"min_ms": ms(s.Min),
		"max_ms": ms(s.Max),
		"avg_ms": ms(s.Avg),
		"p50_ms": ms(s.P50),
		"p95_ms": ms(s.P95),
		"p99_ms": ms(s.P99),
	}
}

// =============================================================================
// Named Registry
// =============================================================================

// LatencyRegistry manages trackers keyed by operation name.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates a new latency registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record records a latency for the given name.
func (r *LatencyRegistry) Record(name string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[name]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[name] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// AllStats returns latency statistics for every name.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}

var (
	globalRegistry     *LatencyRegistry
	globalRegistryOnce sync.Once
)

// GlobalRegistry returns the process-wide registry.
func GlobalRegistry() *LatencyRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewLatencyRegistry(1000)
	})
	return globalRegistry
}

// RecordLatency records to the global registry.
func RecordLatency(name string, d time.Duration) {
	GlobalRegistry().Record(name, d)
}
