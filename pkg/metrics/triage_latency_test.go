package metrics

import (
	"testing"
	"time"
)

func TestLatencyTracker_AverageEmpty(t *testing.T) {
	lt := NewLatencyTracker(5)
	if _, ok := lt.Average(); ok {
		t.Error("Average() ok = true on empty tracker")
	}
}

func TestLatencyTracker_RollingWindow(t *testing.T) {
	lt := NewLatencyTracker(3)

	for _, ms := range []int{100, 200, 300, 400} {
		lt.Record(time.Duration(ms) * time.Millisecond)
	}

	// 100ms has been evicted
	avg, ok := lt.Average()
	if !ok {
		t.Fatal("Average() ok = false")
	}
	if avg != 300*time.Millisecond {
		t.Errorf("Average() = %v, want 300ms", avg)
	}
	if lt.Count() != 3 {
		t.Errorf("Count() = %d, want 3", lt.Count())
	}

	stats := lt.Stats()
	if stats.Min != 200*time.Millisecond || stats.Max != 400*time.Millisecond {
		t.Errorf("Stats() min/max = %v/%v", stats.Min, stats.Max)
	}
}

func TestLatencyTracker_StatsKeepsInsertionOrder(t *testing.T) {
	lt := NewLatencyTracker(2)
	lt.Record(500 * time.Millisecond)
	lt.Record(100 * time.Millisecond)
	_ = lt.Stats()
	lt.Record(300 * time.Millisecond)

	// the oldest sample (500ms) must be the one evicted
	avg, _ := lt.Average()
	if avg != 200*time.Millisecond {
		t.Errorf("Average() = %v, want 200ms", avg)
	}
}

func TestLatencyRegistry(t *testing.T) {
	r := NewLatencyRegistry(10)
	r.Record("openai", 10*time.Millisecond)
	r.Record("openai", 30*time.Millisecond)
	r.Record("anthropic", 5*time.Millisecond)

	all := r.AllStats()
	if len(all) != 2 {
		t.Fatalf("AllStats() len = %d, want 2", len(all))
	}
	if all["openai"].Avg != 20*time.Millisecond {
		t.Errorf("openai avg = %v, want 20ms", all["openai"].Avg)
	}
}
