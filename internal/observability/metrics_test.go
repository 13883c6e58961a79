package observability

import (
	"testing"
)

func TestNewMetricsCollector(t *testing.T) {
	c := NewMetricsCollector(100)
	if c.Len() != 0 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestNewMetricsCollector_ZeroSize(t *testing.T) {
	c := NewMetricsCollector(0) // Should default.
	if c.maxSize != 10000 {
		t.Errorf("maxSize = %d, want 10000", c.maxSize)
	}
}

func TestMetricsCollector_Record(t *testing.T) {
	c := NewMetricsCollector(100)
	c.Record(CounterWrites, 1, Labels{"key": ".openclaw/a.json"})
	c.Record(CounterWrites, 1, Labels{"key": ".openclaw/b.json"})
	c.Record(CounterReads, 1, nil)

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestMetricsCollector_Record_RingBuffer(t *testing.T) {
	c := NewMetricsCollector(3) // Tiny buffer.

	for i := 0; i < 5; i++ {
		c.Record(CounterReads, float64(i), nil)
	}

	// Should have only 3 most recent.
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if c.points[0].Value != 2 {
		t.Errorf("oldest = %f, want 2", c.points[0].Value)
	}
	if c.points[2].Value != 4 {
		t.Errorf("newest = %f, want 4", c.points[2].Value)
	}
}

func TestMetricsCollector_Counter(t *testing.T) {
	c := NewMetricsCollector(100)

	c.Increment(CounterReads)
	c.Increment(CounterReads)
	c.Increment(CounterAsyncFailures)
	c.IncrementBy(CounterWrites, 300)

	if c.Counter(CounterReads) != 2 {
		t.Errorf("reads = %d", c.Counter(CounterReads))
	}
	if c.Counter(CounterAsyncFailures) != 1 {
		t.Errorf("async failures = %d", c.Counter(CounterAsyncFailures))
	}
	if c.Counter(CounterWrites) != 300 {
		t.Errorf("writes = %d", c.Counter(CounterWrites))
	}
	if c.Counter("missing") != 0 {
		t.Errorf("missing counter = %d", c.Counter("missing"))
	}
}

func TestMetricsCollector_Reset(t *testing.T) {
	c := NewMetricsCollector(100)
	c.Record(CounterReads, 0.5, nil)
	c.Increment(CounterReads)

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after reset = %d", c.Len())
	}
	if c.Counter(CounterReads) != 0 {
		t.Errorf("Counter after reset = %d", c.Counter(CounterReads))
	}
}

func TestMetricsCollector_Snapshot(t *testing.T) {
	c := NewMetricsCollector(100)
	c.Increment("a")
	c.IncrementBy("b", 5)

	snap := c.Snapshot()
	if snap["a"] != 1 {
		t.Errorf("a = %d", snap["a"])
	}
	if snap["b"] != 5 {
		t.Errorf("b = %d", snap["b"])
	}

	// Modifying snapshot shouldn't affect collector.
	snap["a"] = 999
	if c.Counter("a") != 1 {
		t.Errorf("Counter a changed after snapshot mutation")
	}
}

func TestCounterNames_Distinct(t *testing.T) {
	names := []string{
		CounterReads, CounterWrites, CounterDeletes, CounterUpdates,
		CounterAsyncFailures, CounterCacheReverts, CounterCacheMisses,
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate counter name: %s", n)
		}
		seen[n] = true
	}
}
