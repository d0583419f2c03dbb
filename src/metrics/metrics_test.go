package metrics_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"ultramatch/src/metrics"
)

func TestLatencyWatermarks(t *testing.T) {
	m := metrics.New()

	assert.Equal(t, uint64(0), m.MinLatencyNs(), "no samples yet")
	assert.Equal(t, uint64(0), m.MaxLatencyNs())
	assert.Equal(t, 0.0, m.AverageLatencyNs())

	m.RecordLatency(100)
	m.RecordLatency(300)
	m.RecordLatency(200)

	assert.Equal(t, uint64(100), m.MinLatencyNs())
	assert.Equal(t, uint64(300), m.MaxLatencyNs())
	assert.Equal(t, 200.0, m.AverageLatencyNs())
	assert.Equal(t, uint64(3), m.LatencySamples())
}

func TestLatencyConcurrentSamples(t *testing.T) {
	m := metrics.New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 1000; i++ {
				m.RecordLatency(uint64(g*1000 + i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), m.LatencySamples())
	assert.Equal(t, uint64(1), m.MinLatencyNs())
	assert.Equal(t, uint64(8000), m.MaxLatencyNs())
}

func TestSnapshotMirrorsCounters(t *testing.T) {
	m := metrics.New()
	m.OrdersProcessed.Add(10)
	m.TradesExecuted.Add(4)
	m.OrdersDropped.Add(2)
	m.RecordLatency(500)

	snap := m.Snapshot()
	assert.Equal(t, uint64(10), snap.OrdersProcessed)
	assert.Equal(t, uint64(4), snap.TradesExecuted)
	assert.Equal(t, uint64(2), snap.OrdersDropped)
	assert.Equal(t, uint64(500), snap.MinLatencyNs)
	assert.Equal(t, uint64(500), snap.MaxLatencyNs)
	assert.Equal(t, 500.0, snap.AvgLatencyNs)
}

func TestReset(t *testing.T) {
	m := metrics.New()
	m.OrdersProcessed.Add(10)
	m.RecordLatency(500)

	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.OrdersProcessed)
	assert.Equal(t, uint64(0), snap.LatencySamples)
	assert.Equal(t, uint64(0), snap.MinLatencyNs, "min resets to the no-sample sentinel")

	// watermarks must work again after a reset
	m.RecordLatency(42)
	assert.Equal(t, uint64(42), m.MinLatencyNs())
	assert.Equal(t, uint64(42), m.MaxLatencyNs())
}
