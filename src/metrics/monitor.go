package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultSampleInterval is how often the monitor samples runtime stats.
const DefaultSampleInterval = time.Second

// Monitor periodically samples runtime health (heap, goroutines) next to
// the engine counters and renders shutdown reports. It never touches the
// hot path; everything it reads is an atomic already maintained elsewhere.
type Monitor struct {
	metrics  *Metrics
	interval time.Duration

	runID     string
	startedAt time.Time

	heapBytes     atomic.Uint64
	peakHeapBytes atomic.Uint64
	goroutines    atomic.Int64

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(m *Metrics, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Monitor{
		metrics:  m,
		interval: interval,
		runID:    uuid.NewString(),
	}
}

// RunID identifies this engine run in reports and logs.
func (mon *Monitor) RunID() string { return mon.runID }

func (mon *Monitor) Start() error {
	if !mon.running.CompareAndSwap(false, true) {
		return nil
	}
	mon.startedAt = time.Now()
	mon.shutdown = make(chan struct{})
	mon.sample()

	mon.wg.Add(1)
	go mon.run()

	log.Info().
		Str("run_id", mon.runID).
		Dur("interval", mon.interval).
		Msg("Performance monitor started")
	return nil
}

func (mon *Monitor) Stop() {
	if !mon.running.CompareAndSwap(true, false) {
		return
	}
	close(mon.shutdown)
	mon.wg.Wait()
	mon.sample()
}

func (mon *Monitor) run() {
	defer mon.wg.Done()
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-mon.shutdown:
			return
		case <-ticker.C:
			mon.sample()
		}
	}
}

func (mon *Monitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	mon.heapBytes.Store(ms.HeapAlloc)
	for {
		peak := mon.peakHeapBytes.Load()
		if ms.HeapAlloc <= peak || mon.peakHeapBytes.CompareAndSwap(peak, ms.HeapAlloc) {
			break
		}
	}
	mon.goroutines.Store(int64(runtime.NumGoroutine()))
}

// HeapBytes returns the last sampled live heap size.
func (mon *Monitor) HeapBytes() uint64 { return mon.heapBytes.Load() }

// PeakHeapBytes returns the largest heap sample seen this run.
func (mon *Monitor) PeakHeapBytes() uint64 { return mon.peakHeapBytes.Load() }

// Goroutines returns the last sampled goroutine count.
func (mon *Monitor) Goroutines() int64 { return mon.goroutines.Load() }

// Uptime returns how long the monitor has been running.
func (mon *Monitor) Uptime() time.Duration {
	if mon.startedAt.IsZero() {
		return 0
	}
	return time.Since(mon.startedAt)
}

// LogSummary writes the end-of-run counter summary to the log.
func (mon *Monitor) LogSummary() {
	snap := mon.metrics.Snapshot()
	log.Info().
		Str("run_id", mon.runID).
		Dur("uptime", mon.Uptime()).
		Uint64("orders_processed", snap.OrdersProcessed).
		Uint64("orders_rejected", snap.OrdersRejected).
		Uint64("orders_dropped", snap.OrdersDropped).
		Uint64("trades_executed", snap.TradesExecuted).
		Uint64("market_data_updates", snap.MarketDataUpdates).
		Float64("avg_latency_us", snap.AvgLatencyNs/1000.0).
		Float64("min_latency_us", float64(snap.MinLatencyNs)/1000.0).
		Float64("max_latency_us", float64(snap.MaxLatencyNs)/1000.0).
		Uint64("heap_bytes", mon.HeapBytes()).
		Uint64("peak_heap_bytes", mon.PeakHeapBytes()).
		Int64("goroutines", mon.Goroutines()).
		Msg("Performance summary")
}
