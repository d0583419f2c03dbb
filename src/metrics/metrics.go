package metrics

import (
	"math"
	"sync/atomic"
)

// Metrics is the engine's hot-path counter block. Workers touch the exported
// fields directly with single atomic adds; everything derived (averages,
// throughput deltas, reports) is computed off to the side so the submit path
// stays at a handful of uncontended atomic ops.
type Metrics struct {
	OrdersProcessed   atomic.Uint64
	OrdersRejected    atomic.Uint64
	OrdersDropped     atomic.Uint64
	OrdersCancelled   atomic.Uint64
	TradesExecuted    atomic.Uint64
	MarketDataUpdates atomic.Uint64
	MarketDataDropped atomic.Uint64
	SinkFailures      atomic.Uint64

	// Per-second gauges, refreshed by the metrics worker.
	OrdersPerSecond     atomic.Uint64
	TradesPerSecond     atomic.Uint64
	MarketDataPerSecond atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencySamples atomic.Uint64
	minLatencyNs   atomic.Uint64
	maxLatencyNs   atomic.Uint64
}

func New() *Metrics {
	m := &Metrics{}
	m.minLatencyNs.Store(math.MaxUint64)
	return m
}

// RecordLatency folds one submit-path latency sample into the running
// total and the min/max watermarks. The watermark updates are CAS loops
// that give up as soon as another sample beat this one to it.
func (m *Metrics) RecordLatency(ns uint64) {
	m.totalLatencyNs.Add(ns)
	m.latencySamples.Add(1)

	for {
		cur := m.minLatencyNs.Load()
		if ns >= cur || m.minLatencyNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := m.maxLatencyNs.Load()
		if ns <= cur || m.maxLatencyNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// AverageLatencyNs returns the mean submit latency, 0 before any sample.
func (m *Metrics) AverageLatencyNs() float64 {
	samples := m.latencySamples.Load()
	if samples == 0 {
		return 0
	}
	return float64(m.totalLatencyNs.Load()) / float64(samples)
}

// MinLatencyNs returns the smallest observed sample, 0 before any sample.
func (m *Metrics) MinLatencyNs() uint64 {
	v := m.minLatencyNs.Load()
	if v == math.MaxUint64 {
		return 0
	}
	return v
}

// MaxLatencyNs returns the largest observed sample.
func (m *Metrics) MaxLatencyNs() uint64 {
	return m.maxLatencyNs.Load()
}

// LatencySamples returns how many latency samples have been recorded.
func (m *Metrics) LatencySamples() uint64 {
	return m.latencySamples.Load()
}

// Snapshot is a consistent-enough copy of the counters for serialization.
// Counters are read one by one, so a snapshot taken mid-burst may straddle
// updates; for reporting that is fine.
type Snapshot struct {
	OrdersProcessed   uint64 `json:"orders_processed"`
	OrdersRejected    uint64 `json:"orders_rejected"`
	OrdersDropped     uint64 `json:"orders_dropped"`
	OrdersCancelled   uint64 `json:"orders_cancelled"`
	TradesExecuted    uint64 `json:"trades_executed"`
	MarketDataUpdates uint64 `json:"market_data_updates"`
	MarketDataDropped uint64 `json:"market_data_dropped"`
	SinkFailures      uint64 `json:"sink_failures"`

	OrdersPerSecond     uint64 `json:"orders_per_second"`
	TradesPerSecond     uint64 `json:"trades_per_second"`
	MarketDataPerSecond uint64 `json:"market_data_per_second"`

	AvgLatencyNs   float64 `json:"avg_latency_ns"`
	MinLatencyNs   uint64  `json:"min_latency_ns"`
	MaxLatencyNs   uint64  `json:"max_latency_ns"`
	LatencySamples uint64  `json:"latency_samples"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		OrdersProcessed:   m.OrdersProcessed.Load(),
		OrdersRejected:    m.OrdersRejected.Load(),
		OrdersDropped:     m.OrdersDropped.Load(),
		OrdersCancelled:   m.OrdersCancelled.Load(),
		TradesExecuted:    m.TradesExecuted.Load(),
		MarketDataUpdates: m.MarketDataUpdates.Load(),
		MarketDataDropped: m.MarketDataDropped.Load(),
		SinkFailures:      m.SinkFailures.Load(),

		OrdersPerSecond:     m.OrdersPerSecond.Load(),
		TradesPerSecond:     m.TradesPerSecond.Load(),
		MarketDataPerSecond: m.MarketDataPerSecond.Load(),

		AvgLatencyNs:   m.AverageLatencyNs(),
		MinLatencyNs:   m.MinLatencyNs(),
		MaxLatencyNs:   m.MaxLatencyNs(),
		LatencySamples: m.latencySamples.Load(),
	}
}

// Reset zeroes every counter. Intended for tests and benchmark harnesses,
// not for a live engine.
func (m *Metrics) Reset() {
	m.OrdersProcessed.Store(0)
	m.OrdersRejected.Store(0)
	m.OrdersDropped.Store(0)
	m.OrdersCancelled.Store(0)
	m.TradesExecuted.Store(0)
	m.MarketDataUpdates.Store(0)
	m.MarketDataDropped.Store(0)
	m.SinkFailures.Store(0)
	m.OrdersPerSecond.Store(0)
	m.TradesPerSecond.Store(0)
	m.MarketDataPerSecond.Store(0)
	m.totalLatencyNs.Store(0)
	m.latencySamples.Store(0)
	m.minLatencyNs.Store(math.MaxUint64)
	m.maxLatencyNs.Store(0)
}
