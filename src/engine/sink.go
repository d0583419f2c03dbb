package engine

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"ultramatch/src/marketdata"
	"ultramatch/src/metrics"
)

// EventSink receives engine output. Implementations are called from
// matching and market data workers and must return quickly without
// blocking: buffer internally and drop on overflow rather than stall the
// caller. Sinks must not call back into the engine or its books
// synchronously.
type EventSink interface {
	// OnTrade delivers one execution.
	OnTrade(trade Trade)
	// OnFill delivers the post-fill state of one side of an execution.
	OnFill(order Order, quantity uint64, price float64)
	// OnCancelled delivers orders that left a book without trading out:
	// cancels, rejected market residue, and modifies shrunk to their
	// filled quantity.
	OnCancelled(order Order)
	// OnSnapshot delivers a top-of-book view after a book was mutated.
	OnSnapshot(snapshot BookSnapshot)
	// OnMarketData delivers one external market data record.
	OnMarketData(record marketdata.Record)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnTrade(Trade)                  {}
func (NopSink) OnFill(Order, uint64, float64)  {}
func (NopSink) OnCancelled(Order)              {}
func (NopSink) OnSnapshot(BookSnapshot)        {}
func (NopSink) OnMarketData(marketdata.Record) {}

// CounterSink folds book events into a metrics block. The engine always
// chains one in front of user sinks so the trade and cancel counters are
// maintained even when nothing else is listening.
type CounterSink struct {
	m *metrics.Metrics
}

func NewCounterSink(m *metrics.Metrics) *CounterSink {
	return &CounterSink{m: m}
}

func (c *CounterSink) OnTrade(Trade) { c.m.TradesExecuted.Add(1) }

func (c *CounterSink) OnFill(Order, uint64, float64) {}

func (c *CounterSink) OnCancelled(order Order) {
	switch order.Status {
	case StatusRejected:
		c.m.OrdersRejected.Add(1)
	case StatusCancelled:
		c.m.OrdersCancelled.Add(1)
	}
}

func (c *CounterSink) OnSnapshot(BookSnapshot) {}

// OnMarketData is a no-op; the market data workers count records as they
// drain the ring.
func (c *CounterSink) OnMarketData(marketdata.Record) {}

// MultiSink fans events out to several sinks. A panicking sink is logged
// and counted, never propagated: one broken consumer must not take down a
// matching worker.
type MultiSink struct {
	sinks    []EventSink
	failures atomic.Uint64
}

func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Failures returns how many sink calls panicked and were absorbed.
func (m *MultiSink) Failures() uint64 { return m.failures.Load() }

func (m *MultiSink) OnTrade(trade Trade) {
	for _, s := range m.sinks {
		m.deliver(func() { s.OnTrade(trade) })
	}
}

func (m *MultiSink) OnFill(order Order, quantity uint64, price float64) {
	for _, s := range m.sinks {
		m.deliver(func() { s.OnFill(order, quantity, price) })
	}
}

func (m *MultiSink) OnCancelled(order Order) {
	for _, s := range m.sinks {
		m.deliver(func() { s.OnCancelled(order) })
	}
}

func (m *MultiSink) OnSnapshot(snapshot BookSnapshot) {
	for _, s := range m.sinks {
		m.deliver(func() { s.OnSnapshot(snapshot) })
	}
}

func (m *MultiSink) OnMarketData(record marketdata.Record) {
	for _, s := range m.sinks {
		m.deliver(func() { s.OnMarketData(record) })
	}
}

func (m *MultiSink) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.failures.Add(1)
			log.Error().Interface("panic", r).Msg("Event sink failure absorbed")
		}
	}()
	fn()
}
