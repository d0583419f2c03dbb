package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"ultramatch/src/marketdata"
	"ultramatch/src/metrics"
)

const (
	// orderBatchSize caps how many elements a worker pulls per drain pass.
	orderBatchSize = 100

	// workerBackoff is how long a worker sleeps after finding its ring
	// empty, keeping idle spin off the CPU without hurting wake latency.
	workerBackoff = time.Microsecond
)

// Engine routes submitted orders through per-worker ingress rings into the
// per-symbol books and fans resulting events out to the configured sinks.
//
// Symbols are sharded across matching workers by hash, so all orders for
// one symbol are matched by a single goroutine in arrival order. Cancels
// and modifies bypass the rings and act on the book synchronously; the
// book's own lock orders them against the matching worker.
type Engine struct {
	cfg      Config
	registry *Registry
	metrics  *metrics.Metrics

	counters *CounterSink
	sink     *MultiSink

	orderQueues []*Ring[*Order]
	mdQueue     *Ring[marketdata.Record]

	orderSeq atomic.Uint64

	running  atomic.Bool
	stopping atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	startedAt time.Time
}

// New builds an engine from cfg. Extra sinks receive every book and market
// data event after the engine's own counters.
func New(cfg Config, sinks ...EventSink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		metrics: metrics.New(),
	}
	e.counters = NewCounterSink(e.metrics)
	e.sink = NewMultiSink(append([]EventSink{e.counters}, sinks...)...)
	e.registry = NewRegistry(e.sink)

	e.orderQueues = make([]*Ring[*Order], cfg.MatchingWorkers)
	for i := range e.orderQueues {
		q, err := NewRing[*Order](cfg.RingSize)
		if err != nil {
			return nil, err
		}
		e.orderQueues[i] = q
	}

	mdQueue, err := NewRing[marketdata.Record](cfg.RingSize)
	if err != nil {
		return nil, err
	}
	e.mdQueue = mdQueue

	return e, nil
}

// NextOrderID hands out engine-wide unique order ids, starting at 1. Every
// ingress path shares this counter so ids never collide across clients.
func (e *Engine) NextOrderID() uint64 {
	return e.orderSeq.Add(1)
}

// Start spawns the matching, market data and metrics workers.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.stopping.Store(false)
	e.shutdown = make(chan struct{})
	e.startedAt = time.Now()

	for i, q := range e.orderQueues {
		e.wg.Add(1)
		go e.matchingWorker(i, q)
	}
	for i := 0; i < e.cfg.MarketDataWorkers; i++ {
		e.wg.Add(1)
		go e.marketDataWorker(i)
	}
	if e.cfg.EnableMetrics {
		e.wg.Add(1)
		go e.metricsWorker()
	}

	log.Info().
		Int("matching_workers", e.cfg.MatchingWorkers).
		Int("market_data_workers", e.cfg.MarketDataWorkers).
		Uint64("ring_size", e.cfg.RingSize).
		Msg("Matching engine started")
	return nil
}

// Stop signals shutdown, lets workers drain their rings, and joins them.
// Idempotent; concurrent callers all block until the first one finishes.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	if !e.stopping.CompareAndSwap(false, true) {
		e.wg.Wait()
		return
	}

	log.Info().Msg("Stopping matching engine")
	close(e.shutdown)
	e.wg.Wait()
	e.syncCounters()

	// edge case: a producer may have pushed between the final drain and
	// the worker exiting; report anything stranded
	for i, q := range e.orderQueues {
		if n := q.Len(); n > 0 {
			log.Warn().Int("worker", i).Uint64("remaining", n).Msg("Orders left in ring at shutdown")
		}
	}
	if n := e.mdQueue.Len(); n > 0 {
		log.Warn().Uint64("remaining", n).Msg("Market data left in ring at shutdown")
	}

	e.running.Store(false)
	log.Info().
		Uint64("orders_processed", e.metrics.OrdersProcessed.Load()).
		Uint64("trades_executed", e.metrics.TradesExecuted.Load()).
		Msg("Matching engine stopped")
}

func (e *Engine) IsRunning() bool { return e.running.Load() }

// Uptime returns how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// SubmitOrder validates the order and enqueues it for matching. An id of 0
// is replaced from the engine-wide counter and a zero timestamp is stamped
// here, at the ingress boundary. The call never blocks: a full ring drops
// the order and returns ErrQueueFull.
func (e *Engine) SubmitOrder(order *Order) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if e.stopping.Load() {
		return ErrShutdownInProgress
	}

	start := time.Now()

	if err := validateOrder(order); err != nil {
		e.metrics.OrdersRejected.Add(1)
		return err
	}
	if order.ID == 0 {
		order.ID = e.NextOrderID()
	}
	if order.Timestamp == 0 {
		order.Timestamp = start.UnixNano()
	}

	q := e.orderQueues[shardOf(order.Symbol, len(e.orderQueues))]
	if err := q.TryPush(order); err != nil {
		e.metrics.OrdersDropped.Add(1)
		return err
	}

	e.metrics.RecordLatency(uint64(time.Since(start).Nanoseconds()))
	return nil
}

// CancelOrder synchronously removes a resting order from its book.
func (e *Engine) CancelOrder(orderID uint64, symbol string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	book, ok := e.registry.Get(symbol)
	if !ok {
		return ErrOrderNotFound
	}
	return book.CancelOrder(orderID)
}

// ModifyOrder synchronously updates a resting order's quantity and price.
func (e *Engine) ModifyOrder(orderID uint64, symbol string, newQuantity uint64, newPrice float64) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	book, ok := e.registry.Get(symbol)
	if !ok {
		return ErrOrderNotFound
	}
	return book.ModifyOrder(orderID, newQuantity, newPrice)
}

// SubmitMarketData enqueues one record for the market data workers. Like
// SubmitOrder it never blocks; a full ring drops the record.
func (e *Engine) SubmitMarketData(record marketdata.Record) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if err := e.mdQueue.TryPush(record); err != nil {
		e.metrics.MarketDataDropped.Add(1)
		return err
	}
	return nil
}

// GetOrder returns a copy of a resting order.
func (e *Engine) GetOrder(orderID uint64, symbol string) (Order, bool) {
	book, ok := e.registry.Get(symbol)
	if !ok {
		return Order{}, false
	}
	return book.GetOrder(orderID)
}

// Snapshot returns the top of the book for symbol. A symbol the engine has
// never seen yields ok == false.
func (e *Engine) Snapshot(symbol string, depth int) (BookSnapshot, bool) {
	book, ok := e.registry.Get(symbol)
	if !ok {
		return BookSnapshot{}, false
	}
	return book.Snapshot(depth), true
}

// RecentTrades returns up to count trades for symbol, most recent first.
func (e *Engine) RecentTrades(symbol string, count int) []Trade {
	book, ok := e.registry.Get(symbol)
	if !ok {
		return nil
	}
	return book.RecentTrades(count)
}

// ActiveSymbols lists every symbol with a book, sorted.
func (e *Engine) ActiveSymbols() []string {
	return e.registry.Symbols()
}

// Registry exposes the book registry for the serving layer.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// TotalOrderCount sums resting orders across all books.
func (e *Engine) TotalOrderCount() int {
	total := 0
	for _, book := range e.registry.Books() {
		total += book.OrderCount()
	}
	return total
}

// TotalTradeCount sums executed trades across all books.
func (e *Engine) TotalTradeCount() uint64 {
	var total uint64
	for _, book := range e.registry.Books() {
		total += book.TradeCount()
	}
	return total
}

// Metrics exposes the engine's counter block.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// QueueDepths reports the current depth of each matching ring followed by
// the market data ring.
func (e *Engine) QueueDepths() []uint64 {
	depths := make([]uint64, 0, len(e.orderQueues)+1)
	for _, q := range e.orderQueues {
		depths = append(depths, q.Len())
	}
	return append(depths, e.mdQueue.Len())
}

func validateOrder(order *Order) error {
	if order.Symbol == "" || len(order.Symbol) > marketdata.MaxSymbolLength {
		return ErrSymbolMismatch
	}
	if order.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if (order.Type == TypeLimit || order.Type == TypeStopLimit) && order.Price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// shardOf maps a symbol to a worker index with FNV-1a, inlined so the hot
// path doesn't allocate a hasher per order.
func shardOf(symbol string, workers int) int {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(symbol); i++ {
		h ^= uint32(symbol[i])
		h *= prime32
	}
	return int(h % uint32(workers))
}

// matchingWorker drains its ring in batches and matches each order into its
// book. On shutdown it keeps draining until the ring is empty, then exits.
func (e *Engine) matchingWorker(id int, q *Ring[*Order]) {
	defer e.wg.Done()
	log.Debug().Int("worker", id).Msg("Matching worker started")

	batch := make([]*Order, 0, orderBatchSize)
	touched := make(map[*OrderBook]struct{}, orderBatchSize)
	for {
		batch = batch[:0]
		for len(batch) < orderBatchSize {
			order, err := q.TryPop()
			if err != nil {
				break
			}
			batch = append(batch, order)
		}

		if len(batch) == 0 {
			if e.stopping.Load() {
				break
			}
			time.Sleep(workerBackoff)
			continue
		}

		for _, order := range batch {
			book := e.registry.GetOrCreate(order.Symbol)
			if err := book.AddOrder(order); err != nil {
				e.metrics.OrdersRejected.Add(1)
				if e.cfg.Verbose {
					log.Debug().
						Uint64("order_id", order.ID).
						Str("symbol", order.Symbol).
						Err(err).
						Msg("Order rejected by book")
				}
				continue
			}
			e.metrics.OrdersProcessed.Add(1)
			touched[book] = struct{}{}
		}

		// one book-update snapshot per touched book per batch, not per order
		for book := range touched {
			e.sink.OnSnapshot(book.Snapshot(DefaultSnapshotDepth))
			delete(touched, book)
		}
	}

	log.Debug().Int("worker", id).Msg("Matching worker stopped")
}

// marketDataWorker drains the shared market data ring and forwards records
// to the sinks.
func (e *Engine) marketDataWorker(id int) {
	defer e.wg.Done()
	log.Debug().Int("worker", id).Msg("Market data worker started")

	for {
		record, err := e.mdQueue.TryPop()
		if err != nil {
			if e.stopping.Load() {
				break
			}
			time.Sleep(workerBackoff)
			continue
		}
		e.metrics.MarketDataUpdates.Add(1)
		e.sink.OnMarketData(record)
	}

	log.Debug().Int("worker", id).Msg("Market data worker stopped")
}

// metricsWorker refreshes the per-second gauges once a second and mirrors
// the sink counters into the metrics block.
func (e *Engine) metricsWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastOrders, lastTrades, lastMD uint64
	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.syncCounters()

			orders := e.metrics.OrdersProcessed.Load()
			trades := e.metrics.TradesExecuted.Load()
			md := e.metrics.MarketDataUpdates.Load()

			e.metrics.OrdersPerSecond.Store(orders - lastOrders)
			e.metrics.TradesPerSecond.Store(trades - lastTrades)
			e.metrics.MarketDataPerSecond.Store(md - lastMD)

			lastOrders, lastTrades, lastMD = orders, trades, md
		}
	}
}

// syncCounters mirrors fan-out failure tallies into the metrics block so
// snapshots and reports see them.
func (e *Engine) syncCounters() {
	e.metrics.SinkFailures.Store(e.sink.Failures())
}
