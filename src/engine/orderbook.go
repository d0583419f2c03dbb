package engine

import (
	"math"
	"sync"
	"time"

	"github.com/google/btree"
)

const (
	// maxTradeHistory bounds the per-book recent trade window; the oldest
	// entry is dropped once the window is full.
	maxTradeHistory = 1000

	// DefaultSnapshotDepth is how many levels per side a snapshot carries
	// when the caller doesn't ask for a specific depth.
	DefaultSnapshotDepth = 10
)

// bidItem orders price levels descending so Min() is the highest bid.
type bidItem struct {
	level *PriceLevel
}

func (b *bidItem) Less(than btree.Item) bool {
	return b.level.Price > than.(*bidItem).level.Price
}

// askItem orders price levels ascending so Min() is the lowest ask.
type askItem struct {
	level *PriceLevel
}

func (a *askItem) Less(than btree.Item) bool {
	return a.level.Price < than.(*askItem).level.Price
}

// LevelSnapshot is one aggregated price level of a book snapshot.
type LevelSnapshot struct {
	Price    float64 `json:"price"`
	Quantity uint64  `json:"quantity"`
}

// BookSnapshot is a point-in-time view of the top of a book.
type BookSnapshot struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Bids      []LevelSnapshot `json:"bids"`
	Asks      []LevelSnapshot `json:"asks"`
}

// OrderBook holds the resting orders for one symbol and matches incoming
// orders against them under a single writer lock. Matching happens inside
// AddOrder and ModifyOrder: the book is always fully matched (best bid below
// best ask) between calls. Event emission happens after the lock is
// released, so sinks may take their own locks but must never call back into
// the book synchronously.
type OrderBook struct {
	Symbol string

	bids   *btree.BTree // sorted descending (highest first)
	asks   *btree.BTree // sorted ascending (lowest first)
	orders map[uint64]*Order

	recentTrades []Trade
	totalTrades  uint64
	totalVolume  float64

	sink EventSink
	mu   sync.RWMutex
}

// NewOrderBook creates an empty book for symbol. A nil sink disables event
// delivery.
func NewOrderBook(symbol string, sink EventSink) *OrderBook {
	if sink == nil {
		sink = NopSink{}
	}
	return &OrderBook{
		Symbol:       symbol,
		bids:         btree.New(32),
		asks:         btree.New(32),
		orders:       make(map[uint64]*Order),
		recentTrades: make([]Trade, 0, maxTradeHistory),
		sink:         sink,
	}
}

// bookEvent is a deferred sink notification collected under the write lock
// and delivered after it is released.
type bookEvent struct {
	trade     *Trade
	order     Order
	fillQty   uint64
	fillPrice float64
}

// AddOrder validates and inserts the order, then runs the matching loop.
// Market orders are parked at sentinel prices (+inf for buys, 0 for sells)
// so the loop treats them like any other aggressive entry; whatever remains
// unfilled once the opposite side is exhausted is removed and marked
// Rejected. Stop orders rest at their stop price.
//
// Validation failures mean the order never entered the book. Once accepted,
// the outcome is carried by the order status and the sink events.
func (ob *OrderBook) AddOrder(order *Order) error {
	if order.Symbol != ob.Symbol {
		return ErrSymbolMismatch
	}
	if order.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if (order.Type == TypeLimit || order.Type == TypeStopLimit) && order.Price <= 0 {
		return ErrInvalidPrice
	}
	// a non-positive stop would rest at ladder price zero and trade at half
	// the opposite level instead of waiting for its trigger
	if (order.Type == TypeStop || order.Type == TypeStopLimit) && order.StopPrice <= 0 {
		return ErrInvalidPrice
	}

	ob.mu.Lock()
	if _, exists := ob.orders[order.ID]; exists {
		ob.mu.Unlock()
		return ErrDuplicateOrderID
	}

	ob.orders[order.ID] = order
	ob.insertLocked(order)

	events := ob.matchLocked(nil)

	// edge case: market order residue cannot rest, reject whatever is left
	if order.Type == TypeMarket && !order.IsFilled() {
		ob.removeLocked(order)
		delete(ob.orders, order.ID)
		order.Status = StatusRejected
		events = append(events, bookEvent{order: *order})
	}
	ob.mu.Unlock()

	ob.emit(events)
	return nil
}

// CancelOrder removes a resting order and marks it Cancelled. Partially
// filled orders cancel their remaining quantity.
func (ob *OrderBook) CancelOrder(orderID uint64) error {
	ob.mu.Lock()
	order, exists := ob.orders[orderID]
	if !exists {
		ob.mu.Unlock()
		return ErrOrderNotFound
	}

	ob.removeLocked(order)
	delete(ob.orders, orderID)
	order.Status = StatusCancelled
	events := []bookEvent{{order: *order}}
	ob.mu.Unlock()

	ob.emit(events)
	return nil
}

// ModifyOrder replaces a resting order's quantity and price. The order loses
// its time priority and may immediately trade at its new price. A new
// quantity at or below what is already filled marks the order Filled and
// removes it without re-insertion.
func (ob *OrderBook) ModifyOrder(orderID uint64, newQuantity uint64, newPrice float64) error {
	ob.mu.Lock()
	order, exists := ob.orders[orderID]
	if !exists {
		ob.mu.Unlock()
		return ErrOrderNotFound
	}
	if (order.Type == TypeLimit || order.Type == TypeStopLimit) && newPrice <= 0 {
		ob.mu.Unlock()
		return ErrInvalidPrice
	}

	ob.removeLocked(order)

	// edge case: shrinking at or below the filled quantity means nothing is
	// left to trade, the order leaves the book as Filled
	if newQuantity <= order.FilledQuantity {
		delete(ob.orders, orderID)
		order.Quantity = newQuantity
		order.Status = StatusFilled
		events := []bookEvent{{order: *order}}
		ob.mu.Unlock()
		ob.emit(events)
		return nil
	}

	order.Quantity = newQuantity
	order.Price = newPrice
	order.Timestamp = time.Now().UnixNano()
	ob.insertLocked(order)

	events := ob.matchLocked(nil)
	ob.mu.Unlock()

	ob.emit(events)
	return nil
}

// GetOrder returns a copy of a resting order.
func (ob *OrderBook) GetOrder(orderID uint64) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	order, exists := ob.orders[orderID]
	if !exists {
		return Order{}, false
	}
	return *order, true
}

// BestBid returns the highest bid price and the remaining quantity resting
// at that level.
func (ob *OrderBook) BestBid() (price float64, quantity uint64, ok bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	item := ob.bids.Min()
	if item == nil {
		return 0, 0, false
	}
	level := item.(*bidItem).level
	return level.Price, levelQuantity(level), true
}

// BestAsk returns the lowest ask price and the remaining quantity resting
// at that level.
func (ob *OrderBook) BestAsk() (price float64, quantity uint64, ok bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	item := ob.asks.Min()
	if item == nil {
		return 0, 0, false
	}
	level := item.(*askItem).level
	return level.Price, levelQuantity(level), true
}

// Snapshot aggregates up to depth levels per side. depth <= 0 selects
// DefaultSnapshotDepth.
func (ob *OrderBook) Snapshot(depth int) BookSnapshot {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}

	ob.mu.RLock()
	defer ob.mu.RUnlock()

	snapshot := BookSnapshot{
		Symbol:    ob.Symbol,
		Timestamp: time.Now().UnixNano(),
		Bids:      make([]LevelSnapshot, 0, depth),
		Asks:      make([]LevelSnapshot, 0, depth),
	}

	ob.bids.Ascend(func(item btree.Item) bool {
		if len(snapshot.Bids) >= depth {
			return false
		}
		level := item.(*bidItem).level
		snapshot.Bids = append(snapshot.Bids, LevelSnapshot{
			Price:    level.Price,
			Quantity: levelQuantity(level),
		})
		return true
	})

	ob.asks.Ascend(func(item btree.Item) bool {
		if len(snapshot.Asks) >= depth {
			return false
		}
		level := item.(*askItem).level
		snapshot.Asks = append(snapshot.Asks, LevelSnapshot{
			Price:    level.Price,
			Quantity: levelQuantity(level),
		})
		return true
	})

	return snapshot
}

// RecentTrades returns up to count trades, most recent first.
func (ob *OrderBook) RecentTrades(count int) []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if count > len(ob.recentTrades) {
		count = len(ob.recentTrades)
	}
	result := make([]Trade, 0, count)
	for i := len(ob.recentTrades) - 1; i >= 0 && len(result) < count; i-- {
		result = append(result, ob.recentTrades[i])
	}
	return result
}

// OrderCount returns the number of resting orders.
func (ob *OrderBook) OrderCount() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// TradeCount returns the number of trades executed since creation.
func (ob *OrderBook) TradeCount() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.totalTrades
}

// TotalVolume returns the cumulative notional (price times quantity) traded.
func (ob *OrderBook) TotalVolume() float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.totalVolume
}

// ladderPrice is where the order sits in its side's tree: market orders get
// sentinel prices so they cross everything, stop orders park at their
// trigger level, limits rest at their limit.
func ladderPrice(order *Order) float64 {
	switch order.Type {
	case TypeMarket:
		if order.Side == SideBuy {
			return math.Inf(1)
		}
		return 0
	case TypeStop, TypeStopLimit:
		return order.StopPrice
	default:
		return order.Price
	}
}

func levelQuantity(level *PriceLevel) uint64 {
	var total uint64
	for _, order := range level.Orders {
		total += order.RemainingQuantity()
	}
	return total
}

func (ob *OrderBook) insertLocked(order *Order) {
	price := ladderPrice(order)

	if order.Side == SideBuy {
		probe := &bidItem{level: &PriceLevel{Price: price}}
		if existing := ob.bids.Get(probe); existing != nil {
			level := existing.(*bidItem).level
			level.Orders = append(level.Orders, order)
			return
		}
		probe.level.Orders = []*Order{order}
		ob.bids.ReplaceOrInsert(probe)
		return
	}

	probe := &askItem{level: &PriceLevel{Price: price}}
	if existing := ob.asks.Get(probe); existing != nil {
		level := existing.(*askItem).level
		level.Orders = append(level.Orders, order)
		return
	}
	probe.level.Orders = []*Order{order}
	ob.asks.ReplaceOrInsert(probe)
}

// removeLocked takes the order out of its price level and drops the level
// when it empties. The order stays in the id index; callers decide that.
func (ob *OrderBook) removeLocked(order *Order) {
	price := ladderPrice(order)

	if order.Side == SideBuy {
		probe := &bidItem{level: &PriceLevel{Price: price}}
		existing := ob.bids.Get(probe)
		if existing == nil {
			return
		}
		level := existing.(*bidItem).level
		removeFromLevel(level, order.ID)
		// edge case: remove empty price level
		if len(level.Orders) == 0 {
			ob.bids.Delete(probe)
		}
		return
	}

	probe := &askItem{level: &PriceLevel{Price: price}}
	existing := ob.asks.Get(probe)
	if existing == nil {
		return
	}
	level := existing.(*askItem).level
	removeFromLevel(level, order.ID)
	// edge case: remove empty price level
	if len(level.Orders) == 0 {
		ob.asks.Delete(probe)
	}
}

func removeFromLevel(level *PriceLevel, orderID uint64) {
	for i, o := range level.Orders {
		if o.ID == orderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			return
		}
	}
}

// matchLocked crosses the book until the best bid no longer meets the best
// ask. Trades print at the midpoint of the two level prices; a market
// order's sentinel is replaced by the opposite limit so the midpoint stays
// finite. Collected events are returned for delivery after unlock.
func (ob *OrderBook) matchLocked(events []bookEvent) []bookEvent {
	for ob.bids.Len() > 0 && ob.asks.Len() > 0 {
		bidLevel := ob.bids.Min().(*bidItem).level
		askLevel := ob.asks.Min().(*askItem).level

		if bidLevel.Price < askLevel.Price {
			break
		}

		buy := bidLevel.Orders[0]
		sell := askLevel.Orders[0]

		bidPrice, askPrice := bidLevel.Price, askLevel.Price
		if buy.Type == TypeMarket {
			bidPrice = askPrice
		}
		if sell.Type == TypeMarket {
			askPrice = bidPrice
		}
		price := (bidPrice + askPrice) / 2

		quantity := buy.RemainingQuantity()
		if sell.RemainingQuantity() < quantity {
			quantity = sell.RemainingQuantity()
		}

		buy.fill(quantity)
		sell.fill(quantity)
		trade := ob.recordTradeLocked(buy, sell, price, quantity)

		events = append(events,
			bookEvent{trade: &trade},
			bookEvent{order: *buy, fillQty: quantity, fillPrice: price},
			bookEvent{order: *sell, fillQty: quantity, fillPrice: price},
		)

		if buy.IsFilled() {
			bidLevel.Orders = bidLevel.Orders[1:]
			delete(ob.orders, buy.ID)
		}
		if sell.IsFilled() {
			askLevel.Orders = askLevel.Orders[1:]
			delete(ob.orders, sell.ID)
		}

		// edge case: drop emptied levels before the next iteration reads Min
		if len(bidLevel.Orders) == 0 {
			ob.bids.Delete(&bidItem{level: bidLevel})
		}
		if len(askLevel.Orders) == 0 {
			ob.asks.Delete(&askItem{level: askLevel})
		}
	}
	return events
}

func (ob *OrderBook) recordTradeLocked(buy, sell *Order, price float64, quantity uint64) Trade {
	trade := Trade{
		TradeID:     ob.totalTrades + 1,
		Symbol:      ob.Symbol,
		Price:       price,
		Quantity:    quantity,
		Timestamp:   time.Now().UnixNano(),
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
	}

	ob.recentTrades = append(ob.recentTrades, trade)
	if len(ob.recentTrades) > maxTradeHistory {
		ob.recentTrades = ob.recentTrades[1:]
	}

	ob.totalTrades++
	ob.totalVolume += price * float64(quantity)
	return trade
}

func (ob *OrderBook) emit(events []bookEvent) {
	for i := range events {
		ev := &events[i]
		switch {
		case ev.trade != nil:
			ob.sink.OnTrade(*ev.trade)
		case ev.fillQty > 0:
			ob.sink.OnFill(ev.order, ev.fillQty, ev.fillPrice)
		default:
			ob.sink.OnCancelled(ev.order)
		}
	}
}
