package engine

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeMarket    OrderType = "MARKET"
	TypeLimit     OrderType = "LIMIT"
	TypeStop      OrderType = "STOP"
	TypeStopLimit OrderType = "STOP_LIMIT"
)

type OrderStatus string

const (
	StatusPending     OrderStatus = "PENDING"
	StatusPartialFill OrderStatus = "PARTIALLY_FILLED"
	StatusFilled      OrderStatus = "FILLED"
	StatusCancelled   OrderStatus = "CANCELLED"
	StatusRejected    OrderStatus = "REJECTED"
)

// Order is a client submission plus its fill state. Once a book accepts an
// order, the book's write lock is the only context that mutates it; everyone
// else works on copies handed out by the book. The single-writer rule is
// what lets these fields stay plain values instead of atomics.
type Order struct {
	ID             uint64      `json:"id"`
	ClientID       uint64      `json:"client_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Quantity       uint64      `json:"quantity"`
	FilledQuantity uint64      `json:"filled_quantity"`
	Price          float64     `json:"price"`      // limit price, ignored for MARKET
	StopPrice      float64     `json:"stop_price"` // trigger level for STOP and STOP_LIMIT
	Timestamp      int64       `json:"timestamp"`  // nanoseconds, stamped at ingress
	Status         OrderStatus `json:"status"`
}

// Trade is one execution between a resting order and an incoming order.
type Trade struct {
	TradeID     uint64  `json:"trade_id"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Quantity    uint64  `json:"quantity"`
	Timestamp   int64   `json:"timestamp"`
	BuyOrderID  uint64  `json:"buy_order_id"`
	SellOrderID uint64  `json:"sell_order_id"`
}

type PriceLevel struct {
	Price  float64
	Orders []*Order // fifo ordering for time priority
}

func NewOrder(id, clientID uint64, symbol string, side OrderSide, orderType OrderType, quantity uint64, price float64) *Order {
	return &Order{
		ID:        id,
		ClientID:  clientID,
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now().UnixNano(),
		Status:    StatusPending,
	}
}

func (o *Order) RemainingQuantity() uint64 {
	return o.Quantity - o.FilledQuantity
}

func (o *Order) IsFilled() bool {
	return o.FilledQuantity >= o.Quantity
}

// IsTerminal reports whether the order can never trade again.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// fill applies quantity against the order and advances the status. Caller
// holds the owning book's write lock.
func (o *Order) fill(quantity uint64) {
	o.FilledQuantity += quantity
	if o.FilledQuantity >= o.Quantity {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartialFill
	}
}

// Before reports whether o outranks other on the same side of a book:
// better price first, earlier arrival on equal price. Buys rank high prices
// first, sells low prices first.
func (o *Order) Before(other *Order) bool {
	if o.Price != other.Price {
		if o.Side == SideBuy {
			return o.Price > other.Price
		}
		return o.Price < other.Price
	}
	return o.Timestamp < other.Timestamp
}
