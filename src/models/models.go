package models

type SubmitOrderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"` // required for LIMIT and STOP_LIMIT, 0 for MARKET
	StopPrice float64 `json:"stop_price,omitempty"`
	Quantity  uint64  `json:"quantity"`
	ClientID  uint64  `json:"client_id,omitempty"`
}

type SubmitOrderResponse struct {
	OrderID uint64 `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ModifyOrderRequest struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity uint64  `json:"quantity"`
}

type CancelOrderResponse struct {
	OrderID uint64 `json:"order_id"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type OrderBookResponse struct {
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"timestamp"` // unix timestamp in nanoseconds
	Bids      []PriceLevelInfo `json:"bids"`      // sorted descending (highest first)
	Asks      []PriceLevelInfo `json:"asks"`      // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price    float64 `json:"price"`
	Quantity uint64  `json:"quantity"` // aggregated remaining quantity at this price
}

type OrderStatusResponse struct {
	OrderID        uint64  `json:"order_id"`
	ClientID       uint64  `json:"client_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	Price          float64 `json:"price"`
	Quantity       uint64  `json:"quantity"`
	FilledQuantity uint64  `json:"filled_quantity"`
	Status         string  `json:"status"`
	Timestamp      int64   `json:"timestamp"` // unix timestamp in nanoseconds
}

type TradeInfo struct {
	TradeID     uint64  `json:"trade_id"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Quantity    uint64  `json:"quantity"`
	Timestamp   int64   `json:"timestamp"`
	BuyOrderID  uint64  `json:"buy_order_id"`
	SellOrderID uint64  `json:"sell_order_id"`
}

type TradesResponse struct {
	Symbol string      `json:"symbol"`
	Trades []TradeInfo `json:"trades"`
}

type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
	Count   int      `json:"count"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RestingOrders int    `json:"resting_orders"`
	ActiveSymbols int    `json:"active_symbols"`
}

type MetricsResponse struct {
	OrdersProcessed   uint64 `json:"orders_processed"`
	OrdersRejected    uint64 `json:"orders_rejected"`
	OrdersDropped     uint64 `json:"orders_dropped"`
	OrdersCancelled   uint64 `json:"orders_cancelled"`
	TradesExecuted    uint64 `json:"trades_executed"`
	MarketDataUpdates uint64 `json:"market_data_updates"`
	OrdersInBook      int    `json:"orders_in_book"`

	OrdersPerSecond     uint64 `json:"orders_per_second"`
	TradesPerSecond     uint64 `json:"trades_per_second"`
	MarketDataPerSecond uint64 `json:"market_data_per_second"`

	AvgLatencyUs float64 `json:"avg_latency_us"`
	MinLatencyUs float64 `json:"min_latency_us"`
	MaxLatencyUs float64 `json:"max_latency_us"`

	QueueDepths []uint64 `json:"queue_depths"`
}
