package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"ultramatch/src/engine"
	"ultramatch/src/models"
)

// maxSnapshotDepth caps the depth query so one request cannot walk an
// arbitrarily deep ladder.
const maxSnapshotDepth = 1000

// OrderHandler serves the admin HTTP surface on top of the engine. Order
// submission goes through the same async queue as every other ingress path;
// the response acknowledges acceptance into the queue, not the match result.
type OrderHandler struct {
	Engine *engine.Engine
}

func NewOrderHandler(eng *engine.Engine) *OrderHandler {
	return &OrderHandler{Engine: eng}
}

func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req models.SubmitOrderRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	side, orderType, err := parseSideAndType(req.Side, req.Type)
	if err != nil {
		log.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Str("type", req.Type).
			Str("ip", c.IP()).
			Msg("Invalid order request")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	order := engine.NewOrder(h.Engine.NextOrderID(), req.ClientID, req.Symbol, side, orderType, req.Quantity, req.Price)
	order.StopPrice = req.StopPrice

	if err := h.Engine.SubmitOrder(order); err != nil {
		status := fiber.StatusBadRequest
		switch {
		case errors.Is(err, engine.ErrQueueFull):
			status = fiber.StatusServiceUnavailable
		case errors.Is(err, engine.ErrNotRunning), errors.Is(err, engine.ErrShutdownInProgress):
			status = fiber.StatusServiceUnavailable
		}
		log.Warn().
			Err(err).
			Uint64("order_id", order.ID).
			Str("symbol", req.Symbol).
			Str("ip", c.IP()).
			Msg("Order rejected at submission")
		return c.Status(status).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	log.Info().
		Uint64("order_id", order.ID).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("type", req.Type).
		Float64("price", req.Price).
		Uint64("quantity", req.Quantity).
		Str("ip", c.IP()).
		Msg("Order submitted")

	return c.Status(fiber.StatusAccepted).JSON(models.SubmitOrderResponse{
		OrderID: order.ID,
		Status:  string(engine.StatusPending),
		Message: "Order queued for matching",
	})
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order id",
		})
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Missing symbol query parameter",
		})
	}

	if err := h.Engine.CancelOrder(orderID, symbol); err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			log.Warn().
				Uint64("order_id", orderID).
				Str("symbol", symbol).
				Str("ip", c.IP()).
				Msg("Cancel order: order not found")
			return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
				Error: "Order not found",
			})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	log.Info().
		Uint64("order_id", orderID).
		Str("symbol", symbol).
		Str("ip", c.IP()).
		Msg("Order cancelled")

	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		OrderID: orderID,
		Status:  string(engine.StatusCancelled),
	})
}

func (h *OrderHandler) ModifyOrder(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order id",
		})
	}

	var req models.ModifyOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}
	if req.Symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid modify: symbol is required",
		})
	}

	if err := h.Engine.ModifyOrder(orderID, req.Symbol, req.Quantity, req.Price); err != nil {
		switch {
		case errors.Is(err, engine.ErrOrderNotFound):
			return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
				Error: "Order not found",
			})
		case errors.Is(err, engine.ErrInvalidPrice), errors.Is(err, engine.ErrInvalidQuantity):
			return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		default:
			return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		}
	}

	log.Info().
		Uint64("order_id", orderID).
		Str("symbol", req.Symbol).
		Uint64("quantity", req.Quantity).
		Float64("price", req.Price).
		Msg("Order modified")

	// modify may have filled or removed the order; report what rests now
	if order, ok := h.Engine.GetOrder(orderID, req.Symbol); ok {
		return c.Status(fiber.StatusOK).JSON(orderStatusResponse(order))
	}
	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		OrderID: orderID,
		Status:  string(engine.StatusFilled),
	})
}

func (h *OrderHandler) GetOrderStatus(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order id",
		})
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Missing symbol query parameter",
		})
	}

	order, ok := h.Engine.GetOrder(orderID, symbol)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Order not found",
		})
	}
	return c.Status(fiber.StatusOK).JSON(orderStatusResponse(order))
}

func (h *OrderHandler) GetOrderBook(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	depth := engine.DefaultSnapshotDepth
	if depthStr := c.Query("depth"); depthStr != "" {
		if parsed, err := strconv.Atoi(depthStr); err == nil && parsed > 0 {
			depth = parsed
		}
	}
	// edge case: enforce maximum depth limit
	if depth > maxSnapshotDepth {
		depth = maxSnapshotDepth
	}

	snapshot, ok := h.Engine.Snapshot(symbol, depth)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Unknown symbol",
		})
	}

	bids := make([]models.PriceLevelInfo, 0, len(snapshot.Bids))
	for _, level := range snapshot.Bids {
		bids = append(bids, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity})
	}
	asks := make([]models.PriceLevelInfo, 0, len(snapshot.Asks))
	for _, level := range snapshot.Asks {
		asks = append(asks, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity})
	}

	return c.Status(fiber.StatusOK).JSON(models.OrderBookResponse{
		Symbol:    snapshot.Symbol,
		Timestamp: snapshot.Timestamp,
		Bids:      bids,
		Asks:      asks,
	})
}

func (h *OrderHandler) GetTrades(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	count := 100
	if countStr := c.Query("count"); countStr != "" {
		if parsed, err := strconv.Atoi(countStr); err == nil && parsed > 0 {
			count = parsed
		}
	}

	trades := h.Engine.RecentTrades(symbol, count)
	infos := make([]models.TradeInfo, 0, len(trades))
	for _, trade := range trades {
		infos = append(infos, models.TradeInfo{
			TradeID:     trade.TradeID,
			Symbol:      trade.Symbol,
			Price:       trade.Price,
			Quantity:    trade.Quantity,
			Timestamp:   trade.Timestamp,
			BuyOrderID:  trade.BuyOrderID,
			SellOrderID: trade.SellOrderID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.TradesResponse{
		Symbol: symbol,
		Trades: infos,
	})
}

func (h *OrderHandler) GetSymbols(c *fiber.Ctx) error {
	symbols := h.Engine.ActiveSymbols()
	return c.Status(fiber.StatusOK).JSON(models.SymbolsResponse{
		Symbols: symbols,
		Count:   len(symbols),
	})
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	status := "healthy"
	if !h.Engine.IsRunning() {
		status = "stopped"
	}

	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        status,
		UptimeSeconds: int64(h.Engine.Uptime().Seconds()),
		RestingOrders: h.Engine.TotalOrderCount(),
		ActiveSymbols: h.Engine.Registry().Count(),
	})
}

func (h *OrderHandler) Metrics(c *fiber.Ctx) error {
	snap := h.Engine.Metrics().Snapshot()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		OrdersProcessed:   snap.OrdersProcessed,
		OrdersRejected:    snap.OrdersRejected,
		OrdersDropped:     snap.OrdersDropped,
		OrdersCancelled:   snap.OrdersCancelled,
		TradesExecuted:    snap.TradesExecuted,
		MarketDataUpdates: snap.MarketDataUpdates,
		OrdersInBook:      h.Engine.TotalOrderCount(),

		OrdersPerSecond:     snap.OrdersPerSecond,
		TradesPerSecond:     snap.TradesPerSecond,
		MarketDataPerSecond: snap.MarketDataPerSecond,

		AvgLatencyUs: snap.AvgLatencyNs / 1000.0,
		MinLatencyUs: float64(snap.MinLatencyNs) / 1000.0,
		MaxLatencyUs: float64(snap.MaxLatencyNs) / 1000.0,

		QueueDepths: h.Engine.QueueDepths(),
	})
}

func orderStatusResponse(order engine.Order) models.OrderStatusResponse {
	return models.OrderStatusResponse{
		OrderID:        order.ID,
		ClientID:       order.ClientID,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Price:          order.Price,
		Quantity:       order.Quantity,
		FilledQuantity: order.FilledQuantity,
		Status:         string(order.Status),
		Timestamp:      order.Timestamp,
	}
}

func parseSideAndType(side, orderType string) (engine.OrderSide, engine.OrderType, error) {
	var s engine.OrderSide
	switch side {
	case "BUY":
		s = engine.SideBuy
	case "SELL":
		s = engine.SideSell
	default:
		return "", "", &ValidationError{Message: "Invalid order: side must be BUY or SELL"}
	}

	var t engine.OrderType
	switch orderType {
	case "LIMIT":
		t = engine.TypeLimit
	case "MARKET":
		t = engine.TypeMarket
	case "STOP":
		t = engine.TypeStop
	case "STOP_LIMIT":
		t = engine.TypeStopLimit
	default:
		return "", "", &ValidationError{Message: "Invalid order: type must be LIMIT, MARKET, STOP or STOP_LIMIT"}
	}

	return s, t, nil
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
