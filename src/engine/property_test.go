package engine_test

import (
	"testing"

	"pgregory.net/rapid"

	"ultramatch/src/engine"
)

// Property: after any stream of limit submissions the book is uncrossed and
// its resting population is exactly the submitted orders that are not
// terminal.
func TestProperty_BookUncrossedAfterRandomStream(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := engine.NewOrderBook("TEST", nil)

		n := rapid.IntRange(1, 200).Draw(t, "orders")
		orders := make([]*engine.Order, 0, n)
		for i := 0; i < n; i++ {
			side := engine.SideBuy
			if rapid.Bool().Draw(t, "isSell") {
				side = engine.SideSell
			}
			price := float64(rapid.IntRange(90, 110).Draw(t, "price"))
			qty := uint64(rapid.IntRange(1, 100).Draw(t, "qty"))

			order := engine.NewOrder(uint64(i+1), 1, "TEST", side, engine.TypeLimit, qty, price)
			if err := book.AddOrder(order); err != nil {
				t.Fatalf("AddOrder failed: %v", err)
			}
			orders = append(orders, order)
		}

		bidPrice, _, hasBid := book.BestBid()
		askPrice, _, hasAsk := book.BestAsk()
		if hasBid && hasAsk && bidPrice >= askPrice {
			t.Fatalf("book is crossed: best bid %v >= best ask %v", bidPrice, askPrice)
		}

		resting := 0
		for _, order := range orders {
			switch order.Status {
			case engine.StatusPending, engine.StatusPartialFill:
				resting++
				if order.FilledQuantity >= order.Quantity {
					t.Fatalf("resting order %d is fully filled: %d/%d",
						order.ID, order.FilledQuantity, order.Quantity)
				}
				if _, ok := book.GetOrder(order.ID); !ok {
					t.Fatalf("non-terminal order %d missing from the book", order.ID)
				}
			case engine.StatusFilled:
				if order.FilledQuantity != order.Quantity {
					t.Fatalf("filled order %d has %d/%d",
						order.ID, order.FilledQuantity, order.Quantity)
				}
				if _, ok := book.GetOrder(order.ID); ok {
					t.Fatalf("filled order %d still in the book", order.ID)
				}
			default:
				t.Fatalf("unexpected status %s for limit order", order.Status)
			}
		}
		if resting != book.OrderCount() {
			t.Fatalf("resting accounting: %d non-terminal orders vs %d in book",
				resting, book.OrderCount())
		}
	})
}

// Property: snapshot level quantities equal the sum of the remaining
// quantities of the orders resting at that price.
func TestProperty_SnapshotAggregatesRemaining(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := engine.NewOrderBook("TEST", nil)

		n := rapid.IntRange(1, 100).Draw(t, "orders")
		orders := make([]*engine.Order, 0, n)
		for i := 0; i < n; i++ {
			side := engine.SideBuy
			if rapid.Bool().Draw(t, "isSell") {
				side = engine.SideSell
			}
			price := float64(rapid.IntRange(95, 105).Draw(t, "price"))
			qty := uint64(rapid.IntRange(1, 50).Draw(t, "qty"))

			order := engine.NewOrder(uint64(i+1), 1, "TEST", side, engine.TypeLimit, qty, price)
			if err := book.AddOrder(order); err != nil {
				t.Fatalf("AddOrder failed: %v", err)
			}
			orders = append(orders, order)
		}

		expect := make(map[float64]uint64)
		for _, order := range orders {
			if order.Status == engine.StatusPending || order.Status == engine.StatusPartialFill {
				if order.Side == engine.SideBuy {
					expect[order.Price] += order.Quantity - order.FilledQuantity
				} else {
					expect[-order.Price] += order.Quantity - order.FilledQuantity
				}
			}
		}

		snapshot := book.Snapshot(1000)
		for _, level := range snapshot.Bids {
			if expect[level.Price] != level.Quantity {
				t.Fatalf("bid level %v: snapshot %d, orders say %d",
					level.Price, level.Quantity, expect[level.Price])
			}
		}
		for _, level := range snapshot.Asks {
			if expect[-level.Price] != level.Quantity {
				t.Fatalf("ask level %v: snapshot %d, orders say %d",
					level.Price, level.Quantity, expect[-level.Price])
			}
		}
	})
}

// fillCaptureSink records the order-side copies delivered with each fill.
// Books emit on the caller's goroutine after unlock, so no locking is needed
// when the book is driven from a single goroutine.
type fillCaptureSink struct {
	engine.NopSink
	fills []engine.Order
}

func (s *fillCaptureSink) OnFill(order engine.Order, _ uint64, _ float64) {
	s.fills = append(s.fills, order)
}

// Property: when one aggressive order sweeps a side, the resting orders fill
// exactly in the sequence Before defines, best price first and earliest
// arrival on ties.
func TestProperty_FillsFollowPriceTimePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sink := &fillCaptureSink{}
		book := engine.NewOrderBook("TEST", sink)

		n := rapid.IntRange(2, 50).Draw(t, "orders")
		var total uint64
		for i := 0; i < n; i++ {
			price := float64(rapid.IntRange(90, 110).Draw(t, "price"))
			qty := uint64(rapid.IntRange(1, 50).Draw(t, "qty"))

			order := engine.NewOrder(uint64(i+1), 1, "TEST", engine.SideBuy, engine.TypeLimit, qty, price)
			order.Timestamp = int64(i + 1)
			if err := book.AddOrder(order); err != nil {
				t.Fatalf("AddOrder failed: %v", err)
			}
			total += qty
		}

		sweep := engine.NewOrder(uint64(n+1), 2, "TEST", engine.SideSell, engine.TypeLimit, total, 1)
		if err := book.AddOrder(sweep); err != nil {
			t.Fatalf("AddOrder sweep failed: %v", err)
		}

		var buys []engine.Order
		for _, fill := range sink.fills {
			if fill.Side == engine.SideBuy {
				buys = append(buys, fill)
			}
		}
		if len(buys) != n {
			t.Fatalf("sweep should fill every resting buy: %d fills for %d orders", len(buys), n)
		}
		for i := 1; i < len(buys); i++ {
			if !buys[i-1].Before(&buys[i]) {
				t.Fatalf("fill %d (id %d, price %v, ts %d) does not outrank fill %d (id %d, price %v, ts %d)",
					i-1, buys[i-1].ID, buys[i-1].Price, buys[i-1].Timestamp,
					i, buys[i].ID, buys[i].Price, buys[i].Timestamp)
			}
		}
	})
}

// Property: cancelling everything that still rests returns the book to
// empty, and volume never decreases along the way.
func TestProperty_CancelAllEmptiesBook(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := engine.NewOrderBook("TEST", nil)

		n := rapid.IntRange(1, 100).Draw(t, "orders")
		var lastVolume float64
		orders := make([]*engine.Order, 0, n)
		for i := 0; i < n; i++ {
			side := engine.SideBuy
			if rapid.Bool().Draw(t, "isSell") {
				side = engine.SideSell
			}
			price := float64(rapid.IntRange(90, 110).Draw(t, "price"))
			qty := uint64(rapid.IntRange(1, 100).Draw(t, "qty"))

			order := engine.NewOrder(uint64(i+1), 1, "TEST", side, engine.TypeLimit, qty, price)
			if err := book.AddOrder(order); err != nil {
				t.Fatalf("AddOrder failed: %v", err)
			}
			orders = append(orders, order)

			if book.TotalVolume() < lastVolume {
				t.Fatalf("total volume decreased: %v -> %v", lastVolume, book.TotalVolume())
			}
			lastVolume = book.TotalVolume()
		}

		for _, order := range orders {
			if order.Status == engine.StatusPending || order.Status == engine.StatusPartialFill {
				if err := book.CancelOrder(order.ID); err != nil {
					t.Fatalf("CancelOrder(%d) failed: %v", order.ID, err)
				}
			}
		}

		if book.OrderCount() != 0 {
			t.Fatalf("book not empty after cancelling everything: %d", book.OrderCount())
		}
		if _, _, ok := book.BestBid(); ok {
			t.Fatal("bid ladder not empty")
		}
		if _, _, ok := book.BestAsk(); ok {
			t.Fatal("ask ladder not empty")
		}
	})
}
