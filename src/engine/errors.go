package engine

import "errors"

// Sentinel errors returned by the queue, the order books and the engine.
// Callers branch on these with errors.Is; anything not listed here coming
// out of the matching path is a bug, not an operating condition.
var (
	// ErrQueueFull is returned by TryPush when the ring has no free slot.
	// The caller owns the rejected element; nothing is retried internally.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueEmpty is returned by TryPop when there is nothing to consume.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrDuplicateOrderID is returned when an order id is already resting
	// in the target book.
	ErrDuplicateOrderID = errors.New("duplicate order id")

	// ErrOrderNotFound is returned by cancel and modify when the id does
	// not reference a resting order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrSymbolMismatch is returned when an order is routed to a book for
	// a different symbol.
	ErrSymbolMismatch = errors.New("order symbol does not match book symbol")

	// ErrInvalidPrice rejects non-positive limit prices.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidQuantity rejects zero quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrNotRunning is returned by submission paths before Start or after
	// Stop has completed.
	ErrNotRunning = errors.New("engine not running")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrShutdownInProgress is returned by submission paths while Stop is
	// draining workers.
	ErrShutdownInProgress = errors.New("engine shutdown in progress")

	// ErrStartupFailed wraps configuration or resource failures during
	// construction and Start.
	ErrStartupFailed = errors.New("engine startup failed")

	// ErrBookNotEmpty is returned when removing a book that still holds
	// resting orders.
	ErrBookNotEmpty = errors.New("order book not empty")
)
