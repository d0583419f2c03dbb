package engine

import (
	"sort"
	"sync"
)

// Registry owns the per-symbol order books. Books are created lazily on
// first use and share the registry's event sink.
type Registry struct {
	books map[string]*OrderBook
	sink  EventSink
	mu    sync.RWMutex
}

func NewRegistry(sink EventSink) *Registry {
	if sink == nil {
		sink = NopSink{}
	}
	return &Registry{
		books: make(map[string]*OrderBook),
		sink:  sink,
	}
}

// GetOrCreate returns the book for symbol, creating it on first sight.
func (r *Registry) GetOrCreate(symbol string) *OrderBook {
	r.mu.RLock()
	if ob, exists := r.books[symbol]; exists {
		r.mu.RUnlock()
		return ob
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// edge case: double-check after acquiring write lock
	if ob, exists := r.books[symbol]; exists {
		return ob
	}

	ob := NewOrderBook(symbol, r.sink)
	r.books[symbol] = ob
	return ob
}

// Get returns the book for symbol without creating one.
func (r *Registry) Get(symbol string) (*OrderBook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ob, exists := r.books[symbol]
	return ob, exists
}

// Remove deletes an idle book. It refuses while orders are still resting so
// a cancel can never race against its book disappearing.
func (r *Registry) Remove(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ob, exists := r.books[symbol]
	if !exists {
		return ErrOrderNotFound
	}
	if ob.OrderCount() > 0 {
		return ErrBookNotEmpty
	}
	delete(r.books, symbol)
	return nil
}

// Symbols returns the active symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.books))
	for symbol := range r.books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Books returns the current set of books. The slice is a copy; the books
// are shared.
func (r *Registry) Books() []*OrderBook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	books := make([]*OrderBook, 0, len(r.books))
	for _, ob := range r.books {
		books = append(books, ob)
	}
	return books
}

// Count returns the number of active books.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}
