package engine

import (
	"fmt"
	"sync/atomic"
)

// ringSlot pairs an element with its sequence word. The sequence is the
// publication barrier: producers store the value first and the sequence
// last, consumers load the sequence first and the value after, so a slot is
// never read half-written.
type ringSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded lock-free queue over a power-of-two slot array. Multiple
// producers may TryPush concurrently; they claim slots by CAS on the tail
// and publish through the per-slot sequence, so a claimed-but-unpublished
// slot simply makes later pops report empty for a moment instead of ever
// exposing torn data. The engine runs one consumer per ring, though TryPop
// is written to the same claim protocol and tolerates more.
//
// Neither operation blocks or retries on full/empty: callers get
// ErrQueueFull or ErrQueueEmpty and own the back-off policy.
type Ring[T any] struct {
	head atomic.Uint64 // next slot to pop
	_    [56]byte      // pad to a cache line so producers and the consumer don't false-share
	tail atomic.Uint64 // next slot to claim
	_    [56]byte

	slots []ringSlot[T]
	mask  uint64
}

// NewRing builds a ring with the given capacity, which must be a non-zero
// power of two so slot indexing reduces to a mask.
func NewRing[T any](capacity uint64) (*Ring[T], error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: ring capacity %d is not a power of two", ErrStartupFailed, capacity)
	}
	r := &Ring[T]{
		slots: make([]ringSlot[T], capacity),
		mask:  capacity - 1,
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// TryPush appends v or returns ErrQueueFull. It never blocks; on full the
// caller keeps ownership of v and decides whether to drop or retry.
func (r *Ring[T]) TryPush(v T) error {
	for {
		tail := r.tail.Load()
		slot := &r.slots[tail&r.mask]
		seq := slot.seq.Load()

		switch {
		case seq == tail:
			if r.tail.CompareAndSwap(tail, tail+1) {
				slot.val = v
				slot.seq.Store(tail + 1)
				return nil
			}
		case seq < tail:
			// consumer hasn't freed this slot yet: a full lap behind
			return ErrQueueFull
		}
		// lost the claim race; reload and try the next position
	}
}

// TryPop removes the oldest element or returns ErrQueueEmpty.
func (r *Ring[T]) TryPop() (T, error) {
	var zero T
	for {
		head := r.head.Load()
		slot := &r.slots[head&r.mask]
		seq := slot.seq.Load()

		switch {
		case seq == head+1:
			if r.head.CompareAndSwap(head, head+1) {
				v := slot.val
				slot.val = zero
				slot.seq.Store(head + uint64(len(r.slots)))
				return v, nil
			}
		case seq < head+1:
			// slot not yet published
			return zero, ErrQueueEmpty
		}
	}
}

// Len reports the number of queued elements. With concurrent producers the
// value is a snapshot that may be stale by the time it returns.
func (r *Ring[T]) Len() uint64 {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return tail - head
}

// Cap returns the fixed slot count.
func (r *Ring[T]) Cap() uint64 { return uint64(len(r.slots)) }

func (r *Ring[T]) IsEmpty() bool { return r.Len() == 0 }

func (r *Ring[T]) IsFull() bool { return r.Len() >= r.Cap() }

// Clear resets the ring to empty and zeroes every slot so held pointers are
// released. It is not safe to call concurrently with TryPush or TryPop.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.slots {
		r.slots[i].val = zero
		r.slots[i].seq.Store(uint64(i))
	}
	r.head.Store(0)
	r.tail.Store(0)
}
