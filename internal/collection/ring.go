package collection

// Ring is a bounded FIFO buffer; appending beyond capacity drops the oldest
// entries. Not safe for concurrent use; callers guard access.
type Ring[T any] struct {
	items []T
	cap   int
}

// NewRing creates a ring with the given capacity. Capacity below 1 defaults
// to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{cap: capacity}
}

// Append adds item, evicting the oldest entries when over capacity.
func (r *Ring[T]) Append(item T) {
	r.items = append(r.items, item)
	if excess := len(r.items) - r.cap; excess > 0 {
		r.items = r.items[excess:]
	}
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int { return len(r.items) }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return r.cap }

// Items returns the buffered items in insertion order.
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
