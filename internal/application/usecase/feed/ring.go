package feed

// Ring is a fixed-capacity FIFO. Once full, each Push evicts the oldest item.
// Not safe for concurrent use; the adapter guards it.
type Ring[T any] struct {
	buf   []T
	head  int // oldest item
	count int
}

// NewRing creates a ring holding at most capacity items (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(item T) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = item
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

func (r *Ring[T]) Len() int { return r.count }
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns a copy in arrival order, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := range r.count {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}
