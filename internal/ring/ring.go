// Package ring provides a fixed-capacity circular buffer shared by the
// filters, delay lines and elastic buffers of the synchronizer.
package ring

// Ring is a fixed-capacity circular buffer. It is not safe for concurrent use;
// every stage owns its rings exclusively.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

// New allocates an empty ring holding at most capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Full reports whether Len equals Cap.
func (r *Ring[T]) Full() bool { return r.size == len(r.buf) }

// Empty reports whether the ring holds no element.
func (r *Ring[T]) Empty() bool { return r.size == 0 }

func (r *Ring[T]) index(offset int) int {
	i := (r.head + offset) % len(r.buf)
	if i < 0 {
		i += len(r.buf)
	}
	return i
}

// Push appends v as the newest element. It returns false and leaves the ring
// untouched when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	if r.size == len(r.buf) {
		return false
	}
	r.buf[r.index(r.size)] = v
	r.size++
	return true
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = r.index(1)
	r.size--
	return v, true
}

// Shift appends v, evicting the oldest element when the ring is full. The
// evicted value (or the zero value) is returned.
func (r *Ring[T]) Shift(v T) T {
	var evicted T
	if r.size == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = r.index(1)
		return evicted
	}
	r.buf[r.index(r.size)] = v
	r.size++
	return evicted
}

// At returns the i-th oldest element, 0 being the oldest. It panics when i is
// out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ring: index out of range")
	}
	return r.buf[r.index(i)]
}

// Back returns the i-th newest element, 0 being the newest. It panics when i
// is out of range.
func (r *Ring[T]) Back(i int) T {
	return r.At(r.size - 1 - i)
}

// Fill sets every slot to v and marks the ring full.
func (r *Ring[T]) Fill(v T) {
	for i := range r.buf {
		r.buf[i] = v
	}
	r.head = 0
	r.size = len(r.buf)
}

// Reset empties the ring and zeroes its storage.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Drain pops up to len(out) elements into out and returns how many were
// written.
func (r *Ring[T]) Drain(out []T) int {
	n := 0
	for n < len(out) && r.size > 0 {
		out[n], _ = r.Pop()
		n++
	}
	return n
}
