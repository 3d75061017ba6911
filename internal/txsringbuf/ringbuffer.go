// Package txsringbuf provides a fixed-capacity, oldest-evicted-first buffer.
package txsringbuf

// RingBuffer is a fixed-size collection of recent items. Adding an item to a
// full buffer evicts the oldest item.
//
// RingBuffer is not safe for concurrent use. Callers are expected to guard it
// with their own lock, typically alongside other state that must change
// atomically with it.
type RingBuffer[T any] struct {
	buf []T // fully allocated at construction
	cur int // index for next write, walk backwards to read
	len int // count of actual values
}

// New returns an empty ring buffer, pre-allocated with the given capacity.
// A capacity less than 1 is treated as 1.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		buf: make([]T, capacity),
	}
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}

// Add the value to the buffer. If the buffer was full, the oldest value is
// evicted, and returned along with true.
func (rb *RingBuffer[T]) Add(val T) (evicted T, ok bool) {
	if rb.len >= len(rb.buf) {
		evicted, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len++
	}

	rb.cur++
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return evicted, ok
}

// Walk calls fn for each value, from the newest to the oldest. If fn returns
// an error, the walk stops and that error is returned.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	for i := 0; i < rb.len; i++ {
		idx := rb.cur - 1 - i
		if idx < 0 {
			idx += len(rb.buf)
		}
		if err := fn(rb.buf[idx]); err != nil {
			return err
		}
	}
	return nil
}

// Slice returns a copy of the values, ordered from the oldest to the newest.
func (rb *RingBuffer[T]) Slice() []T {
	res := make([]T, rb.len)
	for i := range res {
		// The oldest value is len values back from the write cursor.
		idx := rb.cur - rb.len + i
		if idx < 0 {
			idx += len(rb.buf)
		}
		res[i] = rb.buf[idx]
	}
	return res
}

// Resize changes the capacity of the buffer. If the new capacity is smaller
// than the number of values, the oldest values are evicted, and returned from
// oldest to newest. A capacity less than 1 is ignored.
func (rb *RingBuffer[T]) Resize(capacity int) (evicted []T) {
	if capacity < 1 || capacity == len(rb.buf) {
		return nil
	}

	all := rb.Slice()
	if len(all) > capacity {
		evicted, all = all[:len(all)-capacity], all[len(all)-capacity:]
	}

	rb.buf = make([]T, capacity)
	copy(rb.buf, all)
	rb.len = len(all)
	rb.cur = len(all)
	if rb.cur >= capacity {
		rb.cur -= capacity
	}

	return evicted
}
