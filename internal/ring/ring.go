// Package ring implements fixed-capacity FIFO buffers used for telemetry history
// and the operator log.
package ring

import "iter"

// Buffer is a fixed-capacity FIFO. Pushing into a full buffer evicts the oldest
// element. Buffer is not safe for concurrent use; the state store serializes access.
type Buffer[T any] struct {
	data  []T
	start int
	size  int
}

// New returns an empty buffer holding at most capacity elements.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Push appends v, dropping the oldest element on overflow.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.data) {
		b.data[(b.start+b.size)%len(b.data)] = v
		b.size++
		return
	}
	b.data[b.start] = v
	b.start = (b.start + 1) % len(b.data)
}

// at returns the i-th oldest element.
func (b *Buffer[T]) at(i int) T {
	return b.data[(b.start+i)%len(b.data)]
}

// Last returns a copy of the newest n elements, oldest first. n larger than Len is clamped.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	off := b.size - n
	for i := range n {
		out[i] = b.at(off + i)
	}
	return out
}

// Window returns the most recent n samples, oldest first, left-padded with the zero
// value when fewer than n exist. The samples are copied when Window is called, so the
// sequence is a stable snapshot; it yields at most once.
func (b *Buffer[T]) Window(n int) iter.Seq[T] {
	if n < 0 {
		n = 0
	}
	tail := b.Last(n)
	pad := n - len(tail)
	used := false
	return func(yield func(T) bool) {
		if used {
			return
		}
		used = true
		var zero T
		for range pad {
			if !yield(zero) {
				return
			}
		}
		for _, v := range tail {
			if !yield(v) {
				return
			}
		}
	}
}
