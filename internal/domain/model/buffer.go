package model

// BoundedBuffer is a fixed-capacity FIFO that evicts the oldest element
// when full. It does no locking of its own; owners that share one buffer
// across goroutines must synchronize around it.
type BoundedBuffer[T any] struct {
	items []T
	head  int
	size  int
}

func NewBoundedBuffer[T any](capacity int) *BoundedBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedBuffer[T]{items: make([]T, capacity)}
}

// Push appends item, evicting the oldest element when the buffer is full.
func (b *BoundedBuffer[T]) Push(item T) {
	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = item
	if b.size == len(b.items) {
		b.head = (b.head + 1) % len(b.items)
	} else {
		b.size++
	}
}

// GetAll returns a copy of the contents in insertion order.
func (b *BoundedBuffer[T]) GetAll() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// GetLast returns a copy of the most recent min(n, Len()) elements,
// oldest first.
func (b *BoundedBuffer[T]) GetLast(n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > b.size {
		n = b.size
	}
	out := make([]T, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+start+i)%len(b.items)]
	}
	return out
}

func (b *BoundedBuffer[T]) Clear() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}

func (b *BoundedBuffer[T]) Len() int { return b.size }

func (b *BoundedBuffer[T]) Cap() int { return len(b.items) }
