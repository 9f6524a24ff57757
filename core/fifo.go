package core

// Queue is a fixed-capacity ring buffer. It never grows; writers learn about
// a full queue from the return value.
type Queue[T any] struct {
	buf  []T
	head int
	n    int
}

// NewQueue allocates a queue holding at most capacity elements.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{buf: make([]T, capacity)}
}

func (q *Queue[T]) Cap() int      { return len(q.buf) }
func (q *Queue[T]) Len() int      { return q.n }
func (q *Queue[T]) Free() int     { return len(q.buf) - q.n }
func (q *Queue[T]) IsEmpty() bool { return q.n == 0 }
func (q *Queue[T]) IsFull() bool  { return q.n == len(q.buf) }

// Push appends v, reporting false when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	if q.IsFull() {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	return true
}

// PushAll appends every element of vs or none of them.
func (q *Queue[T]) PushAll(vs []T) bool {
	if len(vs) > q.Free() {
		return false
	}
	tail := (q.head + q.n) % max(len(q.buf), 1)
	k := copy(q.buf[tail:], vs)
	copy(q.buf, vs[k:])
	q.n += len(vs)
	return true
}

// Peek returns the head element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the head element.
func (q *Queue[T]) Pop() (T, bool) {
	v, ok := q.Peek()
	if !ok {
		return v, false
	}
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// PeekInto copies up to len(dst) elements from the head into dst without
// consuming them and returns how many were copied.
func (q *Queue[T]) PeekInto(dst []T) int {
	n := min(len(dst), q.n)
	if n == 0 {
		return 0
	}
	end := q.head + n
	if end <= len(q.buf) {
		return copy(dst, q.buf[q.head:end])
	}
	k := copy(dst, q.buf[q.head:])
	copy(dst[k:n], q.buf[:end-len(q.buf)])
	return n
}

// Discard drops up to n elements from the head and returns how many were
// dropped.
func (q *Queue[T]) Discard(n int) int {
	n = min(n, q.n)
	if n <= 0 {
		return 0
	}
	q.head = (q.head + n) % len(q.buf)
	q.n -= n
	if q.n == 0 {
		q.head = 0
	}
	return n
}

// PopInto moves up to len(dst) elements from the head into dst.
func (q *Queue[T]) PopInto(dst []T) int {
	return q.Discard(q.PeekInto(dst))
}
