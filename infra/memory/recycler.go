package memory

// Recycler defers reuse of released objects until Reclaim.
// Get, Put and Reclaim must be called from the owning goroutine.
type Recycler[T any] struct {
	pool *Pool[T]
	ring *RetireRing[T]

	reclaimed uint64
}

func NewRecycler[T any](ringSize uint64) *Recycler[T] {
	return &Recycler[T]{
		pool: NewPool(func() *T { return new(T) }),
		ring: NewRetireRing[T](ringSize),
	}
}

func (r *Recycler[T]) Get() *T {
	return r.pool.Get()
}

// Put retires v. When the ring is full v goes straight back to the pool.
func (r *Recycler[T]) Put(v *T) {
	if !r.ring.Enqueue(v) {
		r.pool.Put(v)
	}
}

// Reclaim returns every retired object to the pool.
func (r *Recycler[T]) Reclaim() int {
	n := 0
	for v := r.ring.Dequeue(); v != nil; v = r.ring.Dequeue() {
		r.pool.Put(v)
		n++
	}
	r.reclaimed += uint64(n)
	return n
}

func (r *Recycler[T]) Retired() int {
	return r.ring.Len()
}

func (r *Recycler[T]) Reclaimed() uint64 {
	return r.reclaimed
}

// Allocated counts the objects the pool had to build.
func (r *Recycler[T]) Allocated() uint64 {
	return r.pool.Misses()
}
