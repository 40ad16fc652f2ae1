package memory

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed sync.Pool. It is the backing store of Recycler, which the
// order arena uses as its Allocator: released L3Orders wait in the retire
// ring until the broker reclaims them after a step, then come back here.
type Pool[T any] struct {
	p      *sync.Pool
	misses atomic.Uint64
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	pl := &Pool[T]{}
	pl.p = &sync.Pool{
		New: func() any {
			pl.misses.Add(1)
			return ctor()
		},
	}
	return pl
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

// Misses counts the objects built because the pool was empty.
func (p *Pool[T]) Misses() uint64 {
	return p.misses.Load()
}
