package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ v int }

func TestRetireRing_FIFO(t *testing.T) {
	r := NewRetireRing[item](4)
	for i := 0; i < 4; i++ {
		require.True(t, r.Enqueue(&item{v: i}))
	}
	assert.False(t, r.Enqueue(&item{}), "full")
	assert.Equal(t, 4, r.Len())

	for i := 0; i < 4; i++ {
		assert.Equal(t, i, r.Dequeue().v)
	}
	assert.Nil(t, r.Dequeue())
}

func TestRetireRing_RejectsBadSize(t *testing.T) {
	assert.Panics(t, func() { NewRetireRing[item](3) })
	assert.Panics(t, func() { NewRetireRing[item](0) })
}

func TestRecycler_DefersReuse(t *testing.T) {
	r := NewRecycler[item](2)
	a := r.Get()
	b := r.Get()
	c := r.Get()

	r.Put(a)
	r.Put(b)
	r.Put(c) // ring full, pooled immediately
	assert.Equal(t, 2, r.Retired())

	assert.Equal(t, 2, r.Reclaim())
	assert.Zero(t, r.Retired())
	assert.Equal(t, uint64(2), r.Reclaimed())
	assert.NotNil(t, r.Get())
	assert.GreaterOrEqual(t, r.Allocated(), uint64(3))
}

func TestPool_CountsMisses(t *testing.T) {
	p := NewPool(func() *item { return &item{v: 7} })
	assert.Zero(t, p.Misses())
	v := p.Get()
	assert.Equal(t, 7, v.v)
	assert.Equal(t, uint64(1), p.Misses())
}
