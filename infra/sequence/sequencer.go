package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers.
// Brokers stamp processed orders with it, the exchange draws order ids from it.
type Sequencer struct {
	next atomic.Int64
}

// New creates a sequencer whose first Next returns start+1.
func New(start int64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() int64 {
	return s.next.Load()
}

// Reset sets the sequencer to a specific value.
// Only used when a broker is restored from a snapshot.
func (s *Sequencer) Reset(v int64) {
	s.next.Store(v)
}

// AtLeast moves the sequencer forward to v. It never moves backwards.
func (s *Sequencer) AtLeast(v int64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
