// Package replay carries the historical L3 event stream into a broker.
package replay

import (
	"fmt"

	"l3sim/domain/orderbook"
)

// Event is one reconciled historical order event.
type Event struct {
	Seq       int64
	OrderID   int64
	Side      orderbook.Side
	PriceTick int64
	Vol       int64
	Timestamp int64
	Type      orderbook.OrderType
	Recon     orderbook.Recon
}

// IsCancel reports whether this event withdraws the order.
func (e Event) IsCancel() bool {
	return e.Recon.CancelSeq != 0 && e.Seq == e.Recon.CancelSeq
}

// L3Order converts the event into a replayed engine order.
func (e Event) L3Order() orderbook.L3Order {
	o := orderbook.NewL3Order(orderbook.LocalOrder, "", e.OrderID, e.Side, e.PriceTick, e.Vol, e.Timestamp, e.Type)
	o.Seq = e.Seq
	recon := e.Recon
	o.Recon = &recon
	return o
}

func (e Event) String() string {
	return fmt.Sprintf("seq=%d order=%d %s %d@%d ts=%d", e.Seq, e.OrderID, e.Side, e.Vol, e.PriceTick, e.Timestamp)
}

// Cursor yields events in strictly increasing seq order.
// Exhaustion is IsLast() == true. Calling Next past the end returns ErrEndOfData.
type Cursor interface {
	Next() (int64, Event, error)
	IsLast() bool
}

// SliceCursor replays an in-memory event list.
type SliceCursor struct {
	events []Event
	pos    int
}

func NewSliceCursor(events []Event) *SliceCursor {
	return &SliceCursor{events: events}
}

func (c *SliceCursor) Next() (int64, Event, error) {
	if c.pos >= len(c.events) {
		return 0, Event{}, orderbook.ErrEndOfData
	}
	ev := c.events[c.pos]
	c.pos++
	return ev.Seq, ev, nil
}

func (c *SliceCursor) IsLast() bool {
	return c.pos >= len(c.events)
}

// Drain reads every remaining event from c.
func Drain(c Cursor) ([]Event, error) {
	var out []Event
	for !c.IsLast() {
		_, ev, err := c.Next()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}
