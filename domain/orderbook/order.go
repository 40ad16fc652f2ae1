package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Recon is the reconciliation block a replayed order carries: how the order
// actually traded, rested and was first submitted in the historical stream.
// Prices are ticks, quantities are lots.
type Recon struct {
	MatchPrice int64
	MatchQty   int64
	MatchSeq   int64

	RestPrice int64
	RestQty   int64
	RestSeq   int64

	InitPrice int64
	InitQty   int64
	InitSeq   int64

	CancelSeq int64
}

// L3Order is the matching-engine record.
type L3Order struct {
	Source    SourceType
	Account   string // empty means no account
	ID        int64
	Side      Side
	PriceTick int64

	Vol       int64 // remaining real volume, lots
	VolShadow int64 // volume a live participant can still trade against

	Idx      int   // 1-based slot in its level, 0 when not resting
	Position int64 // volume queued ahead

	Timestamp int64
	Seq       int64
	Type      OrderType
	Recon     *Recon // LocalOrder only

	handle Handle
}

func NewL3Order(
	src SourceType,
	account string,
	id int64,
	side Side,
	tick int64,
	vol int64,
	ts int64,
	typ OrderType,
) L3Order {
	return L3Order{
		Source:    src,
		Account:   account,
		ID:        id,
		Side:      side,
		PriceTick: tick,
		Vol:       vol,
		VolShadow: vol,
		Timestamp: ts,
		Type:      typ,
	}
}

func (o *L3Order) Handle() Handle {
	return o.handle
}

// Resting reports whether the order currently occupies a level slot.
func (o *L3Order) Resting() bool {
	return o.Idx > 0 && o.Side != None
}

func (o *L3Order) sameAccount(other *L3Order) bool {
	return o.Account != "" && o.Account == other.Account
}

// settle restores the shadow invariant after a volume change.
func (o *L3Order) settle() {
	if o.Source == UserOrder {
		o.VolShadow = o.Vol
		return
	}
	if o.VolShadow > o.Vol {
		o.VolShadow = o.Vol
	}
}

// ---------------- Arena ----------------

// Handle addresses an order in the Arena. Zero is never issued.
type Handle uint32

// Allocator supplies L3Order storage. infra/memory.Pool satisfies it.
type Allocator interface {
	Get() *L3Order
	Put(*L3Order)
}

type heapAllocator struct{}

func (heapAllocator) Get() *L3Order  { return &L3Order{} }
func (heapAllocator) Put(*L3Order) {}

// Arena owns every L3Order. Containers hold handles only.
// Handles are never reissued, so a stale handle fails lookup instead of
// aliasing a newer order.
type Arena struct {
	alloc Allocator
	slots []*L3Order
	live  int
}

func NewArena(alloc Allocator) *Arena {
	if alloc == nil {
		alloc = heapAllocator{}
	}
	return &Arena{
		alloc: alloc,
		slots: make([]*L3Order, 1, 1024),
	}
}

// Alloc stores a copy of o and returns its handle.
func (a *Arena) Alloc(o L3Order) Handle {
	p := a.alloc.Get()
	*p = o
	h := Handle(len(a.slots))
	p.handle = h
	a.slots = append(a.slots, p)
	a.live++
	return h
}

func (a *Arena) Lookup(h Handle) (*L3Order, bool) {
	if h == 0 || int(h) >= len(a.slots) || a.slots[h] == nil {
		return nil, false
	}
	return a.slots[h], true
}

// Get returns a live order. A dead handle is an engine bug.
func (a *Arena) Get(h Handle) *L3Order {
	o, ok := a.Lookup(h)
	if !ok {
		invariant(fmt.Sprintf("arena handle %d is not live", h))
	}
	return o
}

// Release returns the order storage to the allocator. The record itself is
// left intact until the allocator hands it out again.
func (a *Arena) Release(h Handle) {
	o, ok := a.Lookup(h)
	if !ok {
		return
	}
	a.slots[h] = nil
	a.live--
	a.alloc.Put(o)
}

func (a *Arena) Live() int {
	return a.live
}

// ---------------- Order ----------------

// Order is the user-facing record.
type Order struct {
	ID        int64           `json:"order_id"`
	Code      string          `json:"stock_code"`
	Account   string          `json:"account,omitempty"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"-"`
	TypeCode  string          `json:"order_type"`
	LocalTime int64           `json:"local_time"`
	ExchTime  int64           `json:"exch_time"`
	Price     decimal.Decimal `json:"price"`
	PriceTick int64           `json:"price_tick"`
	Qty       int64           `json:"qty"`
	FilledQty int64           `json:"filled_qty"`
	LeftQty   int64           `json:"left_qty"`
	Status    Status          `json:"status"`
	Position  int64           `json:"position"`
	Seq       int64           `json:"seq"`
	TargetID  int64           `json:"target_id,omitempty"` // Cancel orders
}

func NewOrder(
	id int64,
	code string,
	account string,
	side Side,
	typ OrderType,
	localTime int64,
	price decimal.Decimal,
	qty int64,
) *Order {
	return &Order{
		ID:        id,
		Code:      code,
		Account:   account,
		Side:      side,
		Type:      typ,
		TypeCode:  typ.String(),
		LocalTime: localTime,
		Price:     price,
		Qty:       qty,
		LeftQty:   qty,
		Status:    New,
	}
}

// Update derives the status from the filled quantity. Terminal orders are left alone.
func (o *Order) Update() {
	if o.Status.Terminal() {
		return
	}
	if o.FilledQty >= o.Qty {
		o.FilledQty = o.Qty
		o.LeftQty = 0
		o.Status = Filled
		return
	}
	o.LeftQty = o.Qty - o.FilledQty
	if o.FilledQty > 0 {
		o.Status = PartiallyFilled
	}
}

// Transition moves the order forward. Backward or post-terminal moves fail.
func (o *Order) Transition(to Status) error {
	if o.Status == to {
		return nil
	}
	ok := false
	switch o.Status {
	case New:
		ok = to == PartiallyFilled || to == Filled || to == Canceled
	case PartiallyFilled:
		ok = to == Filled || to == Canceled
	}
	if !ok {
		return fmt.Errorf("order %d %s -> %s: %w", o.ID, o.Status, to, ErrInvalidOrderStatus)
	}
	o.Status = to
	if to == Filled {
		o.LeftQty = 0
	}
	return nil
}
