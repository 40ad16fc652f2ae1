package orderbook

// Execution is one fill between an incoming order and a resting one.
type Execution struct {
	Tick        int64
	Qty         int64
	TakerID     int64
	TakerSource SourceType
	TakerSide   Side
	MakerID     int64
	MakerSource SourceType
}

// Fill is the result of matching against one level.
// Qty is total traded volume, Shadow is how much the level's VolShadow dropped.
type Fill struct {
	Qty        int64
	Shadow     int64
	Executions []Execution
	Consumed   []int64 // resting user order ids removed by the match
}

// PriceLevel is a queue of order slots at a single price.
// Deleted slots are emptied, never compacted, so stored indices stay valid.
type PriceLevel struct {
	Tick      int64
	Vol       int64
	VolShadow int64
	Count     int

	slots []Handle
	mode  Mode
	arena *Arena
}

func newPriceLevel(tick int64, mode Mode, arena *Arena) *PriceLevel {
	return &PriceLevel{
		Tick:  tick,
		mode:  mode,
		arena: arena,
	}
}

// counted reports whether o's real volume belongs in Vol.
func (p *PriceLevel) counted(o *L3Order) bool {
	return p.mode == Live || o.Source == LocalOrder
}

func (p *PriceLevel) attach(o *L3Order) {
	if p.counted(o) {
		p.Vol += o.Vol
	}
	p.VolShadow += o.VolShadow
}

func (p *PriceLevel) detach(o *L3Order) {
	if p.counted(o) {
		p.Vol -= o.Vol
	}
	p.VolShadow -= o.VolShadow
}

// Visible is the volume a participant observes at this level.
func (p *PriceLevel) Visible() int64 {
	if p.mode == Backtest {
		return p.VolShadow
	}
	return p.Vol
}

func (p *PriceLevel) Empty() bool {
	return p.Count == 0
}

// ---------------- Queue ----------------

// AddOrder appends h. Its position is the volume already queued: real volume
// for local orders, shadow volume for user orders.
func (p *PriceLevel) AddOrder(h Handle) {
	o := p.arena.Get(h)
	if o.Source == LocalOrder {
		o.Position = p.Vol
	} else {
		o.Position = p.VolShadow
	}
	p.slots = append(p.slots, h)
	o.Idx = len(p.slots)
	p.attach(o)
	p.Count++
}

func (p *PriceLevel) DeleteOrder(h Handle) error {
	o := p.arena.Get(h)
	if o.Idx < 1 || o.Idx > len(p.slots) {
		return ErrOrderNotFound
	}
	cur, ok := p.arena.Lookup(p.slots[o.Idx-1])
	if !ok || cur.ID != o.ID || cur.Source != o.Source {
		return ErrOrderNotFound
	}
	p.detach(o)
	p.remove(o)
	p.UpdateOrderPosition()
	return nil
}

// remove tombstones an already detached order.
func (p *PriceLevel) remove(o *L3Order) {
	p.slots[o.Idx-1] = 0
	o.Idx = 0
	o.Side = None
	p.Count--
}

// Walk visits resting orders in arrival order.
func (p *PriceLevel) Walk(fn func(o *L3Order) bool) {
	for _, h := range p.slots {
		if h == 0 {
			continue
		}
		if !fn(p.arena.Get(h)) {
			return
		}
	}
}

// UpdateOrderPosition recomputes queue positions. Local orders report the
// real volume ahead of them, user orders the shadow volume ahead.
func (p *PriceLevel) UpdateOrderPosition() {
	var ahead, aheadShadow int64
	p.Walk(func(o *L3Order) bool {
		if o.Source == LocalOrder {
			o.Position = ahead
		} else {
			o.Position = aheadShadow
		}
		if p.counted(o) {
			ahead += o.Vol
		}
		aheadShadow += o.VolShadow
		return true
	})
}

// Depth is the real volume of every resting order, user orders included.
func (p *PriceLevel) Depth() int64 {
	var v int64
	p.Walk(func(o *L3Order) bool {
		v += o.Vol
		return true
	})
	return v
}

// ---------------- Matching ----------------

// Match trades in against the queue with the discipline of the level's mode.
func (p *PriceLevel) Match(in *L3Order) Fill {
	return p.match(in, p.mode == Live)
}

func (p *PriceLevel) match(in *L3Order, live bool) Fill {
	var f Fill
	shadowBefore := p.VolShadow
	if live {
		p.liveMatch(in, &f)
	} else {
		p.shadowMatch(in, &f)
	}
	f.Shadow = shadowBefore - p.VolShadow
	if f.Qty > 0 {
		p.UpdateOrderPosition()
	}
	return f
}

func (p *PriceLevel) liveMatch(in *L3Order, f *Fill) {
	for _, h := range p.slots {
		if in.Vol == 0 {
			return
		}
		if h == 0 {
			continue
		}
		r := p.arena.Get(h)
		if in.sameAccount(r) {
			continue
		}
		t := min(in.Vol, r.Vol)
		if t == 0 {
			continue
		}

		p.detach(r)
		in.Vol -= t
		r.Vol -= t
		in.settle()
		r.settle()
		p.execute(in, r, t, f)
	}
}

// shadowMatch replays history and the counterfactual live book side by side.
// Local/Local trades real volume. A local order meeting a user order only
// spends the local order's shadow volume, so history is never rewritten.
func (p *PriceLevel) shadowMatch(in *L3Order, f *Fill) {
	for _, h := range p.slots {
		if in.Vol == 0 {
			return
		}
		if h == 0 {
			continue
		}
		r := p.arena.Get(h)
		if in.sameAccount(r) {
			continue
		}

		var t int64
		switch {
		case in.Source == LocalOrder && r.Source == LocalOrder:
			t = min(in.Vol, r.Vol)
		case in.Source == LocalOrder:
			t = min(in.VolShadow, r.Vol)
		case r.Source == LocalOrder:
			t = min(in.Vol, r.VolShadow)
		default:
			t = min(in.Vol, r.Vol)
		}
		if t == 0 {
			continue
		}

		p.detach(r)
		switch {
		case in.Source == LocalOrder && r.Source == LocalOrder:
			in.Vol -= t
			r.Vol -= t
		case in.Source == LocalOrder:
			in.VolShadow -= t
			r.Vol -= t
		case r.Source == LocalOrder:
			in.Vol -= t
			r.VolShadow -= t
		default:
			in.Vol -= t
			r.Vol -= t
		}
		in.settle()
		r.settle()
		p.execute(in, r, t, f)
	}
}

// execute records a fill and re-attaches or tombstones the resting order.
func (p *PriceLevel) execute(in, r *L3Order, t int64, f *Fill) {
	f.Qty += t
	f.Executions = append(f.Executions, Execution{
		Tick:        p.Tick,
		Qty:         t,
		TakerID:     in.ID,
		TakerSource: in.Source,
		TakerSide:   in.Side,
		MakerID:     r.ID,
		MakerSource: r.Source,
	})
	if r.Vol == 0 {
		if r.Source == UserOrder {
			f.Consumed = append(f.Consumed, r.ID)
		}
		p.remove(r)
		return
	}
	p.attach(r)
}
