package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// MarketDepth is single-writer and deterministic.
//
// Both sides are ordered maps keyed so that the best level is the minimum
// key: asks by tick, bids by negated tick.
type MarketDepth struct {
	mode     Mode
	tickSize decimal.Decimal
	lotSize  decimal.Decimal

	bids *btree.Map[int64, *PriceLevel]
	asks *btree.Map[int64, *PriceLevel]

	bestBid  int64
	bestAsk  int64
	lastTick int64

	// shadow view: what a live participant sees in backtest mode
	shadowBid      int64
	shadowAsk      int64
	lastShadowTick int64

	OpenTick  int64
	CloseTick int64
	Timestamp int64

	orders map[int64]Handle // resting user orders
	arena  *Arena
	stats  Statistics
	tape   []Execution
}

func NewMarketDepth(mode Mode, tickSize, lotSize decimal.Decimal, arena *Arena) *MarketDepth {
	if arena == nil {
		arena = NewArena(nil)
	}
	return &MarketDepth{
		mode:      mode,
		tickSize:  tickSize,
		lotSize:   lotSize,
		bids:      btree.NewMap[int64, *PriceLevel](32),
		asks:      btree.NewMap[int64, *PriceLevel](32),
		bestBid:   InvalidMin,
		bestAsk:   InvalidMax,
		shadowBid: InvalidMin,
		shadowAsk: InvalidMax,
		orders:    make(map[int64]Handle),
		arena:     arena,
		stats:     NewStatistics(),
	}
}

// ---------------- Accessors ----------------

func (d *MarketDepth) Mode() Mode                { return d.mode }
func (d *MarketDepth) TickSize() decimal.Decimal { return d.tickSize }
func (d *MarketDepth) LotSize() decimal.Decimal  { return d.lotSize }
func (d *MarketDepth) Arena() *Arena             { return d.arena }
func (d *MarketDepth) Statistics() *Statistics   { return &d.stats }
func (d *MarketDepth) BestBidTick() int64        { return d.bestBid }
func (d *MarketDepth) BestAskTick() int64        { return d.bestAsk }
func (d *MarketDepth) LastTick() int64           { return d.lastTick }

// ShadowBest returns best bid, best ask and last tick of the shadow view.
func (d *MarketDepth) ShadowBest() (bid, ask, last int64) {
	return d.shadowBid, d.shadowAsk, d.lastShadowTick
}

// RestoreCaches sets the last ticks on recovery. Best prices are rebuilt from the levels.
func (d *MarketDepth) RestoreCaches(last, lastShadow int64, stats Statistics) {
	d.lastTick = last
	d.lastShadowTick = lastShadow
	d.stats = stats
	d.refresh()
}

func (d *MarketDepth) BestBid() decimal.Decimal {
	if d.bestBid == InvalidMin {
		return decimal.Zero
	}
	return d.TickPrice(d.bestBid)
}

func (d *MarketDepth) BestAsk() decimal.Decimal {
	if d.bestAsk == InvalidMax {
		return decimal.Zero
	}
	return d.TickPrice(d.bestAsk)
}

func (d *MarketDepth) TickPrice(tick int64) decimal.Decimal {
	return decimal.NewFromInt(tick).Mul(d.tickSize)
}

func (d *MarketDepth) LotQty(vol int64) decimal.Decimal {
	return decimal.NewFromInt(vol).Mul(d.lotSize)
}

// UserOrder returns the handle of a resting user order.
func (d *MarketDepth) UserOrder(id int64) (Handle, bool) {
	h, ok := d.orders[id]
	return h, ok
}

// DrainTape returns and clears executions since the last drain.
func (d *MarketDepth) DrainTape() []Execution {
	out := d.tape
	d.tape = nil
	return out
}

func (d *MarketDepth) book(side Side) *btree.Map[int64, *PriceLevel] {
	if side == Buy {
		return d.bids
	}
	return d.asks
}

func keyOf(side Side, tick int64) int64 {
	if side == Buy {
		return -tick
	}
	return tick
}

// ---------------- Commands ----------------

// Add rests the order without matching.
func (d *MarketDepth) Add(h Handle) error {
	o := d.arena.Get(h)
	if o.Side != Buy && o.Side != Sell {
		return ErrMarketSide
	}
	if o.Source == UserOrder {
		if _, dup := d.orders[o.ID]; dup {
			return fmt.Errorf("order %d: %w", o.ID, ErrOrderIdExist)
		}
		d.orders[o.ID] = h
	}

	book := d.book(o.Side)
	key := keyOf(o.Side, o.PriceTick)
	lvl, ok := book.Get(key)
	if !ok {
		lvl = newPriceLevel(o.PriceTick, d.mode, d.arena)
		book.Set(key, lvl)
	}
	lvl.AddOrder(h)

	if o.Side == Buy {
		d.bestBid = max(d.bestBid, o.PriceTick)
		d.stats.TotalBidOrder++
	} else {
		d.bestAsk = min(d.bestAsk, o.PriceTick)
		d.stats.TotalAskOrder++
	}
	d.refreshShadow()
	return nil
}

// MatchOrder walks the opposite side from best to worst. Only levels that
// fill count toward maxDepth, and maxDepth <= 0 means unlimited levels.
func (d *MarketDepth) MatchOrder(h Handle, maxDepth int) (int64, error) {
	filled, _, err := d.matchOrder(h, maxDepth, d.mode == Live, true)
	return filled, err
}

// matchOrder crosses h against the opposite side. Unrecorded matches leave
// statistics and the tape alone and hand the executions back instead.
func (d *MarketDepth) matchOrder(h Handle, maxDepth int, live, record bool) (int64, []Execution, error) {
	o := d.arena.Get(h)
	var book *btree.Map[int64, *PriceLevel]
	switch o.Side {
	case Buy:
		book = d.asks
	case Sell:
		book = d.bids
	default:
		return 0, nil, ErrMarketSide
	}

	var filled int64
	var emptied []int64
	var execs []Execution
	visited := 0

	book.Scan(func(key int64, lvl *PriceLevel) bool {
		if o.Vol == 0 {
			return false
		}
		if maxDepth > 0 && visited >= maxDepth {
			return false
		}
		if !crosses(o.Side, o.PriceTick, lvl.Tick) {
			return false
		}

		f := lvl.match(o, live)
		switch {
		case f.Qty == 0:
		case record:
			visited++
			filled += f.Qty
			d.lastTick = lvl.Tick
			d.stats.AddFill(o.Side, lvl.Tick, f.Qty)
			d.stats.Trades += int64(len(f.Executions))
			d.tape = append(d.tape, f.Executions...)
		default:
			visited++
			filled += f.Qty
			execs = append(execs, f.Executions...)
		}
		if f.Shadow > 0 {
			d.lastShadowTick = lvl.Tick
		}
		for _, id := range f.Consumed {
			delete(d.orders, id)
		}
		if lvl.Empty() {
			emptied = append(emptied, key)
		}
		return true
	})

	for _, k := range emptied {
		book.Delete(k)
	}
	d.refresh()
	return filled, execs, nil
}

// CancelOrder cancels a resting user order by id.
func (d *MarketDepth) CancelOrder(id int64) (Side, error) {
	h, ok := d.orders[id]
	if !ok {
		return None, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return d.CancelHandle(h)
}

// CancelHandle cancels any resting order. Replayed orders are cancelled this way.
func (d *MarketDepth) CancelHandle(h Handle) (Side, error) {
	o := d.arena.Get(h)
	side := o.Side
	if !o.Resting() {
		return None, fmt.Errorf("order %d: %w", o.ID, ErrOrderNotFound)
	}
	book := d.book(side)
	key := keyOf(side, o.PriceTick)
	lvl, ok := book.Get(key)
	if !ok {
		invariant(fmt.Sprintf("order %d rests at missing level %d", o.ID, o.PriceTick))
	}
	if err := lvl.DeleteOrder(h); err != nil {
		return None, fmt.Errorf("order %d: %w", o.ID, err)
	}
	if o.Source == UserOrder {
		delete(d.orders, o.ID)
	}
	if lvl.Empty() {
		book.Delete(key)
	}
	d.stats.TotalCancel++
	d.refresh()
	return side, nil
}

// ModifyOrder re-prices a resting user order. Queue priority is lost.
func (d *MarketDepth) ModifyOrder(id int64, tick, vol int64) error {
	h, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	o := d.arena.Get(h)
	side := o.Side
	if _, err := d.CancelHandle(h); err != nil {
		return err
	}
	d.stats.TotalCancel--
	o.Side = side
	o.PriceTick = tick
	o.Vol = vol
	o.settle()
	return d.Add(h)
}

// ---------------- Queries ----------------

// VolAtTick is the visible volume resting at tick on side.
func (d *MarketDepth) VolAtTick(side Side, tick int64) int64 {
	lvl, ok := d.book(side).Get(keyOf(side, tick))
	if !ok {
		return 0
	}
	return lvl.Visible()
}

// Level is a (tick, volume, count) triple.
type Level struct {
	Tick  int64
	Vol   int64
	Count int
}

// Levels returns up to n non-empty levels of side, best first. n <= 0 means all.
func (d *MarketDepth) Levels(side Side, n int) []Level {
	out := make([]Level, 0, max(n, 0))
	d.book(side).Scan(func(_ int64, lvl *PriceLevel) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		if v := lvl.Visible(); v > 0 {
			out = append(out, Level{Tick: lvl.Tick, Vol: v, Count: lvl.Count})
		}
		return true
	})
	return out
}

// WalkLevels visits every level of side, best first.
func (d *MarketDepth) WalkLevels(side Side, fn func(lvl *PriceLevel) bool) {
	d.book(side).Scan(func(_ int64, lvl *PriceLevel) bool {
		return fn(lvl)
	})
}

// VisibleVolume sums the visible volume of side.
func (d *MarketDepth) VisibleVolume(side Side) int64 {
	var v int64
	d.book(side).Scan(func(_ int64, lvl *PriceLevel) bool {
		v += lvl.Visible()
		return true
	})
	return v
}

// FillableVolume is how much of the user order h a sweep up to its limit
// would fill now, capped at its volume. Like MatchOrder it skips the
// order's own account, and in backtest local orders only offer shadow volume.
func (d *MarketDepth) FillableVolume(h Handle) int64 {
	o := d.arena.Get(h)
	live := d.mode == Live
	var v int64
	d.book(o.Side.Opposite()).Scan(func(_ int64, lvl *PriceLevel) bool {
		if !crosses(o.Side, o.PriceTick, lvl.Tick) {
			return false
		}
		lvl.Walk(func(r *L3Order) bool {
			if !o.sameAccount(r) {
				v += reach(r, live)
			}
			return v < o.Vol
		})
		return v < o.Vol
	})
	return min(v, o.Vol)
}

// reach is the volume a resting order can give a user taker.
func reach(r *L3Order, live bool) int64 {
	if !live && r.Source == LocalOrder {
		return r.VolShadow
	}
	return r.Vol
}

// ---------------- Caches ----------------

// refresh drops empty leading levels and recomputes the best prices.
func (d *MarketDepth) refresh() {
	d.bestBid = d.front(d.bids, InvalidMin)
	d.bestAsk = d.front(d.asks, InvalidMax)
	d.refreshShadow()
}

func (d *MarketDepth) front(book *btree.Map[int64, *PriceLevel], empty int64) int64 {
	for {
		key, lvl, ok := book.Min()
		if !ok {
			return empty
		}
		if !lvl.Empty() {
			return lvl.Tick
		}
		book.Delete(key)
	}
}

func (d *MarketDepth) refreshShadow() {
	d.shadowBid = InvalidMin
	d.shadowAsk = InvalidMax
	d.bids.Scan(func(_ int64, lvl *PriceLevel) bool {
		if lvl.VolShadow > 0 {
			d.shadowBid = lvl.Tick
			return false
		}
		return true
	})
	d.asks.Scan(func(_ int64, lvl *PriceLevel) bool {
		if lvl.VolShadow > 0 {
			d.shadowAsk = lvl.Tick
			return false
		}
		return true
	})
}
