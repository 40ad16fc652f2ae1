package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"l3sim/domain/orderbook"
	"l3sim/domain/session"
	"l3sim/hook"
	"l3sim/infra/memory"
	"l3sim/infra/sequence"
	"l3sim/replay"
)

/*
Broker owns one instrument: its book, its replay cursor and every user
order submitted for it.

It is single-threaded. The Exchange serialises calls into it.

Time only moves when the caller elapses it. On every clock advance the
session checks run, so each call auction fires exactly once.
*/

const retireRingSize = 1 << 12

type BrokerConfig struct {
	Code      string
	StockType string
	Mode      orderbook.Mode
	TickSize  decimal.Decimal
	LotSize   decimal.Decimal
	Start     int64 // initial clock, YYYYMMDDHHMMSSmmm
	PrevClose decimal.Decimal
}

type BrokerOption func(*Broker)

func WithBrokerLogger(l *zap.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

type Broker struct {
	code      string
	stockType string
	mode      orderbook.Mode
	tickSize  decimal.Decimal
	lotSize   decimal.Decimal
	prevClose int64

	depth    *orderbook.MarketDepth
	arena    *orderbook.Arena
	recycler *memory.Recycler[orderbook.L3Order]

	clock     int64
	seq       *sequence.Sequencer
	latestSeq int64

	pending []*orderbook.Order
	waiting []*orderbook.Order // sorted by LocalTime, stable

	orders map[int64]*orderbook.Order // every user order
	live   map[int64]orderbook.Handle // user orders still in the engine
	locals map[int64]orderbook.Handle // replayed orders by exchange order no

	dirty    []int64
	dirtySet map[int64]struct{}

	cursor replay.Cursor
	ahead  *replay.Event

	openDone  bool
	closeDone bool

	hooks      hook.Registry
	executions []orderbook.Execution

	log *zap.Logger
}

// NewBroker wires a broker with an empty book.
func NewBroker(cfg BrokerConfig, opts ...BrokerOption) (*Broker, error) {
	if !cfg.TickSize.IsPositive() || !cfg.LotSize.IsPositive() {
		return nil, fmt.Errorf("%s tick %s lot %s: %w", cfg.Code, cfg.TickSize, cfg.LotSize, orderbook.ErrInvalidOrderRequest)
	}
	if !session.Valid(cfg.Start) {
		return nil, fmt.Errorf("%s start %d: %w", cfg.Code, cfg.Start, orderbook.ErrInvalidTimestamp)
	}

	recycler := memory.NewRecycler[orderbook.L3Order](retireRingSize)
	arena := orderbook.NewArena(recycler)

	b := &Broker{
		code:      cfg.Code,
		stockType: cfg.StockType,
		mode:      cfg.Mode,
		tickSize:  cfg.TickSize,
		lotSize:   cfg.LotSize,
		depth:     orderbook.NewMarketDepth(cfg.Mode, cfg.TickSize, cfg.LotSize, arena),
		arena:     arena,
		recycler:  recycler,
		clock:     cfg.Start,
		seq:       sequence.New(0),
		orders:    make(map[int64]*orderbook.Order),
		live:      make(map[int64]orderbook.Handle),
		locals:    make(map[int64]orderbook.Handle),
		dirtySet:  make(map[int64]struct{}),
		log:       zap.NewNop(),
	}
	b.prevClose = b.tickOf(cfg.PrevClose)
	b.depth.Timestamp = cfg.Start
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("code", cfg.Code))
	return b, nil
}

//
// ──────────────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────────────
//

func (b *Broker) Code() string                  { return b.code }
func (b *Broker) Mode() orderbook.Mode          { return b.mode }
func (b *Broker) Depth() *orderbook.MarketDepth { return b.depth }
func (b *Broker) CurrentTime() int64            { return b.clock }
func (b *Broker) LatestSeq() int64              { return b.latestSeq }

func (b *Broker) SetPrevClose(price decimal.Decimal) {
	b.prevClose = b.tickOf(price)
}

// AttachCursor sets the historical event source. It can be set once.
func (b *Broker) AttachCursor(c replay.Cursor) error {
	if b.cursor != nil {
		return fmt.Errorf("%s: %w", b.code, orderbook.ErrStockDataExist)
	}
	b.cursor = c
	return nil
}

func (b *Broker) RegisterHook(name string, h hook.Hook, maxLevel int) error {
	return b.hooks.Register(name, h, maxLevel)
}

func (b *Broker) RemoveHook(name string) bool {
	return b.hooks.Remove(name)
}

// DrainExecutions returns and clears executions since the last drain.
func (b *Broker) DrainExecutions() []orderbook.Execution {
	out := b.executions
	b.executions = nil
	return out
}

//
// ──────────────────────────────────────────────────────────
// Units
// ──────────────────────────────────────────────────────────
//

func (b *Broker) tickOf(price decimal.Decimal) int64 {
	return price.Div(b.tickSize).Round(0).IntPart()
}

func (b *Broker) lotsOf(qty int64) int64 {
	return decimal.NewFromInt(qty).Div(b.lotSize).Round(0).IntPart()
}

func (b *Broker) sharesOf(vol int64) int64 {
	return decimal.NewFromInt(vol).Mul(b.lotSize).IntPart()
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// SubmitOrder queues a user order. Orders stamped after the clock wait until
// the clock reaches them.
func (b *Broker) SubmitOrder(o *orderbook.Order) error {
	if _, dup := b.orders[o.ID]; dup {
		return fmt.Errorf("order %d: %w", o.ID, orderbook.ErrOrderIdExist)
	}
	if o.Type != orderbook.Cancel {
		if o.Side != orderbook.Buy && o.Side != orderbook.Sell {
			return fmt.Errorf("order %d: %w", o.ID, orderbook.ErrMarketSide)
		}
		if b.lotsOf(o.Qty) <= 0 {
			return fmt.Errorf("order %d qty %d: %w", o.ID, o.Qty, orderbook.ErrInvalidOrderRequest)
		}
	}

	o.Code = b.code
	o.PriceTick = b.tickOf(o.Price)
	b.orders[o.ID] = o

	if o.LocalTime > b.clock {
		i := sort.Search(len(b.waiting), func(i int) bool { return b.waiting[i].LocalTime > o.LocalTime })
		b.waiting = slices.Insert(b.waiting, i, o)
		return nil
	}
	o.Seq = b.seq.Next()
	b.pending = append(b.pending, o)
	return nil
}

// Elapse advances the clock by durationMs and returns the shares filled by
// orders processed during the step.
func (b *Broker) Elapse(durationMs int64) (int64, error) {
	target, err := session.AddMillis(b.clock, durationMs)
	if err != nil {
		return 0, err
	}
	return b.advance(target)
}

// ElapseTo advances the clock to an absolute mark. A mark in the past only
// processes what is already due.
func (b *Broker) ElapseTo(mark int64) (int64, error) {
	if !session.Valid(mark) {
		return 0, fmt.Errorf("mark %d: %w", mark, orderbook.ErrInvalidTimestamp)
	}
	return b.advance(max(mark, b.clock))
}

func (b *Broker) advance(target int64) (int64, error) {
	defer b.recycler.Reclaim()

	var filled int64
	queue := b.pending
	b.pending = nil
	for _, o := range queue {
		if o.Status == orderbook.Canceled {
			continue
		}
		filled += b.ProcessUserOrder(o)
	}

	for len(b.waiting) > 0 && b.waiting[0].LocalTime <= target {
		o := b.waiting[0]
		b.waiting = b.waiting[1:]
		if o.Status == orderbook.Canceled {
			continue
		}
		if err := b.moveTo(o.LocalTime); err != nil {
			return filled, err
		}
		o.Seq = b.seq.Next()
		filled += b.ProcessUserOrder(o)
	}

	if err := b.moveTo(target); err != nil {
		return filled, err
	}
	b.SyncOrderInfo()
	return filled, nil
}

// moveTo replays history up to ts when a cursor is attached, else only moves the clock.
func (b *Broker) moveTo(ts int64) error {
	if b.cursor == nil {
		b.setClock(ts)
		return nil
	}
	_, err := b.Goto(ts)
	return err
}

// Goto replays every historical event stamped at or before tp and reports
// whether the history is exhausted.
func (b *Broker) Goto(tp int64) (bool, error) {
	if b.cursor == nil {
		return false, fmt.Errorf("%s: %w", b.code, orderbook.ErrHistoryIsNone)
	}
	for {
		if b.ahead == nil {
			if b.cursor.IsLast() {
				break
			}
			_, ev, err := b.cursor.Next()
			if err != nil {
				return false, fmt.Errorf("%s replay: %w", b.code, err)
			}
			b.ahead = &ev
		}
		if b.ahead.Timestamp > tp {
			break
		}
		ev := *b.ahead
		b.ahead = nil

		if ev.Seq <= b.latestSeq {
			b.log.Debug("skip replayed event", zap.Int64("seq", ev.Seq), zap.Int64("latest", b.latestSeq))
			continue
		}
		b.latestSeq = ev.Seq
		b.setClock(ev.Timestamp)
		b.ProcessLocalOrder(ev)
	}
	b.setClock(tp)
	return b.ahead == nil && b.cursor.IsLast(), nil
}

func (b *Broker) setClock(ts int64) {
	if ts <= b.clock {
		return
	}
	b.clock = ts
	b.depth.Timestamp = ts
	b.checkSession()
}

func (b *Broker) checkSession() {
	if !b.openDone && session.OpenAuctionDue(b.clock) {
		b.openDone = true
		b.runAuction(true)
	}
	if !b.closeDone && session.CloseAuctionDue(b.clock) {
		b.closeDone = true
		b.runAuction(false)
	}
}

func (b *Broker) runAuction(open bool) {
	name := "close"
	if open {
		name = "open"
	}
	res, err := b.depth.CallAuction()
	if errors.Is(err, orderbook.ErrNoCross) {
		b.log.Debug("call auction not crossed", zap.String("auction", name))
		return
	}
	if err != nil {
		b.log.Error("call auction", zap.String("auction", name), zap.Error(err))
		return
	}
	if open {
		b.depth.OpenTick = res.Tick
	} else {
		b.depth.CloseTick = res.Tick
	}
	b.log.Info("call auction",
		zap.String("auction", name),
		zap.Int64("tick", res.Tick),
		zap.Int64("vol", res.Vol),
		zap.Int64("ts", b.clock),
	)
	b.afterEvent(nil, b.latestSeq)
}

//
// ──────────────────────────────────────────────────────────
// Processing
// ──────────────────────────────────────────────────────────
//

// ProcessLocalOrder applies one replayed event.
func (b *Broker) ProcessLocalOrder(ev replay.Event) {
	o := ev.L3Order()

	if ev.IsCancel() {
		b.cancelLocal(ev)
		b.afterEvent(&o, ev.Seq)
		return
	}
	b.depth.Statistics().AddSubmission(ev.Side)

	r := ev.Recon
	var h orderbook.Handle
	switch {
	case session.InCallAuction(b.clock):
		h = b.restLocal(o, r.InitPrice, r.InitQty)
	case b.mode == orderbook.Backtest:
		switch {
		case r.MatchQty > 0:
			rest := r.MatchPrice
			if r.RestQty > 0 {
				rest = r.RestPrice
			}
			h = b.matchLocal(o, r.MatchPrice, rest)
		case r.RestQty > 0:
			h = b.restLocal(o, r.RestPrice, r.RestQty)
		default:
			h = b.restLocal(o, r.InitPrice, ev.Vol)
		}
	default:
		tick := firstTick(r.MatchPrice, r.RestPrice, r.InitPrice, ev.PriceTick)
		rest := tick
		if r.RestQty > 0 {
			rest = r.RestPrice
		}
		h = b.matchLocal(o, tick, rest)
	}

	if placed, ok := b.arena.Lookup(h); ok {
		b.afterEvent(placed, ev.Seq)
	} else {
		b.afterEvent(&o, ev.Seq)
	}
}

func firstTick(ticks ...int64) int64 {
	for _, t := range ticks {
		if t > 0 {
			return t
		}
	}
	return 0
}

func (b *Broker) restLocal(o orderbook.L3Order, tick, vol int64) orderbook.Handle {
	if vol <= 0 {
		vol = o.Vol
	}
	if tick <= 0 {
		tick = o.PriceTick
	}
	o.PriceTick = tick
	o.Vol = vol
	o.VolShadow = vol
	h := b.arena.Alloc(o)
	if err := b.depth.Add(h); err != nil {
		b.log.Warn("rest local order", zap.Int64("order", o.ID), zap.Error(err))
		b.arena.Release(h)
		return 0
	}
	b.locals[o.ID] = h
	return h
}

// matchLocal crosses o with limit tick and rests any remainder at rest.
func (b *Broker) matchLocal(o orderbook.L3Order, tick, rest int64) orderbook.Handle {
	o.PriceTick = tick
	h := b.arena.Alloc(o)
	if _, err := b.depth.MatchOrder(h, 0); err != nil {
		b.log.Warn("match local order", zap.Int64("order", o.ID), zap.Error(err))
		b.arena.Release(h)
		return 0
	}
	lo := b.arena.Get(h)
	if lo.Vol == 0 {
		b.arena.Release(h)
		return 0
	}
	lo.PriceTick = rest
	if err := b.depth.Add(h); err != nil {
		b.log.Warn("rest local remainder", zap.Int64("order", o.ID), zap.Error(err))
		b.arena.Release(h)
		return 0
	}
	b.locals[o.ID] = h
	return h
}

func (b *Broker) cancelLocal(ev replay.Event) {
	h, ok := b.locals[ev.OrderID]
	if !ok {
		b.log.Debug("cancel of unknown local order", zap.Int64("order", ev.OrderID), zap.Int64("seq", ev.Seq))
		return
	}
	delete(b.locals, ev.OrderID)
	if _, err := b.depth.CancelHandle(h); err != nil {
		b.log.Debug("cancel local order", zap.Int64("order", ev.OrderID), zap.Error(err))
	}
	b.arena.Release(h)
}

// ProcessUserOrder runs one user order through the engine and returns the
// shares it filled on entry.
func (b *Broker) ProcessUserOrder(o *orderbook.Order) int64 {
	o.ExchTime = b.clock

	if o.Type == orderbook.Cancel {
		b.processCancel(o)
		return 0
	}
	b.depth.Statistics().AddSubmission(o.Side)

	vol := b.lotsOf(o.Qty)
	l3 := orderbook.NewL3Order(orderbook.UserOrder, o.Account, o.ID, o.Side, o.PriceTick, vol, b.clock, o.Type)
	l3.Seq = o.Seq
	h := b.arena.Alloc(l3)
	b.live[o.ID] = h

	var err error
	if session.InCallAuction(b.clock) {
		err = b.depth.Add(h)
	} else {
		err = b.dispatch(h)
	}
	if err != nil {
		b.log.Warn("user order rejected", zap.Int64("order", o.ID), zap.String("type", o.TypeCode), zap.Error(err))
		b.arena.Get(h).Side = orderbook.None
	}

	lo := b.arena.Get(h)
	filled := b.sharesOf(vol - lo.Vol)
	b.afterEvent(lo, o.Seq)
	return filled
}

func (b *Broker) dispatch(h orderbook.Handle) error {
	o := b.arena.Get(h)
	switch o.Type {
	case orderbook.Limit:
		return b.matchAndRest(h, 0)

	case orderbook.SweepCancel:
		o.PriceTick = orderbook.NoLimit(o.Side)
		if _, err := b.depth.MatchOrder(h, orderbook.SweepDepth); err != nil {
			return err
		}
		o.Side = orderbook.None
		return nil

	case orderbook.SweepLimit:
		o.PriceTick = orderbook.NoLimit(o.Side)
		filled, err := b.depth.MatchOrder(h, orderbook.SweepDepth)
		if err != nil {
			return err
		}
		if o.Vol == 0 {
			return nil
		}
		if filled == 0 {
			o.Side = orderbook.None
			return nil
		}
		o.PriceTick = b.depth.LastTick()
		return b.depth.Add(h)

	case orderbook.PegOwnBest:
		tick, ok := b.bestTick(o.Side)
		if !ok {
			o.Side = orderbook.None
			return nil
		}
		o.PriceTick = tick
		return b.depth.Add(h)

	case orderbook.PegOppositeBest:
		tick, ok := b.bestTick(o.Side.Opposite())
		if !ok {
			o.Side = orderbook.None
			return nil
		}
		o.PriceTick = tick
		return b.matchAndRest(h, 0)

	case orderbook.AllOrCancel:
		limit := o.PriceTick
		o.PriceTick = orderbook.NoLimit(o.Side)
		if b.depth.FillableVolume(h) < o.Vol {
			o.PriceTick = limit
			o.Side = orderbook.None
			return nil
		}
		if _, err := b.depth.MatchOrder(h, 0); err != nil {
			return err
		}
		if o.Vol > 0 {
			o.Side = orderbook.None
		}
		return nil

	case orderbook.Cancel, orderbook.TypeNone:
		return orderbook.ErrOrderTypeUnsupported
	}
	return orderbook.ErrOrderTypeUnsupported
}

func (b *Broker) matchAndRest(h orderbook.Handle, maxDepth int) error {
	if _, err := b.depth.MatchOrder(h, maxDepth); err != nil {
		return err
	}
	if b.arena.Get(h).Vol == 0 {
		return nil
	}
	return b.depth.Add(h)
}

// bestTick is the best price a participant can see on side.
func (b *Broker) bestTick(side orderbook.Side) (int64, bool) {
	bid, ask := b.depth.BestBidTick(), b.depth.BestAskTick()
	if b.mode == orderbook.Backtest {
		bid, ask, _ = b.depth.ShadowBest()
	}
	if side == orderbook.Buy {
		return bid, bid != orderbook.InvalidMin
	}
	return ask, ask != orderbook.InvalidMax
}

// processCancel handles a Cancel-type request. The request itself ends
// Filled when its target was withdrawn and Canceled when it was rejected.
func (b *Broker) processCancel(o *orderbook.Order) {
	status := orderbook.Filled
	if err := b.cancel(o.TargetID); err != nil {
		b.log.Info("cancel request rejected", zap.Int64("order", o.ID), zap.Int64("target", o.TargetID), zap.Error(err))
		status = orderbook.Canceled
	}
	if err := o.Transition(status); err != nil {
		invariantf("cancel request %d: %v", o.ID, err)
	}
	b.markDirty(o.ID)
	b.afterEvent(nil, o.Seq)
}

// afterEvent drains the tape, fires hooks for the event numbered seq and
// syncs user orders.
func (b *Broker) afterEvent(o *orderbook.L3Order, seq int64) {
	tape := b.depth.DrainTape()
	b.executions = append(b.executions, tape...)
	for _, ex := range tape {
		if ex.TakerSource == orderbook.LocalOrder {
			b.releaseLocal(ex.TakerID)
		}
		if ex.MakerSource == orderbook.LocalOrder {
			b.releaseLocal(ex.MakerID)
		}
	}

	if b.hooks.Len() > 0 {
		info := hook.Collect(b.code, b.depth, b.prevClose, seq)
		for _, name := range b.hooks.Fire(info, b.depth, o) {
			b.log.Warn("hook returned false", zap.String("hook", name))
		}
	}
	b.SyncOrderInfo()
}

// releaseLocal frees a replayed order once nothing of it rests.
func (b *Broker) releaseLocal(id int64) {
	if h, ok := b.locals[id]; ok && !b.arena.Get(h).Resting() {
		delete(b.locals, id)
		b.arena.Release(h)
	}
}

//
// ──────────────────────────────────────────────────────────
// User order state
// ──────────────────────────────────────────────────────────
//

// SyncOrderInfo copies engine state onto user orders and retires terminal ones.
func (b *Broker) SyncOrderInfo() {
	for _, id := range slices.Sorted(maps.Keys(b.live)) {
		h := b.live[id]
		o := b.orders[id]
		lo := b.arena.Get(h)
		changed := false

		if lo.PriceTick != orderbook.InvalidMin && lo.PriceTick != orderbook.InvalidMax && lo.PriceTick != o.PriceTick {
			o.PriceTick = lo.PriceTick
			o.Price = b.depth.TickPrice(lo.PriceTick)
			changed = true
		}
		if lo.Position != o.Position {
			o.Position = lo.Position
			changed = true
		}
		if filled := min(o.Qty, b.sharesOf(b.lotsOf(o.Qty)-lo.Vol)); filled != o.FilledQty {
			o.FilledQty = filled
			o.LeftQty = o.Qty - filled
			changed = true
		}

		status := o.Status
		switch {
		case lo.Vol == 0:
			status = orderbook.Filled
		case lo.Side == orderbook.None:
			status = orderbook.Canceled
		case o.FilledQty > 0:
			status = orderbook.PartiallyFilled
		}
		if status != o.Status {
			if err := o.Transition(status); err != nil {
				invariantf("order %d: %v", id, err)
			}
			changed = true
		}

		if changed {
			b.markDirty(id)
		}
		if o.Status.Terminal() {
			delete(b.live, id)
			b.arena.Release(h)
		}
	}
}

func (b *Broker) markDirty(id int64) {
	if _, ok := b.dirtySet[id]; ok {
		return
	}
	b.dirtySet[id] = struct{}{}
	b.dirty = append(b.dirty, id)
}

// CancelOrder withdraws a user order immediately.
func (b *Broker) CancelOrder(id int64) error {
	if err := b.cancel(id); err != nil {
		return err
	}
	b.SyncOrderInfo()
	return nil
}

func (b *Broker) cancel(id int64) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, orderbook.ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %d is %s: %w", id, o.Status, orderbook.ErrInvalidOrderStatus)
	}

	h, inEngine := b.live[id]
	if !inEngine {
		b.pending = slices.DeleteFunc(b.pending, func(p *orderbook.Order) bool { return p.ID == id })
		b.waiting = slices.DeleteFunc(b.waiting, func(p *orderbook.Order) bool { return p.ID == id })
		if err := o.Transition(orderbook.Canceled); err != nil {
			return err
		}
		b.markDirty(id)
		return nil
	}

	if _, err := b.depth.CancelHandle(h); err != nil {
		return err
	}
	return nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// GetLatestOrders returns orders changed since the previous call, in
// first-change order. Each change is reported once.
func (b *Broker) GetLatestOrders() []orderbook.Order {
	out := make([]orderbook.Order, 0, len(b.dirty))
	for _, id := range b.dirty {
		out = append(out, *b.orders[id])
	}
	b.dirty = b.dirty[:0]
	clear(b.dirtySet)
	return out
}

// GetOrders returns orders in any of statuses, or all orders, sorted by id.
func (b *Broker) GetOrders(statuses ...orderbook.Status) []orderbook.Order {
	out := make([]orderbook.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if len(statuses) == 0 || slices.Contains(statuses, o.Status) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, c orderbook.Order) int {
		switch {
		case a.ID < c.ID:
			return -1
		case a.ID > c.ID:
			return 1
		}
		return 0
	})
	return out
}

func invariantf(format string, args ...any) {
	panic("invariant: " + fmt.Sprintf(format, args...))
}
