package snapshot

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/domain/orderbook"
)

// Decode reads a document produced by Encode.
func Decode(doc *structpb.Struct) (State, error) {
	if doc == nil {
		return State{}, fmt.Errorf("snapshot: empty document: %w", orderbook.ErrParse)
	}
	f := fields{m: doc.AsMap()}

	mode, err := orderbook.ParseMode(f.text("mode"))
	if err != nil {
		return State{}, err
	}
	st := State{
		ID:        f.text("id"),
		Code:      f.text("code"),
		StockType: f.text("stock_type"),
		Mode:      mode,
		TickSize:  f.dec("tick_size"),
		LotSize:   f.dec("lot_size"),
		Timestamp: f.num("timestamp"),
		LatestSeq: f.num("latest_seq"),
		Seq:       f.num("seq"),
		PrevClose: f.num("prev_close"),
		OpenDone:  f.flag("open_done"),
		CloseDone: f.flag("close_done"),
	}

	for _, m := range f.list("orders") {
		o, err := decodeOrder(fields{m: m})
		if err != nil {
			return State{}, err
		}
		st.Orders = append(st.Orders, o)
	}

	d := fields{m: f.obj("depth")}
	st.Depth = Depth{
		BestBid:        d.num("best_bid"),
		BestAsk:        d.num("best_ask"),
		LastTick:       d.num("last_tick"),
		ShadowBid:      d.num("shadow_bid"),
		ShadowAsk:      d.num("shadow_ask"),
		LastShadowTick: d.num("last_shadow_tick"),
		OpenTick:       d.num("open_tick"),
		CloseTick:      d.num("close_tick"),
	}
	stats := fields{m: d.obj("stats")}
	st.Depth.Stats = decodeStats(&stats)

	for k, v := range d.obj("levels") {
		key, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("snapshot level %q: %w", k, orderbook.ErrParse)
		}
		raw, _ := v.([]any)
		l := Level{Key: key}
		for _, item := range raw {
			m, _ := item.(map[string]any)
			o, err := decodeL3(fields{m: m})
			if err != nil {
				return State{}, err
			}
			l.Orders = append(l.Orders, o)
		}
		st.Depth.Levels = append(st.Depth.Levels, l)
	}
	slices.SortFunc(st.Depth.Levels, func(a, b Level) int { return cmpInt(a.Key, b.Key) })

	if err := f.err; err != nil {
		return State{}, err
	}
	if err := d.err; err != nil {
		return State{}, err
	}
	if err := stats.err; err != nil {
		return State{}, err
	}
	return st, nil
}

// Recover re-inserts every captured order into d, slot order per level, so the
// level aggregates and queue positions are recomputed. It returns the handles
// of the user and the replayed orders it placed.
func Recover(dep Depth, d *orderbook.MarketDepth) (users, locals map[int64]orderbook.Handle, err error) {
	users = make(map[int64]orderbook.Handle)
	locals = make(map[int64]orderbook.Handle)
	arena := d.Arena()

	for _, l := range dep.Levels {
		orders := slices.Clone(l.Orders)
		slices.SortStableFunc(orders, func(a, b orderbook.L3Order) int { return cmpInt(int64(a.Idx), int64(b.Idx)) })

		for _, o := range orders {
			if o.Side != l.Side() || o.PriceTick != l.Tick() {
				return nil, nil, fmt.Errorf("snapshot order %d at level %d: %w", o.ID, l.Key, orderbook.ErrParse)
			}
			o.Idx = 0
			h := arena.Alloc(o)
			if err := d.Add(h); err != nil {
				return nil, nil, fmt.Errorf("snapshot order %d: %w", o.ID, err)
			}
			if o.Source == orderbook.UserOrder {
				users[o.ID] = h
			} else {
				locals[o.ID] = h
			}
		}
	}

	d.OpenTick = dep.OpenTick
	d.CloseTick = dep.CloseTick
	d.RestoreCaches(dep.LastTick, dep.LastShadowTick, dep.Stats)

	if d.BestBidTick() != dep.BestBid || d.BestAskTick() != dep.BestAsk {
		return nil, nil, fmt.Errorf("snapshot best %d/%d rebuilt as %d/%d: %w",
			dep.BestBid, dep.BestAsk, d.BestBidTick(), d.BestAskTick(), orderbook.ErrParse)
	}
	return users, locals, nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// -------------------- Field access --------------------

// fields reads typed values out of a decoded Struct. The first failure sticks.
type fields struct {
	m   map[string]any
	err error
}

func (f *fields) fail(key string) {
	if f.err == nil {
		f.err = fmt.Errorf("snapshot field %q: %w", key, orderbook.ErrParse)
	}
}

func (f *fields) text(key string) string {
	s, _ := f.m[key].(string)
	return s
}

func (f *fields) flag(key string) bool {
	b, _ := f.m[key].(bool)
	return b
}

func (f *fields) num(key string) int64 {
	s, ok := f.m[key].(string)
	if !ok {
		f.fail(key)
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.fail(key)
	}
	return v
}

func (f *fields) dec(key string) decimal.Decimal {
	v, err := decimal.NewFromString(f.text(key))
	if err != nil {
		f.fail(key)
	}
	return v
}

func (f *fields) obj(key string) map[string]any {
	m, ok := f.m[key].(map[string]any)
	if !ok {
		f.fail(key)
	}
	return m
}

func (f *fields) list(key string) []map[string]any {
	raw, _ := f.m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			f.fail(key)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (f *fields) orderType() (orderbook.OrderType, error) {
	code := f.text("order_type")
	if code == "" {
		return orderbook.TypeNone, nil
	}
	return orderbook.ParseOrderType(code)
}

func decodeOrder(f fields) (orderbook.Order, error) {
	typ, err := f.orderType()
	if err != nil {
		return orderbook.Order{}, err
	}
	status, err := orderbook.ParseStatus(f.text("status"))
	if err != nil {
		return orderbook.Order{}, err
	}
	o := orderbook.Order{
		ID:        f.num("order_id"),
		Code:      f.text("code"),
		Account:   f.text("account"),
		Side:      orderbook.Side(f.num("side")),
		Type:      typ,
		TypeCode:  typ.String(),
		LocalTime: f.num("local_time"),
		ExchTime:  f.num("exch_time"),
		Price:     f.dec("price"),
		PriceTick: f.num("price_tick"),
		Qty:       f.num("qty"),
		FilledQty: f.num("filled_qty"),
		LeftQty:   f.num("left_qty"),
		Status:    status,
		Position:  f.num("position"),
		Seq:       f.num("seq"),
		TargetID:  f.num("target_id"),
	}
	return o, f.err
}

func decodeL3(f fields) (orderbook.L3Order, error) {
	typ, err := f.orderType()
	if err != nil {
		return orderbook.L3Order{}, err
	}
	o := orderbook.L3Order{
		Source:    orderbook.SourceType(f.num("source")),
		Account:   f.text("account"),
		ID:        f.num("order_id"),
		Side:      orderbook.Side(f.num("side")),
		PriceTick: f.num("price_tick"),
		Vol:       f.num("vol"),
		VolShadow: f.num("vol_shadow"),
		Idx:       int(f.num("idx")),
		Position:  f.num("position"),
		Timestamp: f.num("timestamp"),
		Seq:       f.num("seq"),
		Type:      typ,
	}
	if m, ok := f.m["recon"].(map[string]any); ok {
		r := fields{m: m}
		o.Recon = &orderbook.Recon{
			MatchPrice: r.num("match_price"),
			MatchQty:   r.num("match_qty"),
			MatchSeq:   r.num("match_seq"),
			RestPrice:  r.num("rest_price"),
			RestQty:    r.num("rest_qty"),
			RestSeq:    r.num("rest_seq"),
			InitPrice:  r.num("init_price"),
			InitQty:    r.num("init_qty"),
			InitSeq:    r.num("init_seq"),
			CancelSeq:  r.num("cancel_seq"),
		}
		if r.err != nil {
			return orderbook.L3Order{}, r.err
		}
	}
	return o, f.err
}

func decodeStats(f *fields) orderbook.Statistics {
	return orderbook.Statistics{
		TotalBidNum:   f.num("total_bid_num"),
		TotalAskNum:   f.num("total_ask_num"),
		TotalCancel:   f.num("total_cancel"),
		TotalBidTick:  f.num("total_bid_tick"),
		TotalAskTick:  f.num("total_ask_tick"),
		TotalBidVol:   f.num("total_bid_vol"),
		TotalAskVol:   f.num("total_ask_vol"),
		TotalBidOrder: f.num("total_bid_order"),
		TotalAskOrder: f.num("total_ask_order"),
		Trades:        f.num("trades"),
		High:          f.num("high"),
		Low:           f.num("low"),
	}
}
