package snapshot

import (
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/domain/orderbook"
)

// Capture walks both sides of d, best level first, orders in slot order.
func Capture(d *orderbook.MarketDepth) Depth {
	bid, ask, lastShadow := d.ShadowBest()
	out := Depth{
		BestBid:        d.BestBidTick(),
		BestAsk:        d.BestAskTick(),
		LastTick:       d.LastTick(),
		ShadowBid:      bid,
		ShadowAsk:      ask,
		LastShadowTick: lastShadow,
		OpenTick:       d.OpenTick,
		CloseTick:      d.CloseTick,
		Stats:          *d.Statistics(),
	}

	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		d.WalkLevels(side, func(lvl *orderbook.PriceLevel) bool {
			l := Level{Key: levelKey(side, lvl.Tick)}
			lvl.Walk(func(o *orderbook.L3Order) bool {
				c := *o
				if o.Recon != nil {
					r := *o.Recon
					c.Recon = &r
				}
				l.Orders = append(l.Orders, c)
				return true
			})
			if len(l.Orders) > 0 {
				out.Levels = append(out.Levels, l)
			}
			return true
		})
	}
	return out
}

// Encode builds the structured document. A missing ID gets a fresh one.
func Encode(st State) (*structpb.Struct, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	orders := make([]any, 0, len(st.Orders))
	for _, o := range st.Orders {
		orders = append(orders, encodeOrder(o))
	}

	levels := make(map[string]any, len(st.Depth.Levels))
	for _, l := range st.Depth.Levels {
		list := make([]any, 0, len(l.Orders))
		for _, o := range l.Orders {
			list = append(list, encodeL3(o))
		}
		levels[i64(l.Key)] = list
	}

	d := st.Depth
	return structpb.NewStruct(map[string]any{
		"id":         st.ID,
		"code":       st.Code,
		"stock_type": st.StockType,
		"mode":       st.Mode.String(),
		"tick_size":  st.TickSize.String(),
		"lot_size":   st.LotSize.String(),
		"timestamp":  i64(st.Timestamp),
		"latest_seq": i64(st.LatestSeq),
		"seq":        i64(st.Seq),
		"prev_close": i64(st.PrevClose),
		"open_done":  st.OpenDone,
		"close_done": st.CloseDone,
		"orders":     orders,
		"depth": map[string]any{
			"best_bid":         i64(d.BestBid),
			"best_ask":         i64(d.BestAsk),
			"last_tick":        i64(d.LastTick),
			"shadow_bid":       i64(d.ShadowBid),
			"shadow_ask":       i64(d.ShadowAsk),
			"last_shadow_tick": i64(d.LastShadowTick),
			"open_tick":        i64(d.OpenTick),
			"close_tick":       i64(d.CloseTick),
			"stats":            encodeStats(d.Stats),
			"levels":           levels,
		},
	})
}

func i64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func encodeOrder(o orderbook.Order) map[string]any {
	return map[string]any{
		"order_id":   i64(o.ID),
		"code":       o.Code,
		"account":    o.Account,
		"side":       i64(int64(o.Side)),
		"order_type": o.Type.String(),
		"local_time": i64(o.LocalTime),
		"exch_time":  i64(o.ExchTime),
		"price":      o.Price.String(),
		"price_tick": i64(o.PriceTick),
		"qty":        i64(o.Qty),
		"filled_qty": i64(o.FilledQty),
		"left_qty":   i64(o.LeftQty),
		"status":     o.Status.String(),
		"position":   i64(o.Position),
		"seq":        i64(o.Seq),
		"target_id":  i64(o.TargetID),
	}
}

func encodeL3(o orderbook.L3Order) map[string]any {
	m := map[string]any{
		"source":     i64(int64(o.Source)),
		"account":    o.Account,
		"order_id":   i64(o.ID),
		"side":       i64(int64(o.Side)),
		"price_tick": i64(o.PriceTick),
		"vol":        i64(o.Vol),
		"vol_shadow": i64(o.VolShadow),
		"idx":        i64(int64(o.Idx)),
		"position":   i64(o.Position),
		"timestamp":  i64(o.Timestamp),
		"seq":        i64(o.Seq),
		"order_type": o.Type.String(),
	}
	if r := o.Recon; r != nil {
		m["recon"] = map[string]any{
			"match_price": i64(r.MatchPrice),
			"match_qty":   i64(r.MatchQty),
			"match_seq":   i64(r.MatchSeq),
			"rest_price":  i64(r.RestPrice),
			"rest_qty":    i64(r.RestQty),
			"rest_seq":    i64(r.RestSeq),
			"init_price":  i64(r.InitPrice),
			"init_qty":    i64(r.InitQty),
			"init_seq":    i64(r.InitSeq),
			"cancel_seq":  i64(r.CancelSeq),
		}
	}
	return m
}

func encodeStats(s orderbook.Statistics) map[string]any {
	return map[string]any{
		"total_bid_num":   i64(s.TotalBidNum),
		"total_ask_num":   i64(s.TotalAskNum),
		"total_cancel":    i64(s.TotalCancel),
		"total_bid_tick":  i64(s.TotalBidTick),
		"total_ask_tick":  i64(s.TotalAskTick),
		"total_bid_vol":   i64(s.TotalBidVol),
		"total_ask_vol":   i64(s.TotalAskVol),
		"total_bid_order": i64(s.TotalBidOrder),
		"total_ask_order": i64(s.TotalAskOrder),
		"trades":          i64(s.Trades),
		"high":            i64(s.High),
		"low":             i64(s.Low),
	}
}
