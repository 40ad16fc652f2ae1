// Package hook delivers per-event book state to registered observers.
package hook

import (
	"github.com/shopspring/decimal"

	"l3sim/domain/orderbook"
)

// Level is one price level in price/qty units.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	Count int             `json:"count"`
}

// Hook observes the book after every processed event. Returning false is
// reported by the broker and does not stop processing.
type Hook interface {
	OnEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool
}

// Func adapts a function to Hook.
type Func func(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool

func (f Func) OnEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool {
	return f(info, bids, asks, order)
}

// StatisticsInfo is the book summary handed to hooks.
type StatisticsInfo struct {
	Code string `json:"code"`

	LastPrice decimal.Decimal `json:"last_price"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PrevClose decimal.Decimal `json:"prev_close"`

	TotalBidTurnover decimal.Decimal `json:"total_bid_turnover"`
	TotalAskTurnover decimal.Decimal `json:"total_ask_turnover"`
	TotalBidQty      decimal.Decimal `json:"total_bid_qty"`
	TotalAskQty      decimal.Decimal `json:"total_ask_qty"`
	TotalBidOrders   int64           `json:"total_bid_orders"`
	TotalAskOrders   int64           `json:"total_ask_orders"`
	TotalBidNum      int64           `json:"total_bid_num"`
	TotalAskNum      int64           `json:"total_ask_num"`
	TotalCancel      int64           `json:"total_cancel"`
	Trades           int64           `json:"trades"`

	OpenPrice  decimal.Decimal `json:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price"`

	TickSize  decimal.Decimal `json:"tick_size"`
	LotSize   decimal.Decimal `json:"lot_size"`
	Timestamp int64           `json:"timestamp"`
	Seq       int64           `json:"seq"`
}

func (s StatisticsInfo) Turnover() decimal.Decimal {
	return s.TotalBidTurnover.Add(s.TotalAskTurnover)
}

func (s StatisticsInfo) Volume() decimal.Decimal {
	return s.TotalBidQty.Add(s.TotalAskQty)
}

// AvgBidPrice is the average price traded against the bid side, zero before any trade.
func (s StatisticsInfo) AvgBidPrice() decimal.Decimal {
	return avg(s.TotalBidTurnover, s.TotalBidQty)
}

func (s StatisticsInfo) AvgAskPrice() decimal.Decimal {
	return avg(s.TotalAskTurnover, s.TotalAskQty)
}

func avg(turnover, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return turnover.Div(qty)
}

// Collect converts the depth's tick/lot counters into price/qty units.
func Collect(code string, d *orderbook.MarketDepth, prevClose, seq int64) StatisticsInfo {
	st := d.Statistics()
	tick, lot := d.TickSize(), d.LotSize()
	price := func(t int64) decimal.Decimal {
		if t == orderbook.InvalidMin || t == orderbook.InvalidMax {
			return decimal.Zero
		}
		return d.TickPrice(t)
	}
	turnover := func(tl int64) decimal.Decimal {
		return decimal.NewFromInt(tl).Mul(tick).Mul(lot)
	}

	return StatisticsInfo{
		Code:             code,
		LastPrice:        price(d.LastTick()),
		High:             price(st.High),
		Low:              price(st.Low),
		PrevClose:        price(prevClose),
		TotalBidTurnover: turnover(st.TotalBidTick),
		TotalAskTurnover: turnover(st.TotalAskTick),
		TotalBidQty:      d.LotQty(st.TotalBidVol),
		TotalAskQty:      d.LotQty(st.TotalAskVol),
		TotalBidOrders:   st.TotalBidOrder,
		TotalAskOrders:   st.TotalAskOrder,
		TotalBidNum:      st.TotalBidNum,
		TotalAskNum:      st.TotalAskNum,
		TotalCancel:      st.TotalCancel,
		Trades:           st.Trades,
		OpenPrice:        price(d.OpenTick),
		ClosePrice:       price(d.CloseTick),
		TickSize:         tick,
		LotSize:          lot,
		Timestamp:        d.Timestamp,
		Seq:              seq,
	}
}

// Levels exports up to n levels of side, best first.
func Levels(d *orderbook.MarketDepth, side orderbook.Side, n int) []Level {
	raw := d.Levels(side, n)
	out := make([]Level, len(raw))
	for i, l := range raw {
		out[i] = Level{
			Price: d.TickPrice(l.Tick),
			Qty:   d.LotQty(l.Vol),
			Count: l.Count,
		}
	}
	return out
}
