package replay

import (
	"fmt"
	"sort"

	"l3sim/domain/orderbook"
)

// OrderMsg is a raw exchange order message.
type OrderMsg struct {
	Seq       int64
	OrderNo   int64
	Side      orderbook.Side
	Type      orderbook.OrderType
	PriceTick int64 // 0 for market orders
	Qty       int64 // lots
	Time      int64
}

// TradeMsg is a raw exchange trade or cancel message.
// A cancel carries only the withdrawn side's order number.
type TradeMsg struct {
	Seq       int64
	BuyNo     int64
	SellNo    int64
	PriceTick int64
	Qty       int64
	Time      int64
	Cancel    bool
}

// Collator folds raw order and trade messages into reconciled events.
type Collator struct {
	orders map[int64]*OrderMsg
	recons map[int64]*orderbook.Recon
	cancel []TradeMsg
	trades []TradeMsg
}

func NewCollator() *Collator {
	return &Collator{
		orders: make(map[int64]*OrderMsg),
		recons: make(map[int64]*orderbook.Recon),
	}
}

func (c *Collator) AddOrder(m OrderMsg) error {
	if _, dup := c.orders[m.OrderNo]; dup {
		return fmt.Errorf("order no %d: %w", m.OrderNo, orderbook.ErrOrderIdExist)
	}
	c.orders[m.OrderNo] = &m
	c.recons[m.OrderNo] = &orderbook.Recon{
		InitPrice: m.PriceTick,
		InitQty:   m.Qty,
		InitSeq:   m.Seq,
	}
	return nil
}

func (c *Collator) AddTrade(m TradeMsg) {
	if m.Cancel {
		c.cancel = append(c.cancel, m)
		return
	}
	c.trades = append(c.trades, m)
}

// Events reconciles everything added so far and returns events sorted by seq.
//
// In a trade the order submitted later is the aggressor: it collects the
// matched quantity, the last trade tick and the trade seq. Whatever it did not
// trade rests at its own price. Passive orders rest at their price in full.
func (c *Collator) Events() ([]Event, error) {
	sort.Slice(c.trades, func(i, j int) bool { return c.trades[i].Seq < c.trades[j].Seq })
	for _, t := range c.trades {
		buy, okB := c.recons[t.BuyNo]
		sell, okS := c.recons[t.SellNo]
		if !okB || !okS {
			return nil, fmt.Errorf("trade seq %d references unknown order: %w", t.Seq, orderbook.ErrParse)
		}
		aggr := buy
		if sell.InitSeq > buy.InitSeq {
			aggr = sell
		}
		aggr.MatchQty += t.Qty
		aggr.MatchPrice = t.PriceTick
		aggr.MatchSeq = t.Seq
	}

	events := make([]Event, 0, len(c.orders)+len(c.cancel))
	for no, m := range c.orders {
		r := c.recons[no]
		if r.MatchQty > r.InitQty {
			return nil, fmt.Errorf("order no %d traded %d of %d: %w", no, r.MatchQty, r.InitQty, orderbook.ErrParse)
		}
		if left := r.InitQty - r.MatchQty; left > 0 && m.PriceTick > 0 {
			r.RestPrice = m.PriceTick
			r.RestQty = left
			r.RestSeq = m.Seq
			if r.MatchQty > 0 {
				r.RestSeq = r.MatchSeq
			}
		}
	}

	for _, t := range c.cancel {
		no := t.BuyNo
		if no == 0 {
			no = t.SellNo
		}
		r, ok := c.recons[no]
		if !ok {
			return nil, fmt.Errorf("cancel seq %d references unknown order %d: %w", t.Seq, no, orderbook.ErrParse)
		}
		r.CancelSeq = t.Seq
		m := c.orders[no]
		events = append(events, Event{
			Seq:       t.Seq,
			OrderID:   no,
			Side:      m.Side,
			PriceTick: m.PriceTick,
			Vol:       t.Qty,
			Timestamp: t.Time,
			Type:      orderbook.Cancel,
		})
	}

	for no, m := range c.orders {
		events = append(events, Event{
			Seq:       m.Seq,
			OrderID:   no,
			Side:      m.Side,
			PriceTick: m.PriceTick,
			Vol:       m.Qty,
			Timestamp: m.Time,
			Type:      m.Type,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	for i := range events {
		events[i].Recon = *c.recons[events[i].OrderID]
	}
	return events, nil
}
