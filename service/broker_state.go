package service

import (
	"fmt"

	"go.uber.org/zap"

	"l3sim/domain/orderbook"
	"l3sim/infra/memory"
	"l3sim/snapshot"
)

// State captures the broker for a snapshot. Queued orders are not included.
func (b *Broker) State() snapshot.State {
	return snapshot.State{
		Code:      b.code,
		StockType: b.stockType,
		Mode:      b.mode,
		TickSize:  b.tickSize,
		LotSize:   b.lotSize,
		Timestamp: b.clock,
		LatestSeq: b.latestSeq,
		Seq:       b.seq.Current(),
		PrevClose: b.prevClose,
		OpenDone:  b.openDone,
		CloseDone: b.closeDone,
		Orders:    b.GetOrders(),
		Depth:     snapshot.Capture(b.depth),
	}
}

// Restore replaces the book and the user orders with st.
//
// The replay cursor stays attached and is not rewound. Events at or below
// st.LatestSeq are skipped when it is read again. User orders that were queued when st was taken are
// not in the book and come back Canceled.
func (b *Broker) Restore(st snapshot.State) error {
	if st.Code != b.code || st.Mode != b.mode || !st.TickSize.Equal(b.tickSize) || !st.LotSize.Equal(b.lotSize) {
		return fmt.Errorf("restore %s/%s into %s/%s: %w", st.Code, st.Mode, b.code, b.mode, orderbook.ErrInvalidOrderRequest)
	}

	recycler := memory.NewRecycler[orderbook.L3Order](retireRingSize)
	arena := orderbook.NewArena(recycler)
	depth := orderbook.NewMarketDepth(b.mode, b.tickSize, b.lotSize, arena)
	users, locals, err := snapshot.Recover(st.Depth, depth)
	if err != nil {
		return err
	}
	depth.Timestamp = st.Timestamp

	orders := make(map[int64]*orderbook.Order, len(st.Orders))
	live := make(map[int64]orderbook.Handle, len(users))
	for i := range st.Orders {
		o := st.Orders[i]
		if h, ok := users[o.ID]; ok {
			live[o.ID] = h
		} else if !o.Status.Terminal() {
			if err := o.Transition(orderbook.Canceled); err != nil {
				return err
			}
		}
		orders[o.ID] = &o
	}
	for id := range users {
		if _, ok := orders[id]; !ok {
			return fmt.Errorf("restore: resting order %d has no record: %w", id, orderbook.ErrParse)
		}
	}

	b.recycler = recycler
	b.arena = arena
	b.depth = depth
	b.orders = orders
	b.live = live
	b.locals = locals
	b.pending = nil
	b.waiting = nil
	b.dirty = b.dirty[:0]
	clear(b.dirtySet)
	b.executions = nil

	b.clock = st.Timestamp
	b.latestSeq = st.LatestSeq
	b.seq.Reset(st.Seq)
	b.prevClose = st.PrevClose
	b.openDone = st.OpenDone
	b.closeDone = st.CloseDone

	b.log.Info("broker restored",
		zap.Int64("ts", st.Timestamp),
		zap.Int64("latest_seq", st.LatestSeq),
		zap.Int("orders", len(orders)),
		zap.Int("resting", len(live)+len(locals)),
	)
	return nil
}
