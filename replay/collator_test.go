package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l3sim/domain/orderbook"
)

const day = int64(20240102000000000)

func TestCollator_Events(t *testing.T) {
	c := NewCollator()
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 1, OrderNo: 11, Side: orderbook.Sell, Type: orderbook.Limit, PriceTick: 1000, Qty: 10, Time: day + 93000000}))
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 2, OrderNo: 12, Side: orderbook.Sell, Type: orderbook.Limit, PriceTick: 1001, Qty: 10, Time: day + 93000100}))
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 3, OrderNo: 13, Side: orderbook.Buy, Type: orderbook.Limit, PriceTick: 1002, Qty: 25, Time: day + 93000200}))
	c.AddTrade(TradeMsg{Seq: 5, BuyNo: 13, SellNo: 12, PriceTick: 1001, Qty: 10, Time: day + 93000200})
	c.AddTrade(TradeMsg{Seq: 4, BuyNo: 13, SellNo: 11, PriceTick: 1000, Qty: 10, Time: day + 93000200})
	c.AddTrade(TradeMsg{Seq: 6, BuyNo: 13, Qty: 5, Time: day + 93100000, Cancel: true})

	events, err := c.Events()
	require.NoError(t, err)
	require.Len(t, events, 4)

	seqs := make([]int64, 0, len(events))
	for _, ev := range events {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 6}, seqs)

	passive := events[0].Recon
	assert.Zero(t, passive.MatchQty)
	assert.Equal(t, orderbook.Recon{InitPrice: 1000, InitQty: 10, InitSeq: 1, RestPrice: 1000, RestQty: 10, RestSeq: 1}, passive)

	aggr := events[2]
	assert.Equal(t, int64(13), aggr.OrderID)
	assert.Equal(t, int64(20), aggr.Recon.MatchQty)
	assert.Equal(t, int64(1001), aggr.Recon.MatchPrice, "last trade tick")
	assert.Equal(t, int64(5), aggr.Recon.MatchSeq)
	assert.Equal(t, int64(1002), aggr.Recon.RestPrice)
	assert.Equal(t, int64(5), aggr.Recon.RestQty)
	assert.Equal(t, int64(6), aggr.Recon.CancelSeq)
	assert.False(t, aggr.IsCancel())

	cancel := events[3]
	assert.True(t, cancel.IsCancel())
	assert.Equal(t, orderbook.Buy, cancel.Side)
	assert.Equal(t, int64(5), cancel.Vol)
}

func TestCollator_SellAggressor(t *testing.T) {
	c := NewCollator()
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 1, OrderNo: 1, Side: orderbook.Buy, Type: orderbook.Limit, PriceTick: 500, Qty: 3}))
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 2, OrderNo: 2, Side: orderbook.Sell, Type: orderbook.SweepCancel, Qty: 3}))
	c.AddTrade(TradeMsg{Seq: 3, BuyNo: 1, SellNo: 2, PriceTick: 500, Qty: 3})

	events, err := c.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Zero(t, events[0].Recon.MatchQty)
	assert.Equal(t, int64(3), events[1].Recon.MatchQty)
	assert.Zero(t, events[1].Recon.RestQty, "fully traded")
}

func TestCollator_Rejects(t *testing.T) {
	c := NewCollator()
	require.NoError(t, c.AddOrder(OrderMsg{Seq: 1, OrderNo: 1, Side: orderbook.Buy, PriceTick: 500, Qty: 3}))
	assert.ErrorIs(t, c.AddOrder(OrderMsg{Seq: 2, OrderNo: 1}), orderbook.ErrOrderIdExist)

	c.AddTrade(TradeMsg{Seq: 3, BuyNo: 1, SellNo: 9, PriceTick: 500, Qty: 1})
	_, err := c.Events()
	assert.ErrorIs(t, err, orderbook.ErrParse)

	over := NewCollator()
	require.NoError(t, over.AddOrder(OrderMsg{Seq: 1, OrderNo: 1, Side: orderbook.Buy, PriceTick: 500, Qty: 3}))
	require.NoError(t, over.AddOrder(OrderMsg{Seq: 2, OrderNo: 2, Side: orderbook.Sell, PriceTick: 500, Qty: 3}))
	over.AddTrade(TradeMsg{Seq: 3, BuyNo: 1, SellNo: 2, PriceTick: 500, Qty: 4})
	_, err = over.Events()
	assert.ErrorIs(t, err, orderbook.ErrParse)
}

func TestSliceCursor(t *testing.T) {
	c := NewSliceCursor([]Event{{Seq: 1}, {Seq: 2}})
	assert.False(t, c.IsLast())

	got, err := Drain(c)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, c.IsLast())

	_, _, err = c.Next()
	assert.ErrorIs(t, err, orderbook.ErrEndOfData)
}

func TestEvent_L3Order(t *testing.T) {
	ev := Event{Seq: 7, OrderID: 3, Side: orderbook.Sell, PriceTick: 99, Vol: 4, Timestamp: day, Type: orderbook.Limit,
		Recon: orderbook.Recon{InitPrice: 99, InitQty: 4, InitSeq: 7}}
	o := ev.L3Order()

	assert.Equal(t, orderbook.LocalOrder, o.Source)
	assert.Equal(t, int64(4), o.VolShadow)
	assert.Equal(t, int64(7), o.Seq)
	require.NotNil(t, o.Recon)
	assert.Equal(t, int64(99), o.Recon.InitPrice)
}
