package service

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l3sim/domain/orderbook"
	"l3sim/hook"
	"l3sim/infra/journal"
	"l3sim/replay"
	"l3sim/snapshot"
)

const code = "600000.SH"

func newExchange(t *testing.T, mode string) *Exchange {
	t.Helper()
	e, err := NewExchange(mode, "20240102")
	require.NoError(t, err)
	require.NoError(t, e.AddBroker("", "stock", code, 100))
	return e
}

func TestNewExchange_Rejects(t *testing.T) {
	_, err := NewExchange("paper", "20240102")
	assert.ErrorIs(t, err, orderbook.ErrExchangeModeUnsupported)

	_, err = NewExchange("live", "2024-01-02")
	assert.ErrorIs(t, err, orderbook.ErrInvalidTimestamp)
}

func TestExchange_AddBroker(t *testing.T) {
	e := newExchange(t, "backtest")
	cur, err := e.CurrentTime(code)
	require.NoError(t, err)
	assert.Equal(t, at(91500000), cur)

	assert.ErrorIs(t, e.AddBroker("", "stock", code, 100), orderbook.ErrStockBrokerIdExist)
	assert.ErrorIs(t, e.AddBroker("", "bond", "000001.SZ", 100), orderbook.ErrStockTypeUnSupported)
	assert.ErrorIs(t, e.AddBroker("", "stock", "000001.HK", 100), orderbook.ErrMarketTypeUnknown)
	assert.ErrorIs(t, e.AddBroker("paper", "stock", "000001.SZ", 100), orderbook.ErrExchangeModeUnsupported)
	assert.ErrorIs(t, e.AddBroker("", "stock", "000001.SZ", 0), orderbook.ErrInvalidOrderRequest)

	require.NoError(t, e.AddBroker("live", "fund", "510300.SH", 100))
	assert.Equal(t, []string{"510300.SH", code}, e.Brokers())
	assert.True(t, e.brokers["510300.SH"].tickSize.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, orderbook.Live, e.brokers["510300.SH"].Mode())
	assert.Equal(t, orderbook.Backtest, e.brokers[code].Mode())
}

func TestExchange_AddData(t *testing.T) {
	e := newExchange(t, "backtest")
	assert.ErrorIs(t, e.AddData("000001.SZ", replay.NewSliceCursor(nil)), orderbook.ErrStockBrokerNotExist)
	require.NoError(t, e.AddData(code, replay.NewSliceCursor(nil)))
	assert.ErrorIs(t, e.AddData(code, replay.NewSliceCursor(nil)), orderbook.ErrStockDataExist)
}

func TestExchange_SendOrderValidation(t *testing.T) {
	e := newExchange(t, "live")
	price := decimal.RequireFromString("10.00")

	_, err := e.SendOrder("a", code, 202401021000, price, 100, "B")
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrderRequest)
	_, err = e.SendOrder("a", code, at(100000000), price, 100, "X")
	assert.ErrorIs(t, err, orderbook.ErrMarketSide)
	_, err = e.SendOrder("a", "000001.SZ", at(100000000), price, 100, "B")
	assert.ErrorIs(t, err, orderbook.ErrStockBrokerNotExist)
	_, err = e.SendOrder("a", code, at(100000000), decimal.Zero, 100, "B")
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrderRequest)
	_, err = e.Submit(OrderRequest{Code: code, Time: at(100000000), Type: orderbook.Cancel})
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrderRequest)
	_, err = e.Submit(OrderRequest{Code: code, Time: at(100000000), Side: "B", Qty: 100})
	assert.ErrorIs(t, err, orderbook.ErrOrderTypeUnsupported)

	id, err := e.SendOrder("none", code, at(100000000), price, 100, "buy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	orders, err := e.GetOrders(code)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].Account)
	assert.Equal(t, orderbook.Buy, orders[0].Side)
}

func TestExchange_LimitScenario(t *testing.T) {
	for _, mode := range []string{"live", "backtest"} {
		t.Run(mode, func(t *testing.T) {
			e := newExchange(t, mode)
			price := decimal.RequireFromString("150.00")
			buy, err := e.SendOrder("alice", code, at(100000000), price, 1000, "B")
			require.NoError(t, err)
			sell, err := e.SendOrder("bob", code, at(100000000), price, 1000, "S")
			require.NoError(t, err)

			filled, err := e.ElapseTo(at(100000000))
			require.NoError(t, err)
			assert.Equal(t, map[string]int64{code: 1000}, filled)

			latest, err := e.GetLatestOrders(code)
			require.NoError(t, err)
			require.Len(t, latest, 2)
			for i, id := range []int64{buy, sell} {
				assert.Equal(t, id, latest[i].ID)
				assert.Equal(t, orderbook.Filled, latest[i].Status)
				assert.Equal(t, int64(1000), latest[i].FilledQty)
				assert.Zero(t, latest[i].LeftQty)
			}

			execs, err := e.DrainExecutions(code)
			require.NoError(t, err)
			assert.Len(t, execs, 1)
		})
	}
}

func TestExchange_CancelScenario(t *testing.T) {
	e := newExchange(t, "backtest")
	id, err := e.SendOrder("a", code, at(100000000), decimal.RequireFromString("9.00"), 100, "B")
	require.NoError(t, err)
	require.NoError(t, e.CancelOrder(code, id))
	_, err = e.Elapse(3_600_000)
	require.NoError(t, err)

	pending, err := e.GetOrders(code, orderbook.New, orderbook.PartiallyFilled)
	require.NoError(t, err)
	assert.Empty(t, pending)
	finished, err := e.GetOrders(code, orderbook.Filled)
	require.NoError(t, err)
	assert.Empty(t, finished)
	canceled, err := e.GetOrders(code, orderbook.Canceled)
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, id, canceled[0].ID)

	assert.ErrorIs(t, e.CancelOrder("000001.SZ", id), orderbook.ErrStockBrokerNotExist)
}

func TestExchange_ElapseAllBrokers(t *testing.T) {
	e := newExchange(t, "live")
	require.NoError(t, e.AddBroker("", "stock", "000001.SZ", 100))

	filled, err := e.Elapse(60_000)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{code: 0, "000001.SZ": 0}, filled)
	for _, c := range e.Brokers() {
		cur, err := e.CurrentTime(c)
		require.NoError(t, err)
		assert.Equal(t, at(91600000), cur)
	}

	_, err = e.ElapseTo(20240102)
	assert.ErrorIs(t, err, orderbook.ErrInvalidTimestamp)
}

func TestExchange_Hooks(t *testing.T) {
	events, _ := sampleHistory(t)
	e := newExchange(t, "backtest")
	require.NoError(t, e.AddData(code, replay.NewSliceCursor(events)))
	require.NoError(t, e.SetPrevClose(code, decimal.RequireFromString("9.90")))

	rec := hook.NewRecorder(true)
	reg := prometheus.NewRegistry()
	require.NoError(t, e.RegisterHook(code, "recorder", rec, hook.RecorderLevels))
	require.NoError(t, e.RegisterHook(code, "metrics", hook.NewMetrics(reg), 5))
	require.NoError(t, e.RegisterHook(code, "veto", hook.Func(func(hook.StatisticsInfo, []hook.Level, []hook.Level, *orderbook.L3Order) bool {
		return false
	}), 1))
	assert.ErrorIs(t, e.RegisterHook("000001.SZ", "x", rec, 1), orderbook.ErrStockBrokerNotExist)

	_, err := e.ElapseTo(at(93300000))
	require.NoError(t, err)

	rows := rec.Rows()
	require.Len(t, rows, len(events), "one call per replayed event, a false return does not stop the others")
	last := rec.Last()
	assert.True(t, last.PrevClose.Equal(decimal.RequireFromString("9.9")))
	assert.True(t, last.LastPrice.Equal(decimal.RequireFromString("9.98")))
	assert.Equal(t, int64(3), last.Trades)
	assert.Equal(t, int64(15), last.MsgOrderID)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	removed, err := e.RemoveHook(code, "veto")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestExchange_SnapshotRestoreResumes(t *testing.T) {
	events, want := sampleHistory(t)

	// reference run straight through
	ref := newExchange(t, "backtest")
	require.NoError(t, ref.AddData(code, replay.NewSliceCursor(events)))
	_, err := ref.ElapseTo(at(93100500))
	require.NoError(t, err)
	uid, err := ref.SendOrder("u", code, at(93100500), decimal.RequireFromString("9.97"), 300, "B")
	require.NoError(t, err)
	_, err = ref.ElapseTo(at(93100500))
	require.NoError(t, err)

	doc, err := ref.Snapshot(code)
	require.NoError(t, err)

	_, err = ref.ElapseTo(at(93300000))
	require.NoError(t, err)

	// restored run picks up from the document with a fresh cursor
	res := newExchange(t, "backtest")
	require.NoError(t, res.AddData(code, replay.NewSliceCursor(events)))
	require.NoError(t, res.Restore(code, doc))
	cur, err := res.CurrentTime(code)
	require.NoError(t, err)
	assert.Equal(t, at(93100500), cur)

	_, err = res.ElapseTo(at(93300000))
	require.NoError(t, err)

	refOrders, err := ref.GetOrders(code)
	require.NoError(t, err)
	resOrders, err := res.GetOrders(code)
	require.NoError(t, err)
	require.Len(t, resOrders, 1)
	assert.Equal(t, uid, resOrders[0].ID)
	assert.Equal(t, refOrders[0].Status, resOrders[0].Status)
	assert.Equal(t, refOrders[0].FilledQty, resOrders[0].FilledQty)

	refBook, resBook := ref.brokers[code].Depth(), res.brokers[code].Depth()
	assert.Equal(t, refBook.Levels(orderbook.Buy, 0), resBook.Levels(orderbook.Buy, 0))
	assert.Equal(t, refBook.Levels(orderbook.Sell, 0), resBook.Levels(orderbook.Sell, 0))
	assert.Equal(t, *refBook.Statistics(), *resBook.Statistics())

	resExecs, err := res.DrainExecutions(code)
	require.NoError(t, err)
	assert.Equal(t, want[2:], fills(resExecs), "only history after the snapshot replays")

	// new ids continue after restored ones
	next, err := res.SendOrder("u", code, at(93300000), decimal.RequireFromString("9.00"), 100, "B")
	require.NoError(t, err)
	assert.Greater(t, next, uid)
}

func TestExchange_RestoreRejects(t *testing.T) {
	e := newExchange(t, "backtest")
	assert.ErrorIs(t, e.Restore(code, []byte("{")), orderbook.ErrParse)

	other := newExchange(t, "live")
	doc, err := other.Snapshot(code)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Restore(code, doc), orderbook.ErrInvalidOrderRequest, "mode mismatch")
}

func TestImportHistory_ReplaysFromJournal(t *testing.T) {
	dir := t.TempDir()
	c := replay.NewCollator()
	events, want := sampleHistory(t)
	for _, ev := range events {
		if ev.IsCancel() {
			c.AddTrade(replay.TradeMsg{Seq: ev.Seq, BuyNo: ev.OrderID, Qty: ev.Vol, Time: ev.Timestamp, Cancel: true})
			continue
		}
		require.NoError(t, c.AddOrder(replay.OrderMsg{
			Seq: ev.Seq, OrderNo: ev.OrderID, Side: ev.Side, Type: ev.Type,
			PriceTick: ev.PriceTick, Qty: ev.Vol, Time: ev.Timestamp,
		}))
	}
	c.AddTrade(replay.TradeMsg{Seq: 4, BuyNo: 13, SellNo: 11, PriceTick: 1000, Qty: 10, Time: at(93100200)})
	c.AddTrade(replay.TradeMsg{Seq: 5, BuyNo: 13, SellNo: 12, PriceTick: 1001, Qty: 10, Time: at(93100200)})
	c.AddTrade(replay.TradeMsg{Seq: 9, BuyNo: 14, SellNo: 15, PriceTick: 998, Qty: 8, Time: at(93200100)})

	n, err := ImportHistory(journal.Config{Dir: dir}, c, nil)
	require.NoError(t, err)
	assert.Equal(t, len(events), n)

	again, err := ImportHistory(journal.Config{Dir: dir}, c, nil)
	require.NoError(t, err)
	assert.Zero(t, again, "already journaled")

	cursor, err := OpenHistory(dir)
	require.NoError(t, err)
	defer cursor.Close()

	e := newExchange(t, "backtest")
	require.NoError(t, e.AddData(code, cursor))
	_, err = e.ElapseTo(at(150100000))
	require.NoError(t, err)

	execs, err := e.DrainExecutions(code)
	require.NoError(t, err)
	assert.Equal(t, want, fills(execs))
}

func TestExchange_SaveSnapshots(t *testing.T) {
	events, _ := sampleHistory(t)
	e := newExchange(t, "backtest")
	require.NoError(t, e.AddData(code, replay.NewSliceCursor(events)))
	_, err := e.ElapseTo(at(93200000))
	require.NoError(t, err)

	store, err := snapshot.OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	seq, err := e.SaveSnapshots(store)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	ts, doc, err := store.Latest(code)
	require.NoError(t, err)
	assert.Equal(t, at(93200000), ts)

	st, err := snapshot.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.LatestSeq)
	assert.True(t, st.OpenDone)
}
