package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type quote struct {
	side Side
	tick int64
	vol  int64
}

func bookOf(t require.TestingT, mode Mode, qs ...quote) *MarketDepth {
	d := newDepth(mode)
	for i, q := range qs {
		place(t, d, LocalOrder, "", int64(i+1), q.side, q.tick, q.vol)
	}
	return d
}

func TestUncross_MaximisesMatchedVolume(t *testing.T) {
	d := bookOf(t, Live,
		quote{Buy, 102, 10}, quote{Buy, 101, 10},
		quote{Sell, 100, 10}, quote{Sell, 101, 10},
	)

	tick, vol, err := d.Uncross()
	require.NoError(t, err)
	assert.Equal(t, int64(101), tick)
	assert.Equal(t, int64(20), vol)
}

func TestUncross_MinimisesUnmatchedVolume(t *testing.T) {
	d := bookOf(t, Live,
		quote{Buy, 105, 10}, quote{Buy, 101, 10},
		quote{Sell, 100, 10}, quote{Sell, 103, 5},
	)

	tick, vol, err := d.Uncross()
	require.NoError(t, err)
	assert.Equal(t, int64(103), tick)
	assert.Equal(t, int64(10), vol)
}

func TestUncross_TieBreak(t *testing.T) {
	cases := []struct {
		name string
		qs   []quote
		want int64
	}{
		{"balanced takes middle", []quote{{Buy, 101, 10}, {Sell, 100, 10}}, 100},
		{"buy surplus takes highest", []quote{{Buy, 101, 20}, {Sell, 100, 10}}, 101},
		{"sell surplus takes lowest", []quote{{Buy, 101, 10}, {Sell, 100, 20}}, 100},
		{"balanced odd count", []quote{{Buy, 102, 10}, {Buy, 101, 0}, {Sell, 100, 10}}, 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := bookOf(t, Live, tc.qs...)
			tick, _, err := d.Uncross()
			require.NoError(t, err)
			assert.Equal(t, tc.want, tick)
		})
	}
}

func TestUncross_NoCross(t *testing.T) {
	_, _, err := newDepth(Live).Uncross()
	assert.ErrorIs(t, err, ErrNoCross)

	d := bookOf(t, Live, quote{Buy, 99, 10}, quote{Sell, 100, 10})
	_, _, err = d.Uncross()
	assert.ErrorIs(t, err, ErrNoCross)

	_, err = d.CallAuction()
	assert.ErrorIs(t, err, ErrNoCross)
	assert.Equal(t, int64(99), d.BestBidTick())
}

func TestCallAuction_Executes(t *testing.T) {
	for _, mode := range []Mode{Live, Backtest} {
		t.Run(mode.String(), func(t *testing.T) {
			d := bookOf(t, mode,
				quote{Buy, 102, 10}, quote{Buy, 101, 10}, quote{Buy, 99, 5},
				quote{Sell, 100, 10}, quote{Sell, 101, 10}, quote{Sell, 104, 5},
			)
			live := d.Arena().Live()

			res, err := d.CallAuction()
			require.NoError(t, err)
			assert.Equal(t, AuctionResult{Tick: 101, Vol: 20, Filled: 20}, res)
			assert.Equal(t, int64(101), d.LastTick())
			_, _, lastShadow := d.ShadowBest()
			assert.Equal(t, int64(101), lastShadow)
			assert.Equal(t, int64(99), d.BestBidTick())
			assert.Equal(t, int64(104), d.BestAskTick())
			assert.Equal(t, int64(20), d.Statistics().TotalVolume())
			assert.Equal(t, int64(2), d.Statistics().Trades)
			assert.Equal(t, []Execution{
				{Tick: 101, Qty: 10, TakerID: 1, TakerSource: LocalOrder, TakerSide: Buy, MakerID: 4, MakerSource: LocalOrder},
				{Tick: 101, Qty: 10, TakerID: 2, TakerSource: LocalOrder, TakerSide: Buy, MakerID: 5, MakerSource: LocalOrder},
			}, d.DrainTape())
			assert.Equal(t, live, d.Arena().Live(), "synthetic orders are released")
		})
	}
}

func TestCallAuction_CountsUserOrdersInBacktest(t *testing.T) {
	d := bookOf(t, Backtest, quote{Sell, 100, 10})
	place(t, d, UserOrder, "u", 1, Buy, 100, 4)

	res, err := d.CallAuction()
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Vol)
	_, ok := d.UserOrder(1)
	assert.False(t, ok)
	assert.Equal(t, int64(6), d.VolAtTick(Sell, 100))
}

func TestCallAuction_LeavesBookUncrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := newDepth(Mode(rapid.IntRange(0, 1).Draw(t, "mode")))
		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			src := SourceType(rapid.IntRange(0, 1).Draw(t, "src"))
			acct := ""
			if src == UserOrder {
				acct = rapid.SampledFrom([]string{"a", "b"}).Draw(t, "acct")
			}
			side := rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side")
			place(t, d, src, acct, int64(i+1), side, rapid.Int64Range(95, 105).Draw(t, "tick"), rapid.Int64Range(1, 30).Draw(t, "vol"))
		}

		tick1, vol1, err1 := d.Uncross()
		tick2, vol2, err2 := d.Uncross()
		require.Equal(t, err1, err2)
		require.Equal(t, tick1, tick2)
		require.Equal(t, vol1, vol2)
		if err1 != nil {
			require.ErrorIs(t, err1, ErrNoCross)
			return
		}

		res, err := d.CallAuction()
		require.NoError(t, err)
		require.Equal(t, res.Vol, res.Filled)
		require.Equal(t, res.Vol, d.Statistics().TotalVolume())
		var traded int64
		for _, ex := range d.DrainTape() {
			require.Equal(t, res.Tick, ex.Tick)
			traded += ex.Qty
		}
		require.Equal(t, res.Vol, traded)
		if d.BestBidTick() != InvalidMin && d.BestAskTick() != InvalidMax {
			require.Less(t, d.BestBidTick(), d.BestAskTick())
		}
	})
}

func TestCallAuction_PairsPartialMakers(t *testing.T) {
	d := bookOf(t, Live,
		quote{Buy, 101, 6}, quote{Buy, 101, 4},
		quote{Sell, 100, 3}, quote{Sell, 101, 7},
	)

	res, err := d.CallAuction()
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Vol)
	assert.Equal(t, int64(10), d.Statistics().TotalVolume())
	assert.Equal(t, []fillPair{{1, 3, 3}, {1, 4, 3}, {2, 4, 4}}, pairsOf(d.DrainTape()))
	assert.Equal(t, int64(3), d.Statistics().Trades)
}

type fillPair struct{ buyer, seller, qty int64 }

func pairsOf(execs []Execution) []fillPair {
	out := make([]fillPair, 0, len(execs))
	for _, ex := range execs {
		out = append(out, fillPair{ex.TakerID, ex.MakerID, ex.Qty})
	}
	return out
}
